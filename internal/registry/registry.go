// Package registry tracks when each session id was first seen. The data is
// used for log context only; sessions are correlated per exchange and never
// expire for the lifetime of the process.
package registry

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type Registry struct {
	firstSeen cmap.ConcurrentMap[string, time.Time]
}

func New() *Registry {
	return &Registry{firstSeen: cmap.New[time.Time]()}
}

// Touch records the session if it is new and reports its first-seen time
// along with whether this call created it.
func (r *Registry) Touch(sessionID string) (time.Time, bool) {
	now := time.Now()
	created := r.firstSeen.SetIfAbsent(sessionID, now)
	if created {
		return now, true
	}
	ts, _ := r.firstSeen.Get(sessionID)
	return ts, false
}

// Count returns the number of distinct sessions seen so far.
func (r *Registry) Count() int {
	return r.firstSeen.Count()
}
