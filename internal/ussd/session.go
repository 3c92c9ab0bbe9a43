package ussd

import (
	"github.com/google/uuid"

	"github.com/thrillee/ussdbox/internal/config"
)

// Correlator maps an inbound event to its logical session id.
//
// When the event carries an its_session_info parameter the token is used
// verbatim: printable text as-is, binary tokens rendered as a big-endian
// decimal string. When the token is absent the configured policy decides
// between the fixed NoSession sentinel and a freshly generated id.
type Correlator struct {
	policy string
}

func NewCorrelator(cfg *config.Config) *Correlator {
	return &Correlator{policy: cfg.Session.IDPolicy}
}

// Extract returns the session id for ev.
func (c *Correlator) Extract(ev InboundEvent) string {
	if p, ok := ev.Params.Get(TagItsSessionInfo); ok {
		if id := p.Text(); id != "" {
			return id
		}
	}
	if c.policy == config.SessionPolicyGenerate {
		return uuid.New().String()
	}
	return NoSession
}
