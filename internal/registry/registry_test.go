package registry

import (
	"sync"
	"testing"
)

func TestTouchFirstSeen(t *testing.T) {
	r := New()

	first, created := r.Touch("42")
	if !created {
		t.Fatal("first Touch should create the session")
	}
	again, created := r.Touch("42")
	if created {
		t.Error("second Touch should not create")
	}
	if !again.Equal(first) {
		t.Errorf("first-seen changed: %v -> %v", first, again)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestTouchConcurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Touch("same")
		}()
	}
	wg.Wait()
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}
