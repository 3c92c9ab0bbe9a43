package smpp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
)

// fakeConnection scripts IsConnected/Connect outcomes for the supervisor.
type fakeConnection struct {
	mu          sync.Mutex
	connected   bool
	connectErrs int // Connect fails this many times, then succeeds
	attempts    int
}

func (f *fakeConnection) IsConnected(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnection) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.connectErrs > 0 {
		f.connectErrs--
		return ErrConnectFailed
	}
	f.connected = true
	return nil
}

func (f *fakeConnection) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func supervisorFor(conn connection, maxAttempts int) *Supervisor {
	cfg := &config.Config{}
	cfg.Reconnect.BaseDelay = time.Millisecond
	cfg.Reconnect.MaxDelay = 8 * time.Millisecond
	cfg.Reconnect.PollInterval = 5 * time.Millisecond
	cfg.Reconnect.MaxAttempts = maxAttempts
	return NewSupervisor(cfg, conn)
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := time.Second
	max := time.Minute

	var prev time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		d := backoffDelay(base, max, attempt)
		if d < prev {
			t.Errorf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > max {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, max)
		}
		prev = d
	}

	if got := backoffDelay(base, max, 0); got != base {
		t.Errorf("first delay = %v, want base %v", got, base)
	}
	if got := backoffDelay(base, max, 1); got != 2*time.Second {
		t.Errorf("second delay = %v, want %v", got, 2*time.Second)
	}
	if got := backoffDelay(base, max, 10); got != max {
		t.Errorf("capped delay = %v, want %v", got, max)
	}
	// Huge attempt counts must not overflow into a negative delay.
	if got := backoffDelay(base, max, 64); got != max {
		t.Errorf("huge attempt delay = %v, want cap", got)
	}
}

func TestBackoffRestartsAfterSuccess(t *testing.T) {
	conn := &fakeConnection{connectErrs: 2}
	s := supervisorFor(conn, 0)

	// reconnect() restarts its attempt counter on every invocation, which
	// is what resets the schedule after a successful rebind.
	if err := s.reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect() error: %v", err)
	}
	if conn.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3 (two failures, one success)", conn.attemptCount())
	}

	conn.mu.Lock()
	conn.connected = false
	conn.connectErrs = 1
	conn.mu.Unlock()
	if err := s.reconnect(context.Background()); err != nil {
		t.Fatalf("second reconnect() error: %v", err)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	conn := &fakeConnection{connectErrs: 1 << 30}
	s := supervisorFor(conn, 3)

	err := s.reconnect(context.Background())
	if err == nil {
		t.Fatal("reconnect() should give up with a bounded retry budget")
	}
	if conn.attemptCount() != 3 {
		t.Errorf("attempts = %d, want exactly 3", conn.attemptCount())
	}
}

func TestSupervisorReportsFatal(t *testing.T) {
	conn := &fakeConnection{connectErrs: 1 << 30}
	s := supervisorFor(conn, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case err := <-s.Fatal():
		if err == nil {
			t.Error("fatal error is nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reported a fatal error")
	}
	cancel()
	s.wg.Wait()
}

func TestSupervisorRecoversConnection(t *testing.T) {
	conn := &fakeConnection{connectErrs: 1}
	s := supervisorFor(conn, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for !conn.IsConnected(ctx) {
		select {
		case <-deadline:
			t.Fatal("supervisor never restored the connection")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if conn.attemptCount() < 2 {
		t.Errorf("attempts = %d, want at least 2", conn.attemptCount())
	}
}

func TestSupervisorStopWhileHealthy(t *testing.T) {
	conn := &fakeConnection{connected: true}
	s := supervisorFor(conn, 0)

	s.Start(context.Background())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
