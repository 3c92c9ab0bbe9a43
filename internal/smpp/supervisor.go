package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
)

// connection is the slice of the Connector the supervisor drives.
type connection interface {
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
}

// Supervisor watches the connection from its own goroutine and drives
// reconnection with capped exponential backoff. Depending on configuration
// it either retries forever (MaxAttempts == 0) or gives up after N
// consecutive failures and reports a fatal error; submits keep failing fast
// while an attempt is outstanding, nothing is queued.
type Supervisor struct {
	cfg  config.ReconnectConfig
	conn connection

	fatal  chan error
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSupervisor(cfg *config.Config, conn connection) *Supervisor {
	return &Supervisor{
		cfg:    cfg.Reconnect,
		conn:   conn,
		fatal:  make(chan error, 1),
		stopCh: make(chan struct{}),
	}
}

// Fatal delivers the give-up error when the retry budget is exhausted. The
// process owner is expected to treat it as terminal.
func (s *Supervisor) Fatal() <-chan error {
	return s.fatal
}

// Start launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) {
	slog.InfoContext(ctx, "Starting reconnect supervisor",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Duration("base_delay", s.cfg.BaseDelay),
		slog.Duration("max_delay", s.cfg.MaxDelay),
		slog.Int("max_attempts", s.cfg.MaxAttempts))
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop and waits for it to exit.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.conn.IsConnected(ctx) {
				continue
			}
			if err := s.reconnect(ctx); err != nil {
				select {
				case s.fatal <- err:
				default:
				}
				return
			}
		}
	}
}

// reconnect retries until the connection is bound again. The attempt
// counter starts at zero on every invocation, so a successful reconnect
// resets the backoff schedule.
func (s *Supervisor) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d consecutive reconnect attempts", attempt)
		}

		delay := backoffDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt)
		slog.WarnContext(ctx, "Connection down, scheduling reconnect",
			slog.Int("attempt", attempt+1), slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-time.After(delay):
		}

		if err := s.conn.Connect(ctx); err != nil {
			slog.ErrorContext(ctx, "Reconnect attempt failed",
				slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}

		slog.InfoContext(ctx, "Reconnection successful", slog.Int("attempts", attempt+1))
		return nil
	}
}

// backoffDelay is min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}
