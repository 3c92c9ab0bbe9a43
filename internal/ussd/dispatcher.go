package ussd

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
	"github.com/thrillee/ussdbox/internal/logging"
	"github.com/thrillee/ussdbox/internal/registry"
)

// Dispatcher runs inbound events through the session pipeline on a bounded
// worker pool, so a slow backend call never stalls the wire read path. When
// the queue is full the event is dropped and logged; there is no unbounded
// buffering anywhere between the wire and the backend.
type Dispatcher struct {
	correlator  *Correlator
	registry    *registry.Registry
	bridge      *Bridge
	encoder     *Encoder
	submitter   Submitter
	serviceCode string
	workers     int

	queue  chan InboundEvent
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(cfg *config.Config, correlator *Correlator, reg *registry.Registry, bridge *Bridge, encoder *Encoder, submitter Submitter) *Dispatcher {
	return &Dispatcher{
		correlator:  correlator,
		registry:    reg,
		bridge:      bridge,
		encoder:     encoder,
		submitter:   submitter,
		serviceCode: cfg.SMPP.ServiceCode,
		workers:     cfg.Dispatch.Workers,
		queue:       make(chan InboundEvent, cfg.Dispatch.QueueSize),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.InfoContext(ctx, "Starting inbound dispatcher",
		slog.Int("workers", d.workers), slog.Int("queue_size", cap(d.queue)))
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(logging.ContextWithWorkerID(ctx, i), i)
	}
}

// Dispatch hands an event to the pool. It never blocks: a saturated queue
// drops the event, which is reported to the caller and logged.
func (d *Dispatcher) Dispatch(ev InboundEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		slog.Warn("Dispatch queue full, dropping inbound event",
			slog.String("msisdn", ev.Source), slog.Int("queue_size", cap(d.queue)))
		return false
	}
}

// Shutdown stops intake and waits up to grace for in-flight work; whatever
// is still running after that is abandoned.
func (d *Dispatcher) Shutdown(grace time.Duration) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Dispatcher drained")
	case <-time.After(grace):
		slog.Warn("Dispatcher shutdown grace period elapsed, abandoning in-flight work")
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.process(ctx, ev)
	}
	slog.DebugContext(ctx, "Dispatcher worker stopped", slog.Int("worker", id))
}

// process runs one event through the full pipeline. Every failure is
// contained here: it is logged with the subscriber and session identifiers
// and the response for this one event is dropped, nothing more.
func (d *Dispatcher) process(ctx context.Context, ev InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic in dispatch pipeline",
				slog.Any("panic", r), slog.String("msisdn", ev.Source))
		}
	}()

	if strings.TrimSpace(ev.Text) == "" {
		slog.DebugContext(ctx, "Ignoring inbound event with empty payload", slog.String("msisdn", ev.Source))
		return
	}

	logCtx := logging.ContextWithMSISDN(ctx, ev.Source)

	sessionID := d.correlator.Extract(ev)
	logCtx = logging.ContextWithSessionID(logCtx, sessionID)

	firstSeen, isNew := d.registry.Touch(sessionID)
	slog.InfoContext(logCtx, "Processing subscriber input",
		slog.String("input", ev.Text),
		slog.Bool("new_session", isNew),
		slog.Time("first_seen", firstSeen))

	reply, err := d.bridge.Invoke(logCtx, ev.Source, sessionID, ev.Text)
	if err != nil {
		// Fallback text already substituted; log and keep going.
		slog.WarnContext(logCtx, "Backend call failed, using fallback reply", slog.Any("error", err))
	}

	frame := d.encoder.Encode(reply, sessionID, d.serviceCode, ev.Source)

	msgID, err := d.submitter.Submit(logCtx, frame)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to submit reply", slog.Any("error", err),
			slog.String("flag", frame.Flag.String()))
		return
	}
	slog.InfoContext(logCtx, "Reply submitted",
		slog.String("message_id", msgID), slog.String("flag", frame.Flag.String()))
}
