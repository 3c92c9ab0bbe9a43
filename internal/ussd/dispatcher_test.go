package ussd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
	"github.com/thrillee/ussdbox/internal/registry"
)

// fakeSubmitter records submitted frames and signals each one.
type fakeSubmitter struct {
	mu     sync.Mutex
	frames []OutboundFrame
	err    error
	seen   chan OutboundFrame
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{seen: make(chan OutboundFrame, 16)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, frame OutboundFrame) (string, error) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	err := f.err
	f.mu.Unlock()
	f.seen <- frame
	if err != nil {
		return "", err
	}
	return "1", nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func dispatcherFixture(t *testing.T, backend http.HandlerFunc, workers, queue int) (*Dispatcher, *fakeSubmitter) {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	cfg := &config.Config{}
	cfg.SMPP.ServiceCode = "*123#"
	cfg.Backend.ProcessURL = server.URL
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Backend.FallbackMessage = testFallback
	cfg.Dispatch.Workers = workers
	cfg.Dispatch.QueueSize = queue
	cfg.Session.IDPolicy = config.SessionPolicySentinel

	sub := newFakeSubmitter()
	d := NewDispatcher(cfg, NewCorrelator(cfg), registry.New(), NewBridge(cfg), NewEncoder(), sub)
	return d, sub
}

func waitFrame(t *testing.T, sub *fakeSubmitter) OutboundFrame {
	t.Helper()
	select {
	case frame := <-sub.seen:
		return frame
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a submitted frame")
		return OutboundFrame{}
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	d, sub := dispatcherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("END Bye"))
	}, 2, 4)
	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	if !d.Dispatch(InboundEvent{Source: "250788123456", Dest: "*123#", Text: "1"}) {
		t.Fatal("Dispatch() rejected the event")
	}

	frame := waitFrame(t, sub)
	if frame.Flag != End {
		t.Errorf("flag = %v, want End", frame.Flag)
	}
	if frame.Text != "Bye" {
		t.Errorf("text = %q, want %q", frame.Text, "Bye")
	}
	if frame.SessionID != NoSession {
		t.Errorf("session id = %q, want sentinel", frame.SessionID)
	}
	if _, ok := frame.Params.Get(TagItsSessionInfo); ok {
		t.Error("no-session frame should carry no session tag")
	}
	if frame.Source != "*123#" || frame.Dest != "250788123456" {
		t.Errorf("addressing = %q -> %q", frame.Source, frame.Dest)
	}
}

func TestDispatchBackendDownStillReplies(t *testing.T) {
	d, sub := dispatcherFixture(t, nil, 1, 2)
	// Point the bridge at a dead endpoint.
	cfg := &config.Config{}
	cfg.Backend.ProcessURL = "http://127.0.0.1:1/ussd"
	cfg.Backend.Timeout = time.Second
	cfg.Backend.FallbackMessage = testFallback
	d.bridge = NewBridge(cfg)

	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	d.Dispatch(InboundEvent{Source: "250788123456", Text: "1"})
	frame := waitFrame(t, sub)
	if frame.Text != testFallback {
		t.Errorf("text = %q, want fallback", frame.Text)
	}
	if frame.Flag != Continue {
		t.Errorf("flag = %v, fallback should not end the session", frame.Flag)
	}
}

func TestDispatchSubmitErrorIsContained(t *testing.T) {
	d, sub := dispatcherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, 1, 2)
	sub.err = errors.New("session not bound")

	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	// Both events must be processed; the first failure must not kill the worker.
	d.Dispatch(InboundEvent{Source: "250788000001", Text: "1"})
	waitFrame(t, sub)
	d.Dispatch(InboundEvent{Source: "250788000002", Text: "2"})
	waitFrame(t, sub)

	if sub.count() != 2 {
		t.Errorf("submit attempts = %d, want 2", sub.count())
	}
}

func TestDispatchIgnoresEmptyPayload(t *testing.T) {
	d, sub := dispatcherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, 1, 2)
	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	d.Dispatch(InboundEvent{Source: "250788123456", Text: "   "})
	d.Dispatch(InboundEvent{Source: "250788123456", Text: "1"})

	frame := waitFrame(t, sub)
	if frame.Text != "ok" {
		t.Errorf("text = %q; blank payload should have been skipped", frame.Text)
	}
	if sub.count() != 1 {
		t.Errorf("submit attempts = %d, want 1", sub.count())
	}
}

func TestDispatchQueueSaturationDrops(t *testing.T) {
	d, _ := dispatcherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, 1, 1)
	// Pool never started: the queue holds one event, the rest must be dropped.

	if !d.Dispatch(InboundEvent{Source: "1", Text: "1"}) {
		t.Fatal("first event should be queued")
	}
	if d.Dispatch(InboundEvent{Source: "2", Text: "2"}) {
		t.Error("saturated queue should drop, not block")
	}
}

func TestDispatchAfterShutdownRejected(t *testing.T) {
	d, _ := dispatcherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, 1, 2)
	d.Start(context.Background())
	d.Shutdown(time.Second)

	if d.Dispatch(InboundEvent{Source: "1", Text: "1"}) {
		t.Error("dispatch after shutdown should be rejected")
	}
}
