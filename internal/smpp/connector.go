// Package smpp owns the wire side of the gateway: the single bound SMPP
// session, its state machine, and the reconnection supervisor.
package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/thrillee/ussdbox/internal/config"
	"github.com/thrillee/ussdbox/internal/ussd"
	"github.com/thrillee/ussdbox/pkg/codes"
)

// Compile-time check
var _ ussd.Submitter = (*Connector)(nil)

// wireSession is the slice of the protocol library the connector uses.
// Production sessions are created by the gosmpp factory in session.go.
type wireSession interface {
	Submit(p pdu.PDU) error
	Close() error
}

// sessionHooks receive the asynchronous events a live session produces.
type sessionHooks struct {
	onInbound    func(ev ussd.InboundEvent)
	onSubmitResp func(seq int32, messageID string, ok bool, status string)
	onExpired    func(seq int32)
	onClosed     func(reason string)
}

// sessionFactory establishes and binds a new wire session.
type sessionFactory func(ctx context.Context, cfg *config.SMPPConfig, hooks sessionHooks) (wireSession, error)

// pendingSubmit correlates a submitted PDU with its eventual response.
type pendingSubmit struct {
	msisdn      string
	sessionID   string
	submittedAt time.Time
}

// Connector owns the one live connection. All transitions and the session
// handle swap are serialized by a single mutex; the state itself is kept in
// an atomic so the library's callbacks can flip it without taking the lock.
type Connector struct {
	cfg        *config.Config
	newSession sessionFactory
	handler    func(ussd.InboundEvent)

	mu      sync.Mutex // guards session handle and initiated transitions
	session wireSession
	state   atomic.Value // status string from pkg/codes
	gen     atomic.Int64 // bumped when a session handle is released

	pending cmap.ConcurrentMap[string, pendingSubmit]
}

// NewConnector creates an unconnected controller. handler receives every
// inbound deliver event; it must not block.
func NewConnector(cfg *config.Config, handler func(ussd.InboundEvent)) *Connector {
	c := &Connector{
		cfg:        cfg,
		newSession: newGosmppSession,
		handler:    handler,
		pending:    cmap.New[pendingSubmit](),
	}
	c.state.Store(codes.StatusClosed)
	return c
}

// State returns the current connection state.
func (c *Connector) State() string {
	return c.state.Load().(string)
}

// Connect tears down any existing session, then establishes and binds a new
// one. It never panics past this boundary; callers get an error value.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.closeSessionLocked(ctx)
	}

	c.state.Store(codes.StatusConnecting)
	slog.InfoContext(ctx, "Connecting and binding SMPP session",
		slog.String("host", c.cfg.SMPP.Server),
		slog.Int("port", c.cfg.SMPP.Port),
		slog.String("system_id", c.cfg.SMPP.SystemID),
		slog.String("system_type", c.cfg.SMPP.SystemType))

	gen := c.gen.Load()
	sess, err := c.newSession(ctx, &c.cfg.SMPP, sessionHooks{
		onInbound:    c.handleInbound,
		onSubmitResp: c.handleSubmitResp,
		onExpired:    c.handleExpired,
		onClosed: func(reason string) {
			c.markDisconnected(gen, reason)
		},
	})
	if err != nil {
		c.state.Store(codes.StatusDisconnected)
		slog.ErrorContext(ctx, "SMPP session establishment failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	c.session = sess
	c.state.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP session established and bound")
	return nil
}

// Disconnect unbinds and closes the session, best effort. The session
// handle is released regardless of close errors.
func (c *Connector) Disconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSessionLocked(ctx)
	c.state.Store(codes.StatusClosed)
}

func (c *Connector) closeSessionLocked(ctx context.Context) {
	if c.session == nil {
		return
	}
	c.state.Store(codes.StatusUnbinding)
	if err := c.session.Close(); err != nil {
		slog.WarnContext(ctx, "Error during SMPP session close", slog.Any("error", err))
	} else {
		slog.InfoContext(ctx, "SMPP session closed")
	}
	c.session = nil
	c.gen.Add(1) // callbacks from the released session are now stale
	c.state.Store(codes.StatusDisconnected)
}

// IsConnected reports whether the session is bound AND alive. Liveness is
// probed with an enquire_link; a failed probe flips the state to
// disconnected so the supervisor reacts even when the read side looks idle.
func (c *Connector) IsConnected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != codes.StatusBound || c.session == nil {
		return false
	}
	if err := c.session.Submit(pdu.NewEnquireLink()); err != nil {
		slog.WarnContext(ctx, "Liveness probe failed", slog.Any("error", err))
		c.state.Store(codes.StatusDisconnected)
		return false
	}
	return true
}

// Submit sends one outbound frame. It fails fast with ErrNotConnected when
// the session is not bound and never touches the transport in that case. A
// connection-reset class of send error flips the state to disconnected.
func (c *Connector) Submit(ctx context.Context, frame ussd.OutboundFrame) (string, error) {
	c.mu.Lock()
	sess := c.session
	gen := c.gen.Load()
	bound := c.State() == codes.StatusBound
	c.mu.Unlock()

	if !bound || sess == nil {
		slog.DebugContext(ctx, "Rejecting submit, session not bound",
			slog.String("msisdn", frame.Dest),
			slog.String("error_code", codes.ErrorCodeNotConnected))
		return "", ErrNotConnected
	}

	p, err := c.buildSubmitSM(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	seq := p.GetSequenceNumber()
	c.pending.Set(seqKey(seq), pendingSubmit{
		msisdn:      frame.Dest,
		sessionID:   frame.SessionID,
		submittedAt: time.Now(),
	})

	if err := sess.Submit(p); err != nil {
		c.pending.Remove(seqKey(seq))
		slog.ErrorContext(ctx, "SubmitSM send failed",
			slog.Any("error", err),
			slog.String("error_code", codes.ErrorCodeSubmitFailed))
		if isConnectionError(err) {
			c.markDisconnected(gen, "submit: "+err.Error())
		}
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	slog.DebugContext(ctx, "SubmitSM sent, awaiting response", slog.Int("seq", int(seq)))
	return strconv.Itoa(int(seq)), nil
}

// buildSubmitSM frames the reply PDU: addresses, single-byte text and the
// selected optional parameters.
func (c *Connector) buildSubmitSM(frame ussd.OutboundFrame) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(c.cfg.SMPP.SourceAddrTON)
	srcAddr.SetNpi(c.cfg.SMPP.SourceAddrNPI)
	if err := srcAddr.SetAddress(frame.Source); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", frame.Source, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(c.cfg.SMPP.DestAddrTON)
	destAddr.SetNpi(c.cfg.SMPP.DestAddrNPI)
	if err := destAddr.SetAddress(frame.Dest); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", frame.Dest, err)
	}
	p.DestAddr = destAddr

	p.ServiceType = c.cfg.SMPP.ServiceType
	if err := p.Message.SetMessageWithEncoding(frame.Text, data.ASCII); err != nil {
		return nil, fmt.Errorf("failed to set message content: %w", err)
	}
	p.ProtocolID = 0
	p.RegisteredDelivery = 0
	p.ReplaceIfPresentFlag = 0
	p.EsmClass = 0

	for _, param := range frame.Params {
		p.RegisterOptionalParam(pdu.Field{Tag: pdu.Tag(param.Tag), Data: param.Data})
	}
	return p, nil
}

// markDisconnected flips the state without touching the session handle; the
// supervisor owns the subsequent teardown and reconnect. Called from the
// session's callbacks, so it must not take the connector mutex. gen is the
// generation the session was created under: a callback arriving after the
// session has been replaced must not disturb the fresh bind.
func (c *Connector) markDisconnected(gen int64, reason string) {
	if gen != c.gen.Load() {
		slog.Debug("Ignoring callback from a replaced session", slog.String("reason", reason))
		return
	}
	if c.State() == codes.StatusBound || c.State() == codes.StatusConnecting {
		c.state.Store(codes.StatusDisconnected)
		slog.Warn("SMPP session lost", slog.String("reason", reason))
	}
}

func (c *Connector) handleInbound(ev ussd.InboundEvent) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *Connector) handleSubmitResp(seq int32, messageID string, ok bool, status string) {
	job, loaded := c.pending.Pop(seqKey(seq))
	if !loaded {
		slog.Warn("SubmitSM response for unknown sequence number", slog.Int("seq", int(seq)))
		return
	}
	if ok {
		slog.Info("SubmitSM accepted by peer",
			slog.Int("seq", int(seq)),
			slog.String("peer_msg_id", messageID),
			slog.String("msisdn", job.msisdn),
			slog.String("session_id", job.sessionID))
		return
	}
	slog.Warn("SubmitSM rejected by peer",
		slog.Int("seq", int(seq)),
		slog.String("status", status),
		slog.String("msisdn", job.msisdn),
		slog.String("session_id", job.sessionID))
}

func (c *Connector) handleExpired(seq int32) {
	job, loaded := c.pending.Pop(seqKey(seq))
	if !loaded {
		return
	}
	slog.Warn("SubmitSM expired without response",
		slog.Int("seq", int(seq)),
		slog.String("msisdn", job.msisdn),
		slog.String("session_id", job.sessionID),
		slog.Duration("age", time.Since(job.submittedAt)),
		slog.String("error_code", codes.ErrorCodeMnoTimeout))
}

// PendingSubmits returns the number of submits still awaiting a response.
func (c *Connector) PendingSubmits() int {
	return c.pending.Count()
}

func seqKey(seq int32) string {
	return strconv.Itoa(int(seq))
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "broken pipe", "not connected", "use of closed", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
