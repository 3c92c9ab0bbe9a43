package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/ussdbox/internal/config"
	"github.com/thrillee/ussdbox/internal/logging"
	"github.com/thrillee/ussdbox/internal/ussd"
	"github.com/thrillee/ussdbox/pkg/tlv"
)

// gosmppSession adapts a gosmpp transceiver session to wireSession.
type gosmppSession struct {
	sess *gosmpp.Session
}

func (s *gosmppSession) Submit(p pdu.PDU) error {
	return s.sess.Transceiver().Submit(p)
}

func (s *gosmppSession) Close() error {
	return s.sess.Close()
}

// newGosmppSession dials, binds a transceiver and wires the library's
// callbacks into the connector hooks. Auto-rebind stays disabled: the
// reconnection supervisor owns recovery, never the library.
func newGosmppSession(ctx context.Context, cfg *config.SMPPConfig, hooks sessionHooks) (wireSession, error) {
	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		SystemID:   cfg.SystemID,
		Password:   cfg.Password,
		SystemType: cfg.SystemType,
	}

	settings := gosmpp.Settings{
		EnquireLink:  cfg.EnquireLink,
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         uint8(cfg.MaxWindowSize),
			PduExpireTimeOut:      cfg.RequestTimeout,
			ExpireCheckTimer:      5 * time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  handleReceivedPduRequest(hooks),
			OnExpectedPduResponse: handleExpectedPduResponse(hooks),
			OnExpiredPduRequest:   handleExpiredPduRequest(hooks),
			OnClosePduRequest:     handleClosePduRequest(hooks),
		},

		OnSubmitError: func(p pdu.PDU, err error) {
			slog.Warn("Submit error from protocol library",
				slog.Any("error", err), slog.Int("seq", int(p.GetSequenceNumber())))
		},
		OnReceivingError: func(err error) {
			slog.Error("Receiving error on SMPP session", slog.Any("error", err))
		},
		OnRebindingError: func(err error) {
			slog.Error("Unexpected rebind attempt by protocol library", slog.Any("error", err))
		},
		OnClosed: func(state gosmpp.State) {
			hooks.onClosed(state.String())
		},
	}

	sess, err := gosmpp.NewSession(gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth), settings, 0)
	if err != nil {
		return nil, err
	}
	return &gosmppSession{sess: sess}, nil
}

// handleReceivedPduRequest handles PDUs initiated by the peer. Deliver
// events are converted and handed to the dispatcher via the inbound hook;
// everything else is acknowledged and logged.
func handleReceivedPduRequest(hooks sessionHooks) func(pdu.PDU) (pdu.PDU, bool) {
	return func(p pdu.PDU) (resp pdu.PDU, closed bool) {
		logCtx := logging.ContextWithPDUInfo(context.Background(),
			p.GetHeader().CommandID.String(), p.GetSequenceNumber())

		switch pd := p.(type) {
		case *pdu.DeliverSM:
			hooks.onInbound(inboundEventFromDeliver(logCtx, pd))
			return pd.GetResponse(), false

		case *pdu.EnquireLink:
			slog.DebugContext(logCtx, "Received EnquireLink from peer")
			return pd.GetResponse(), false

		case *pdu.Unbind:
			slog.InfoContext(logCtx, "Received Unbind request from peer")
			hooks.onClosed("peer requested unbind")
			return pd.GetResponse(), false

		default:
			slog.WarnContext(logCtx, "Received unexpected PDU type from peer")
		}
		return nil, false
	}
}

// inboundEventFromDeliver extracts the subscriber input and optional
// parameters from a deliver_sm.
func inboundEventFromDeliver(ctx context.Context, pd *pdu.DeliverSM) ussd.InboundEvent {
	ev := ussd.InboundEvent{
		Source: pd.SourceAddr.Address(),
		Dest:   pd.DestAddr.Address(),
	}

	text, err := pd.Message.GetMessage()
	if err != nil {
		slog.WarnContext(ctx, "Failed to decode deliver_sm short message",
			slog.Any("error", err), slog.String("msisdn", ev.Source))
	}
	ev.Text = text

	params := make(tlv.Params, 0, len(pd.OptionalParameters))
	for tag, field := range pd.OptionalParameters {
		params = append(params, tlv.Param{Tag: uint16(tag), Data: field.Data})
	}
	ev.Params = params

	// Some peers put the input in message_payload instead of the short
	// message field.
	if ev.Text == "" {
		if payload, ok := params.Get(uint16(pdu.TagMessagePayload)); ok {
			ev.Text = string(payload.Data)
		}
	}

	slog.InfoContext(ctx, "Received deliver_sm",
		slog.String("msisdn", ev.Source),
		slog.String("dest", ev.Dest),
		slog.Int("optional_params", len(params)))
	return ev
}

// handleExpectedPduResponse handles responses to our own requests.
func handleExpectedPduResponse(hooks sessionHooks) func(gosmpp.Response) {
	return func(response gosmpp.Response) {
		reqPDU := response.OriginalRequest.PDU
		logCtx := logging.ContextWithPDUInfo(context.Background(),
			reqPDU.GetHeader().CommandID.String(), reqPDU.GetSequenceNumber())

		switch resp := response.PDU.(type) {
		case *pdu.SubmitSMResp:
			status := resp.CommandStatus
			hooks.onSubmitResp(reqPDU.GetSequenceNumber(), resp.MessageID,
				status == data.ESME_ROK, status.String())

		case *pdu.EnquireLinkResp:
			slog.DebugContext(logCtx, "Received EnquireLinkResp")

		case *pdu.UnbindResp:
			slog.InfoContext(logCtx, "Received UnbindResp")

		default:
			slog.WarnContext(logCtx, "Received unexpected response PDU type")
		}
	}
}

// handleExpiredPduRequest handles requests that timed out with no response.
// An expired enquire_link means the link is stale.
func handleExpiredPduRequest(hooks sessionHooks) func(pdu.PDU) bool {
	return func(p pdu.PDU) bool {
		switch p.(type) {
		case *pdu.SubmitSM:
			hooks.onExpired(p.GetSequenceNumber())
			return false
		case *pdu.EnquireLink:
			slog.Error("EnquireLink expired, connection stale")
			hooks.onClosed("enquire_link expired")
			return true
		}
		return false
	}
}

// handleClosePduRequest handles requests still pending when the session
// closed; treated like expiry.
func handleClosePduRequest(hooks sessionHooks) func(pdu.PDU) {
	return func(p pdu.PDU) {
		if _, ok := p.(*pdu.SubmitSM); ok {
			hooks.onExpired(p.GetSequenceNumber())
		}
	}
}
