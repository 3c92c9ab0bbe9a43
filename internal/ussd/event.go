// Package ussd implements the interactive-session pipeline between the SMPP
// wire and the menu backend: inbound event dispatch, session correlation,
// the backend call, and continue/end response framing.
package ussd

import (
	"context"

	"github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/ussdbox/pkg/tlv"
)

// NoSession is the session id used when an inbound event carries no session
// token and the sentinel policy is active. Frames with this id are submitted
// without a session tag.
const NoSession = "0"

// Wire values for the optional parameters the gateway reads and writes. The
// tag numbers come from the protocol library's registry so they match the
// peer bit for bit.
var (
	TagItsSessionInfo = uint16(pdu.TagItsSessionInfo)
	TagUssdServiceOp  = uint16(pdu.TagUssdServiceOp)
)

// Flag marks whether the interactive session stays open after a reply.
// The values are the ussd_service_op codes sent on the wire.
type Flag byte

const (
	Continue Flag = 0x02
	End      Flag = 0x11
)

func (f Flag) String() string {
	if f == End {
		return "end"
	}
	return "continue"
}

// InboundEvent is one received subscriber message. It is immutable once
// received and consumed by exactly one dispatcher worker.
type InboundEvent struct {
	Source string // subscriber MSISDN
	Dest   string // service code the subscriber dialled
	Text   string
	Params tlv.Params
}

// OutboundFrame is the reply to submit for one InboundEvent.
type OutboundFrame struct {
	Source    string
	Dest      string
	Text      string
	SessionID string
	Flag      Flag
	Params    tlv.Params
}

// Submitter sends an OutboundFrame to the peer. Implemented by the SMPP
// connection controller.
type Submitter interface {
	Submit(ctx context.Context, frame OutboundFrame) (string, error)
}
