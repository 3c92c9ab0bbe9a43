package ussd

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/thrillee/ussdbox/pkg/tlv"
)

// Encoder frames backend replies into OutboundFrames: continue/end
// detection, single-byte text sanitation and optional-parameter selection.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode builds the frame for one reply. A reply whose first three
// characters spell "END" (any case) closes the session; the prefix and any
// whitespace right after it are stripped before transmission.
func (e *Encoder) Encode(replyText, sessionID, source, dest string) OutboundFrame {
	flag := Continue
	text := replyText
	if len(text) >= 3 && strings.EqualFold(text[:3], "END") {
		flag = End
		text = strings.TrimLeft(text[3:], " \t\r\n")
	}

	frame := OutboundFrame{
		Source:    source,
		Dest:      dest,
		Text:      sanitize(text),
		SessionID: sessionID,
		Flag:      flag,
	}
	if sessionID != NoSession && sessionID != "" {
		frame.Params = append(frame.Params, tlv.Param{
			Tag:  TagItsSessionInfo,
			Data: sessionTokenBytes(sessionID),
		})
	}
	frame.Params = append(frame.Params, tlv.Param{
		Tag:  TagUssdServiceOp,
		Data: []byte{byte(flag)},
	})
	return frame
}

// sessionTokenBytes restores the wire form of the session token. Binary
// inbound tokens are carried through the pipeline as their big-endian
// decimal rendering, so a numeric id goes back out as a 4-byte big-endian
// value and the peer sees the exact bytes it sent. Non-numeric ids are sent
// as their ASCII bytes.
func sessionTokenBytes(sessionID string) []byte {
	if v, err := strconv.ParseUint(sessionID, 10, 32); err == nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return b[:]
	}
	return []byte(sessionID)
}

// sanitize drops every character outside the single-byte range used on the
// wire. Lossy but never fatal.
func sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
