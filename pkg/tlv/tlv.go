// Package tlv implements encoding and decoding of SMPP optional parameters
// (tag/length/value triples). Decoding is deliberately tolerant: peers on
// USSD links are known to send truncated or vendor-specific parameters, and
// one malformed record must never poison the rest of the PDU.
package tlv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"unicode/utf8"
)

// Param is a single optional parameter.
type Param struct {
	Tag  uint16
	Data []byte
}

// Params is an ordered set of optional parameters.
type Params []Param

// Get returns the first parameter with the given tag.
func (ps Params) Get(tag uint16) (Param, bool) {
	for _, p := range ps {
		if p.Tag == tag {
			return p, true
		}
	}
	return Param{}, false
}

// Decode walks buf as a sequence of tag(2)/length(2)/value triples, all
// big-endian. It consumes as many well-formed records as it can, unknown
// tags included, and stops cleanly at the first truncated one. The second
// return value is the unconsumed tail; a non-empty tail means the stream
// was malformed, never an error for the caller.
func Decode(buf []byte) (Params, []byte) {
	var params Params
	pos := 0
	for pos+4 <= len(buf) {
		tag := binary.BigEndian.Uint16(buf[pos:])
		length := int(binary.BigEndian.Uint16(buf[pos+2:]))
		if pos+4+length > len(buf) {
			break
		}
		data := make([]byte, length)
		copy(data, buf[pos+4:pos+4+length])
		params = append(params, Param{Tag: tag, Data: data})
		pos += 4 + length
	}
	return params, buf[pos:]
}

// Encode serializes params in order.
func Encode(ps Params) []byte {
	var out bytes.Buffer
	for _, p := range ps {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[:2], p.Tag)
		binary.BigEndian.PutUint16(hdr[2:], uint16(len(p.Data)))
		out.Write(hdr[:])
		out.Write(p.Data)
	}
	return out.Bytes()
}

// Text renders the parameter value as a string. Printable UTF-8 is used
// verbatim (trailing NULs stripped); short binary values are read as a
// big-endian unsigned integer and rendered in decimal, matching the two
// session-token shapes seen on live links. Anything else comes back hex
// encoded so it is at least loggable.
func (p Param) Text() string {
	data := bytes.TrimRight(p.Data, "\x00")
	if len(data) == 0 {
		return ""
	}
	if isPrintable(data) {
		return string(data)
	}
	if len(p.Data) <= 8 {
		var v uint64
		for _, b := range p.Data {
			v = v<<8 | uint64(b)
		}
		return strconv.FormatUint(v, 10)
	}
	return hex.EncodeToString(p.Data)
}

func isPrintable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
