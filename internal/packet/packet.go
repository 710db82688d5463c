// Package packet implements the wire format shared by every transfer: data
// frames, acknowledgements and the handshake/control literals.
//
// A data frame is the ASCII header "SEQ:<seq>|TOTAL:<total>|DATA:" followed by
// the raw chunk bytes. Everything else on the wire is a short ASCII control
// message. Classify is the single place where a datagram is told apart.
package packet

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	seqPrefix   = "SEQ:"
	totalMarker = "|TOTAL:"
	dataMarker  = "|DATA:"
)

// Frame is one decoded data frame.
type Frame struct {
	Seq     int
	Total   int
	Payload []byte
}

// DecodeError reports a datagram that looked like a frame but could not be parsed.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "malformed frame: " + e.Reason
}

// Encode builds the wire representation of a frame.
func Encode(seq, total int, payload []byte) []byte {
	header := fmt.Sprintf("SEQ:%d|TOTAL:%d|DATA:", seq, total)
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// Decode parses a frame. The payload is copied so the caller may reuse b.
func Decode(b []byte) (Frame, error) {
	idx := bytes.Index(b, []byte(dataMarker))
	if idx < 0 {
		return Frame{}, &DecodeError{Reason: "missing DATA marker"}
	}
	header := b[:idx]
	if !bytes.HasPrefix(header, []byte(seqPrefix)) {
		return Frame{}, &DecodeError{Reason: "missing SEQ field"}
	}
	header = header[len(seqPrefix):]
	t := bytes.Index(header, []byte(totalMarker))
	if t < 0 {
		return Frame{}, &DecodeError{Reason: "missing TOTAL field"}
	}
	seq, err := parseCount(header[:t])
	if err != nil {
		return Frame{}, &DecodeError{Reason: "bad SEQ: " + err.Error()}
	}
	total, err := parseCount(header[t+len(totalMarker):])
	if err != nil {
		return Frame{}, &DecodeError{Reason: "bad TOTAL: " + err.Error()}
	}
	payload := make([]byte, len(b)-idx-len(dataMarker))
	copy(payload, b[idx+len(dataMarker):])
	return Frame{Seq: seq, Total: total, Payload: payload}, nil
}

func parseCount(b []byte) (int, error) {
	n, err := parseDecimal(b)
	return int(n), err
}

// parseDecimal accepts only the canonical form Itoa produces for a
// non-negative number: digits, no sign, no leading zeros.
func parseDecimal(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty number")
	}
	if len(b) > 1 && b[0] == '0' {
		return 0, fmt.Errorf("leading zero in %q", b)
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a decimal number: %q", b)
		}
	}
	return strconv.ParseInt(string(b), 10, 64)
}
