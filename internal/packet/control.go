package packet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Protocol names the ARQ scheme used for one transfer.
type Protocol string

const (
	GBN Protocol = "GBN"
	SR  Protocol = "SR"
)

// ParseProtocol accepts the wire names case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(GBN):
		return GBN, nil
	case string(SR):
		return SR, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Kind classifies a datagram.
type Kind int

const (
	KindInvalid Kind = iota
	KindFrame
	KindAck
	KindEnd
	KindReady
	KindError
	KindOK
	KindDownload
	KindUploadGBN
	KindUploadSR
)

var kindNames = map[Kind]string{
	KindInvalid:   "INVALID",
	KindFrame:     "FRAME",
	KindAck:       "ACK",
	KindEnd:       "END",
	KindReady:     "READY",
	KindError:     "ERROR",
	KindOK:        "OK",
	KindDownload:  "DOWNLOAD",
	KindUploadGBN: "UPLOAD_GBN",
	KindUploadSR:  "UPLOAD_SR",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsRequest reports whether the kind opens a new session.
func (k Kind) IsRequest() bool {
	return k == KindDownload || k == KindUploadGBN || k == KindUploadSR
}

// Message is a classified datagram. Only the fields relevant to Kind are set.
type Message struct {
	Kind     Kind
	Frame    Frame
	Ack      int
	Name     string
	Reason   string
	Protocol Protocol
	Size     int64
	Err      error
}

const (
	endLiteral    = "END"
	readyLiteral  = "READY"
	ackPrefix     = "ACK:"
	errorPrefix   = "ERROR:"
	okPrefix      = "OK:"
	sizeMarker    = "|SIZE:"
	downloadToken = "DOWNLOAD:"
	requestToken  = "REQUEST:"
	uploadGBN     = "UPLOAD_GBN:"
	uploadSR      = "UPLOAD_SR:"
)

// Classify decides what a datagram is. Control literals and prefixes are
// tested before frame decoding; anything that is neither yields KindInvalid
// with Err describing why.
func Classify(b []byte) Message {
	switch string(b) {
	case endLiteral:
		return Message{Kind: KindEnd}
	case readyLiteral:
		return Message{Kind: KindReady}
	}

	switch {
	case bytes.HasPrefix(b, []byte(ackPrefix)):
		arg := b[len(ackPrefix):]
		if string(arg) == "-1" {
			return Message{Kind: KindAck, Ack: -1}
		}
		n, err := parseCount(arg)
		if err != nil {
			return Message{Kind: KindInvalid, Err: fmt.Errorf("bad ACK: %w", err)}
		}
		return Message{Kind: KindAck, Ack: n}
	case bytes.HasPrefix(b, []byte(errorPrefix)):
		return Message{Kind: KindError, Reason: string(b[len(errorPrefix):])}
	case bytes.HasPrefix(b, []byte(okPrefix)):
		return parseOK(b[len(okPrefix):])
	case bytes.HasPrefix(b, []byte(downloadToken)):
		return Message{Kind: KindDownload, Name: string(b[len(downloadToken):])}
	case bytes.HasPrefix(b, []byte(requestToken)):
		return Message{Kind: KindDownload, Name: string(b[len(requestToken):])}
	case bytes.HasPrefix(b, []byte(uploadGBN)):
		return Message{Kind: KindUploadGBN, Name: string(b[len(uploadGBN):]), Protocol: GBN}
	case bytes.HasPrefix(b, []byte(uploadSR)):
		return Message{Kind: KindUploadSR, Name: string(b[len(uploadSR):]), Protocol: SR}
	}

	f, err := Decode(b)
	if err != nil {
		return Message{Kind: KindInvalid, Err: err}
	}
	return Message{Kind: KindFrame, Frame: f}
}

func parseOK(rest []byte) Message {
	i := bytes.Index(rest, []byte(sizeMarker))
	if i < 0 {
		return Message{Kind: KindInvalid, Err: fmt.Errorf("OK without SIZE")}
	}
	proto, err := ParseProtocol(string(rest[:i]))
	if err != nil {
		return Message{Kind: KindInvalid, Err: err}
	}
	size, err := parseDecimal(rest[i+len(sizeMarker):])
	if err != nil {
		return Message{Kind: KindInvalid, Err: fmt.Errorf("bad SIZE in OK reply")}
	}
	return Message{Kind: KindOK, Protocol: proto, Size: size}
}

func Ack(n int) []byte { return []byte(ackPrefix + strconv.Itoa(n)) }

func End() []byte { return []byte(endLiteral) }

func Ready() []byte { return []byte(readyLiteral) }

func Error(reason string) []byte { return []byte(errorPrefix + reason) }

func OK(p Protocol, size int64) []byte {
	return []byte(fmt.Sprintf("OK:%s|SIZE:%d", p, size))
}

func DownloadRequest(name string) []byte { return []byte(downloadToken + name) }

// UploadRequest builds UPLOAD_GBN:<name> or UPLOAD_SR:<name>.
func UploadRequest(p Protocol, name string) []byte {
	if p == GBN {
		return []byte(uploadGBN + name)
	}
	return []byte(uploadSR + name)
}
