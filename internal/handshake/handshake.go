// Package handshake opens a transfer: the requester names a file and an
// operation, the responder picks the ARQ protocol from the blob size and
// answers with OK, READY or ERROR.
package handshake

import (
	"errors"
	"path/filepath"
	"strings"

	"arqtransfer/internal/blob"
	"arqtransfer/internal/packet"
)

// DefaultThreshold separates GBN (larger) from SR (this size or smaller).
const DefaultThreshold = 20 * 1024

const (
	ReasonNotFound    = "file not found"
	ReasonUnknown     = "unknown request"
	ReasonInvalidName = "invalid name"
	ReasonBusy        = "server busy"
	ReasonDenied      = "access denied"
	ReasonUnreadable  = "file unreadable"
)

// Error is a refused handshake. Reason travels to the peer as ERROR:<reason>.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "handshake refused: " + e.Reason
}

// Select picks GBN for blobs larger than threshold and SR otherwise.
func Select(size, threshold int64) packet.Protocol {
	if size > threshold {
		return packet.GBN
	}
	return packet.SR
}

type Op int

const (
	OpDownload Op = iota + 1
	OpUpload
)

func (o Op) String() string {
	switch o {
	case OpDownload:
		return "download"
	case OpUpload:
		return "upload"
	}
	return "unknown"
}

// Request is a parsed handshake from a requester.
type Request struct {
	Op   Op
	Name string
	// Protocol is set for uploads, where the requester chose it.
	Protocol packet.Protocol
}

// ParseRequest turns a classified datagram into a Request.
func ParseRequest(m packet.Message) (Request, error) {
	var req Request
	switch m.Kind {
	case packet.KindDownload:
		req.Op = OpDownload
	case packet.KindUploadGBN, packet.KindUploadSR:
		req.Op = OpUpload
		req.Protocol = m.Protocol
	default:
		return Request{}, &Error{Reason: ReasonUnknown}
	}
	name, err := CleanName(m.Name)
	if err != nil {
		return Request{}, err
	}
	req.Name = name
	return req, nil
}

// CleanName reduces a requested name to a bare file name.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	base := filepath.Base(filepath.Clean("/" + name))
	if name == "" || base == "/" || base == "." || base == ".." {
		return "", &Error{Reason: ReasonInvalidName}
	}
	return base, nil
}

// Plan is the responder's decision for an accepted request.
type Plan struct {
	Request
	Protocol packet.Protocol
	// Blob holds the data to send for downloads.
	Blob  []byte
	Reply []byte
}

// Accept decides how to serve req. Downloads look the blob up in src and
// answer OK:<protocol>|SIZE:<n>; uploads answer READY and use the protocol
// the requester named.
func Accept(req Request, src blob.Source, threshold int64) (Plan, error) {
	switch req.Op {
	case OpUpload:
		return Plan{Request: req, Protocol: req.Protocol, Reply: packet.Ready()}, nil
	case OpDownload:
		data, err := src.Open(req.Name)
		if errors.Is(err, blob.ErrNotFound) {
			return Plan{}, &Error{Reason: ReasonNotFound}
		}
		if err != nil {
			return Plan{}, &Error{Reason: ReasonUnreadable}
		}
		size := int64(len(data))
		proto := Select(size, threshold)
		return Plan{
			Request:  req,
			Protocol: proto,
			Blob:     data,
			Reply:    packet.OK(proto, size),
		}, nil
	}
	return Plan{}, &Error{Reason: ReasonUnknown}
}

// Reason extracts the peer-facing reason from err.
func Reason(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Reason
	}
	return err.Error()
}
