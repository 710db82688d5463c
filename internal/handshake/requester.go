package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/packet"
)

// ErrNoReply means the responder did not answer within the handshake timeout.
var ErrNoReply = errors.New("no handshake reply")

// Offer is the responder's answer to a download request.
type Offer struct {
	Protocol packet.Protocol
	Size     int64
}

// RequestDownload asks for name and waits for OK or ERROR. Frames that race
// ahead of the reply are returned as backlog for the receiving engine.
func RequestDownload(ctx context.Context, link arq.Link, in <-chan []byte, name string, timeout time.Duration) (Offer, [][]byte, error) {
	if err := link.Send(packet.DownloadRequest(name)); err != nil {
		return Offer{}, nil, fmt.Errorf("send request: %w", err)
	}
	var offer Offer
	backlog, err := await(ctx, in, timeout, func(m packet.Message) bool {
		if m.Kind != packet.KindOK {
			return false
		}
		offer = Offer{Protocol: m.Protocol, Size: m.Size}
		return true
	})
	return offer, backlog, err
}

// RequestUpload announces an upload of size bytes, choosing the protocol
// locally, and waits for READY.
func RequestUpload(ctx context.Context, link arq.Link, in <-chan []byte, name string, size, threshold int64, timeout time.Duration) (packet.Protocol, error) {
	proto := Select(size, threshold)
	if err := link.Send(packet.UploadRequest(proto, name)); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	_, err := await(ctx, in, timeout, func(m packet.Message) bool {
		return m.Kind == packet.KindReady
	})
	return proto, err
}

func await(ctx context.Context, in <-chan []byte, timeout time.Duration, accept func(packet.Message) bool) ([][]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var backlog [][]byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrNoReply
		case b, ok := <-in:
			if !ok {
				return nil, arq.ErrInputClosed
			}
			m := packet.Classify(b)
			if accept(m) {
				return backlog, nil
			}
			switch m.Kind {
			case packet.KindError:
				return nil, &Error{Reason: m.Reason}
			case packet.KindFrame, packet.KindEnd:
				backlog = append(backlog, b)
			}
		}
	}
}
