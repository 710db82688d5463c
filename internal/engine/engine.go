// Package engine picks the sender or receiver implementation for a protocol.
package engine

import (
	"context"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/gbn"
	"arqtransfer/internal/packet"
	"arqtransfer/internal/sr"
)

type Sender interface {
	Run(ctx context.Context, src *arq.Source) (arq.Stats, error)
}

type Receiver interface {
	Run(ctx context.Context, src *arq.Source) ([]byte, arq.Stats, error)
}

func NewSender(p packet.Protocol, chunks [][]byte, link arq.Link, opts arq.Options) Sender {
	if p == packet.GBN {
		return gbn.NewSender(chunks, link, opts)
	}
	return sr.NewSender(chunks, link, opts)
}

// NewReceiver builds a receiver expecting total chunks, or learning the
// count from the first frame when total is zero.
func NewReceiver(p packet.Protocol, total int, link arq.Link, opts arq.Options) Receiver {
	if p == packet.GBN {
		return gbn.NewReceiver(total, link, opts)
	}
	return sr.NewReceiver(total, link, opts)
}
