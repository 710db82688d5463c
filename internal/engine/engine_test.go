package engine

import (
	"testing"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/gbn"
	"arqtransfer/internal/packet"
	"arqtransfer/internal/sr"
)

func TestPicksImplementation(t *testing.T) {
	link := arq.LinkFunc(func([]byte) error { return nil })
	chunks := [][]byte{[]byte("a")}

	if _, ok := NewSender(packet.GBN, chunks, link, arq.Options{}).(*gbn.Sender); !ok {
		t.Error("GBN sender")
	}
	if _, ok := NewSender(packet.SR, chunks, link, arq.Options{}).(*sr.Sender); !ok {
		t.Error("SR sender")
	}
	if _, ok := NewReceiver(packet.GBN, 0, link, arq.Options{}).(*gbn.Receiver); !ok {
		t.Error("GBN receiver")
	}
	if _, ok := NewReceiver(packet.SR, 3, link, arq.Options{}).(*sr.Receiver); !ok {
		t.Error("SR receiver")
	}
}
