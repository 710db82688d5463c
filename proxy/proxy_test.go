package main

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/blob"
	"arqtransfer/internal/client"
	"arqtransfer/internal/config"
	"arqtransfer/internal/loss"
	"arqtransfer/internal/session"
	"arqtransfer/internal/transport"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRelayedTransferSurvivesLoss(t *testing.T) {
	cfg := config.ServerDefaults()
	cfg.RetransmitTimeout = 20 * time.Millisecond
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.LossProbability = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := blob.NewMemory()
	want := bytes.Repeat([]byte("relay me "), 3000)
	store.Put("doc", want)
	srvConn, err := transport.ListenUDP("127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer srvConn.Close()
	d := session.New(srvConn, cfg, store, store, nil, quietLog())
	go d.Serve(ctx)

	listen, err := transport.ListenUDP("127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer listen.Close()
	r := newRelay(listen, srvConn.LocalAddr(),
		impairment{sim: loss.New(0.2, 1), dataOnly: true},
		impairment{sim: loss.New(0.2, 2), delay: time.Millisecond, dataOnly: true},
		quietLog())
	r.readEvery = 20 * time.Millisecond
	relayDone := make(chan error, 1)
	go func() { relayDone <- r.Run(ctx) }()

	cliConn, err := transport.ListenUDP("127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	c := client.New(cliConn, listen.LocalAddr(), cfg, quietLog())
	defer c.Close()

	tctx, tcancel := context.WithTimeout(ctx, 20*time.Second)
	defer tcancel()
	got, res, err := c.Download(tctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("payload corrupted through relay")
	}
	up := bytes.Repeat([]byte{0xAB}, 9000)
	if _, err := c.Upload(tctx, "back", up); err != nil {
		t.Fatal(err)
	}

	if _, downDropped := r.stats(); downDropped == 0 {
		t.Error("relay dropped nothing downstream")
	}
	if res.Stats.Total != 27 {
		t.Errorf("chunks %d", res.Stats.Total)
	}
	cancel()
	if err := <-relayDone; err != nil {
		t.Fatal(err)
	}
}

func TestForwardDrops(t *testing.T) {
	r := newRelay(nil, nil, impairment{sim: loss.New(1, 1)}, impairment{sim: loss.New(0, 0)}, quietLog())
	var sent [][]byte
	r.forward(r.up, "test", []byte("ACK:3"), func(b []byte) error { sent = append(sent, b); return nil })
	r.forward(r.down, "test", []byte("ACK:4"), func(b []byte) error { sent = append(sent, b); return nil })
	if len(sent) != 1 || string(sent[0]) != "ACK:4" {
		t.Fatalf("sent %q", sent)
	}
	if up, _ := r.stats(); up != 1 {
		t.Fatalf("up dropped %d", up)
	}
}

func TestDelayedSendsDrain(t *testing.T) {
	delay := impairment{sim: loss.New(0, 0), delay: 20 * time.Millisecond}
	r := newRelay(nil, nil, delay, delay, quietLog())
	var mu sync.Mutex
	var sent []string
	send := func(b []byte) error {
		mu.Lock()
		sent = append(sent, string(b))
		mu.Unlock()
		return nil
	}
	start := time.Now()
	r.forward(r.up, "test", []byte("SEQ:0|TOTAL:1|DATA:x"), send)
	r.forward(r.down, "test", []byte("ACK:0"), send)
	mu.Lock()
	early := len(sent)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("%d sent before delay", early)
	}
	r.wait()
	if len(sent) != 2 {
		t.Fatalf("sent %q after wait", sent)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("delay not applied")
	}
}
