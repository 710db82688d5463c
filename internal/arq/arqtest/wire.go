// Package arqtest provides an in-memory datagram wire for exercising engines.
package arqtest

import (
	"bytes"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint is one side of a Pair. Send delivers into the peer's In channel.
type Endpoint struct {
	In   chan []byte
	peer *Endpoint
	w    *Wire

	sent atomic.Int64
}

// Wire decides what happens to datagrams in flight.
type Wire struct {
	mu   sync.Mutex
	rng  *rand.Rand
	drop float64
	dup  float64
	// jitter bounds the random hold applied to each datagram.
	jitter time.Duration
	// Keep, when set, protects matching datagrams from loss.
	Keep func(b []byte) bool
}

// Pair returns two connected endpoints. Each datagram is dropped with
// probability drop and duplicated with probability dup. END is never dropped.
func Pair(drop, dup float64, seed uint64) (*Endpoint, *Endpoint) {
	w := &Wire{
		rng:  rand.New(rand.NewPCG(seed, seed+1)),
		drop: drop,
		dup:  dup,
		Keep: func(b []byte) bool { return bytes.Equal(b, []byte("END")) },
	}
	a := &Endpoint{In: make(chan []byte, 4096), w: w}
	b := &Endpoint{In: make(chan []byte, 4096), w: w}
	a.peer, b.peer = b, a
	return a, b
}

// Reorder holds every datagram on the wire for a random time up to max, so a
// later send can overtake an earlier one. It applies to both directions.
func (e *Endpoint) Reorder(max time.Duration) {
	e.w.mu.Lock()
	e.w.jitter = max
	e.w.mu.Unlock()
}

func (e *Endpoint) Send(b []byte) error {
	e.sent.Add(1)
	drop, dup, holds := e.w.roll(b)
	if drop {
		return nil
	}
	e.deliver(b, holds[0])
	if dup {
		e.deliver(b, holds[1])
	}
	return nil
}

// Sent counts Send calls.
func (e *Endpoint) Sent() int64 { return e.sent.Load() }

func (e *Endpoint) deliver(b []byte, hold time.Duration) {
	c := append([]byte(nil), b...)
	push := func() {
		select {
		case e.peer.In <- c:
		default:
		}
	}
	if hold <= 0 {
		push()
		return
	}
	time.AfterFunc(hold, push)
}

func (w *Wire) roll(b []byte) (drop, dup bool, holds [2]time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Keep == nil || !w.Keep(b) {
		drop = w.rng.Float64() < w.drop
	}
	dup = w.rng.Float64() < w.dup
	if w.jitter > 0 {
		for i := range holds {
			holds[i] = time.Duration(w.rng.Int64N(int64(w.jitter) + 1))
		}
	}
	return drop, dup, holds
}
