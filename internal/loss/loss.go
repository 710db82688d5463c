// Package loss simulates an unreliable link by suppressing outbound sends.
package loss

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// DropFunc decides whether the next attempt is suppressed.
type DropFunc func() bool

// Simulator wraps send attempts and counts what it lets through.
type Simulator struct {
	drop     DropFunc
	attempts atomic.Int64
	dropped  atomic.Int64
}

// New returns a simulator dropping each attempt with probability p. A zero
// seed picks one from the clock.
func New(p float64, seed uint64) *Simulator {
	if p <= 0 {
		return WithFunc(nil)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return WithFunc(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64() < p
	})
}

// WithFunc returns a simulator driven by fn. A nil fn never drops.
func WithFunc(fn DropFunc) *Simulator {
	if fn == nil {
		fn = func() bool { return false }
	}
	return &Simulator{drop: fn}
}

// MaybeSend runs send unless this attempt is dropped. A dropped attempt is
// not an error.
func (s *Simulator) MaybeSend(send func() error) (bool, error) {
	s.attempts.Add(1)
	if s.drop() {
		s.dropped.Add(1)
		return false, nil
	}
	return true, send()
}

func (s *Simulator) Attempts() int64 { return s.attempts.Load() }

func (s *Simulator) Dropped() int64 { return s.dropped.Load() }
