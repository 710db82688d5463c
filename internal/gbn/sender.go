// Package gbn implements Go-Back-N: a cumulative-ACK sliding window where a
// timeout resends the whole outstanding window.
package gbn

import (
	"context"
	"fmt"
	"time"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/packet"
)

type State int

const (
	Streaming State = iota
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return "unknown"
}

// Sender streams chunks to one peer.
type Sender struct {
	opts   arq.Options
	link   arq.Link
	chunks [][]byte
	total  int

	base    int
	nextSeq int
	// highest is one past the largest seq ever sent; sends below it are retransmissions.
	highest int
	misses  int
	state   State
	stats   arq.Stats
}

func NewSender(chunks [][]byte, link arq.Link, opts arq.Options) *Sender {
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	s := &Sender{
		opts:   opts.Normalize(),
		link:   link,
		chunks: chunks,
		total:  len(chunks),
	}
	for _, c := range chunks {
		s.stats.Bytes += int64(len(c))
	}
	s.stats.Total = s.total
	s.opts.Progress.Set(0, s.total)
	return s
}

func (s *Sender) State() State { return s.state }

func (s *Sender) Base() int { return s.base }

func (s *Sender) NextSeq() int { return s.nextSeq }

func (s *Sender) Stats() arq.Stats { return s.stats }

// fill sends every unsent frame that fits in the window.
func (s *Sender) fill() (int, error) {
	sent := 0
	for s.nextSeq < s.total && s.nextSeq < s.base+s.opts.Window {
		seq := s.nextSeq
		ok, err := s.opts.SendData(s.link, packet.Encode(seq, s.total, s.chunks[seq]))
		if err != nil {
			return sent, fmt.Errorf("send seq=%d: %w", seq, err)
		}
		s.stats.FramesSent++
		if seq < s.highest {
			s.stats.Retransmissions++
		}
		if ok {
			s.opts.Log.Debugf("Sent frame seq=%d/%d", seq, s.total)
		} else {
			s.stats.Dropped++
			s.opts.Log.Debugf("Simulated loss of frame seq=%d", seq)
		}
		s.nextSeq++
		if s.nextSeq > s.highest {
			s.highest = s.nextSeq
		}
		sent++
	}
	if s.nextSeq == s.total && s.state == Streaming {
		s.state = Draining
	}
	return sent, nil
}

// HandleAck applies a cumulative acknowledgement and reports whether the
// window slid. Stale and out-of-range values are ignored.
func (s *Sender) HandleAck(k int) bool {
	s.stats.AcksReceived++
	if k < s.base || k >= s.total {
		return false
	}
	s.base = k + 1
	if s.nextSeq < s.base {
		s.nextSeq = s.base
	}
	s.misses = 0
	s.opts.Progress.Set(s.base, s.total)
	s.opts.Log.Debugf("ACK:%d slides window to base=%d", k, s.base)
	return true
}

// HandleTimeout rewinds nextSeq so the next fill resends [base, nextSeq).
func (s *Sender) HandleTimeout() {
	s.stats.Timeouts++
	s.misses++
	if s.nextSeq > s.base {
		s.opts.Log.Infof("Timeout waiting for ACK, resending seq %d..%d (retry %d)", s.base, s.nextSeq-1, s.misses)
	}
	s.nextSeq = s.base
	s.state = Streaming
}

// Run drives the sender until every chunk is acknowledged and END is sent.
func (s *Sender) Run(ctx context.Context, src *arq.Source) (arq.Stats, error) {
	s.stats.Started = time.Now()
	defer src.Stop()
	progressed := false
	for {
		if s.base >= s.total {
			return s.stats, s.finish()
		}
		n, err := s.fill()
		if err != nil {
			return s.stats, err
		}
		if n > 0 || progressed {
			src.Arm(s.opts.Timeout)
		}
		progressed = false

		ev := src.Next(ctx)
		switch ev.Kind {
		case arq.EventDatagram:
			m := packet.Classify(ev.Data)
			if m.Kind != packet.KindAck {
				s.opts.Log.Debugf("Ignoring %s while sending", m.Kind)
				continue
			}
			progressed = s.HandleAck(m.Ack)
		case arq.EventTimeout:
			if s.opts.MaxRetries > 0 && s.misses >= s.opts.MaxRetries {
				return s.stats, fmt.Errorf("gbn base=%d: %w", s.base, arq.ErrRetriesExhausted)
			}
			s.HandleTimeout()
		case arq.EventIdle:
			return s.stats, arq.ErrIdle
		case arq.EventClosed:
			return s.stats, arq.ErrInputClosed
		case arq.EventCancelled:
			return s.stats, ctx.Err()
		}
	}
}

func (s *Sender) finish() error {
	s.state = Done
	s.stats.Finished = time.Now()
	if err := s.link.Send(packet.End()); err != nil {
		return fmt.Errorf("send END: %w", err)
	}
	s.opts.Log.WithFields(s.stats.Fields()).Infof("All %d frames acknowledged, END sent", s.total)
	return nil
}
