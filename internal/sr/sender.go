// Package sr implements Selective-Repeat: every frame is acknowledged on its
// own and only unacknowledged frames are resent.
package sr

import (
	"context"
	"fmt"
	"sort"
	"time"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/packet"
)

type State int

const (
	Streaming State = iota
	Done
)

func (s State) String() string {
	if s == Done {
		return "done"
	}
	return "streaming"
}

// Sender keeps up to Window unacknowledged frames in flight.
type Sender struct {
	opts   arq.Options
	link   arq.Link
	chunks [][]byte
	total  int

	window     map[int][]byte
	acked      []bool
	ackedCount int
	next       int
	misses     int
	state      State
	stats      arq.Stats
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
		window: make(map[int][]byte),
		acked:  make([]bool, len(chunks)),
	}
	for _, c := range chunks {
		s.stats.Bytes += int64(len(c))
	}
	s.stats.Total = s.total
	s.opts.Progress.Set(0, s.total)
	return s
}

func (s *Sender) State() State { return s.state }

func (s *Sender) Stats() arq.Stats { return s.stats }

// InFlight lists the sequence numbers currently in the window, ascending.
func (s *Sender) InFlight() []int {
	seqs := make([]int, 0, len(s.window))
	for seq := range s.window {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

func (s *Sender) send(seq int, frame []byte, retransmit bool) error {
	ok, err := s.opts.SendData(s.link, frame)
	if err != nil {
		return fmt.Errorf("send seq=%d: %w", seq, err)
	}
	s.stats.FramesSent++
	if retransmit {
		s.stats.Retransmissions++
	}
	if !ok {
		s.stats.Dropped++
		s.opts.Log.Debugf("Simulated loss of frame seq=%d", seq)
		return nil
	}
	s.opts.Log.Debugf("Sent frame seq=%d/%d", seq, s.total)
	return nil
}

func (s *Sender) fill() (int, error) {
	sent := 0
	for len(s.window) < s.opts.Window && s.next < s.total {
		seq := s.next
		frame := packet.Encode(seq, s.total, s.chunks[seq])
		s.window[seq] = frame
		s.next++
		if err := s.send(seq, frame, false); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// HandleAck marks k delivered. It reports false for duplicates and for
// sequence numbers never sent.
func (s *Sender) HandleAck(k int) bool {
	s.stats.AcksReceived++
	if k < 0 || k >= s.next || s.acked[k] {
		return false
	}
	s.acked[k] = true
	s.ackedCount++
	delete(s.window, k)
	s.misses = 0
	s.opts.Progress.Set(s.ackedCount, s.total)
	s.opts.Log.Debugf("ACK:%d (%d/%d acknowledged)", k, s.ackedCount, s.total)
	return true
}

// HandleTimeout resends every frame still unacknowledged in the window.
func (s *Sender) HandleTimeout() error {
	s.stats.Timeouts++
	s.misses++
	seqs := s.InFlight()
	if len(seqs) > 0 {
		s.opts.Log.Infof("Timeout waiting for ACK, resending %d frame(s) (retry %d)", len(seqs), s.misses)
	}
	for _, seq := range seqs {
		// an ACK may have landed since the window was listed
		if s.acked[seq] {
			continue
		}
		if err := s.send(seq, s.window[seq], true); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the sender until every chunk is acknowledged and END is sent.
func (s *Sender) Run(ctx context.Context, src *arq.Source) (arq.Stats, error) {
	s.stats.Started = time.Now()
	defer src.Stop()
	progressed := false
	for {
		if s.ackedCount == s.total {
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
				return s.stats, fmt.Errorf("sr %d/%d acknowledged: %w", s.ackedCount, s.total, arq.ErrRetriesExhausted)
			}
			if err := s.HandleTimeout(); err != nil {
				return s.stats, err
			}
			src.Arm(s.opts.Timeout)
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
