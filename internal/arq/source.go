package arq

import (
	"context"
	"time"
)

// EventKind is what woke an engine up.
type EventKind int

const (
	EventDatagram EventKind = iota
	EventTimeout
	EventIdle
	EventCancelled
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventDatagram:
		return "datagram"
	case EventTimeout:
		return "timeout"
	case EventIdle:
		return "idle"
	case EventCancelled:
		return "cancelled"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Data []byte
}

// Source multiplexes inbound datagrams, the retransmission timer, the idle
// deadline and cancellation into one stream, so an engine handles exactly one
// of them at a time.
type Source struct {
	in      <-chan []byte
	backlog [][]byte
	timer   *time.Timer
	idle    time.Duration
	idleT   *time.Timer
}

// NewSource reads from in. Backlog datagrams are delivered first. A zero idle
// disables the idle deadline.
func NewSource(in <-chan []byte, idle time.Duration, backlog ...[]byte) *Source {
	s := &Source{
		in:      in,
		backlog: backlog,
		timer:   time.NewTimer(time.Hour),
		idle:    idle,
	}
	stopTimer(s.timer)
	if idle > 0 {
		s.idleT = time.NewTimer(idle)
	}
	return s
}

// Arm (re)starts the retransmission timer.
func (s *Source) Arm(d time.Duration) {
	stopTimer(s.timer)
	s.timer.Reset(d)
}

func (s *Source) Disarm() {
	stopTimer(s.timer)
}

// Stop releases the timers.
func (s *Source) Stop() {
	stopTimer(s.timer)
	if s.idleT != nil {
		stopTimer(s.idleT)
	}
}

// Next blocks until something happens.
func (s *Source) Next(ctx context.Context) Event {
	if len(s.backlog) > 0 {
		b := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.touch()
		return Event{Kind: EventDatagram, Data: b}
	}
	var idleC <-chan time.Time
	if s.idleT != nil {
		idleC = s.idleT.C
	}
	select {
	case <-ctx.Done():
		return Event{Kind: EventCancelled}
	case b, ok := <-s.in:
		if !ok {
			return Event{Kind: EventClosed}
		}
		s.touch()
		return Event{Kind: EventDatagram, Data: b}
	case <-s.timer.C:
		return Event{Kind: EventTimeout}
	case <-idleC:
		return Event{Kind: EventIdle}
	}
}

func (s *Source) touch() {
	if s.idleT != nil {
		stopTimer(s.idleT)
		s.idleT.Reset(s.idle)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
