// Package monitor publishes transfer lifecycle events to observers.
package monitor

import (
	"sync"
	"time"
)

type EventType string

const (
	SessionStarted    EventType = "session_started"
	SessionCompleted  EventType = "session_completed"
	SessionAborted    EventType = "session_aborted"
	HandshakeRejected EventType = "handshake_rejected"
)

// Event is one transfer lifecycle change.
type Event struct {
	Type            EventType `json:"type"`
	Time            time.Time `json:"time"`
	Session         string    `json:"session,omitempty"`
	Peer            string    `json:"peer"`
	Op              string    `json:"op,omitempty"`
	Protocol        string    `json:"protocol,omitempty"`
	Name            string    `json:"name,omitempty"`
	Chunks          int       `json:"chunks,omitempty"`
	Bytes           int64     `json:"bytes,omitempty"`
	Retransmissions int64     `json:"retransmissions,omitempty"`
	Dropped         int64     `json:"dropped,omitempty"`
	ElapsedMs       int64     `json:"elapsed_ms,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

// Publisher must not block the caller for long.
type Publisher interface {
	Publish(Event)
}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}

type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
