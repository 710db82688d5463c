package session

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/handshake"
)

type State int32

const (
	StateActive State = iota
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Session is one transfer with one peer. Only its own goroutine runs the
// engine; the dispatcher only feeds the inbox.
type Session struct {
	ID   string
	Key  string
	Peer net.Addr
	Plan handshake.Plan

	inbox    chan []byte
	done     chan struct{}
	progress arq.Progress
	started  time.Time
	lastSeen atomic.Int64
	state    atomic.Int32
	log      *logrus.Entry
}

func newSession(peer net.Addr, plan handshake.Plan, inboxSize int, log *logrus.Entry) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		Key:     peer.String(),
		Peer:    peer,
		Plan:    plan,
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	s.log = log.WithFields(logrus.Fields{
		"session":  s.ID[:8],
		"op":       plan.Op.String(),
		"protocol": string(plan.Protocol),
	})
	s.touch()
	return s
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"id"`
	Peer         string    `json:"peer"`
	Op           string    `json:"op"`
	Protocol     string    `json:"protocol"`
	Name         string    `json:"name"`
	State        string    `json:"state"`
	Chunks       int       `json:"chunks"`
	ChunksDone   int       `json:"chunks_done"`
	Started      time.Time `json:"started"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Session) Info() Info {
	done, total := s.progress.Load()
	return Info{
		ID:           s.ID,
		Peer:         s.Key,
		Op:           s.Plan.Op.String(),
		Protocol:     string(s.Plan.Protocol),
		Name:         s.Plan.Name,
		State:        s.State().String(),
		Chunks:       total,
		ChunksDone:   done,
		Started:      s.started,
		LastActivity: time.Unix(0, s.lastSeen.Load()),
	}
}
