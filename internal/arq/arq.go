// Package arq holds the plumbing shared by the Go-Back-N and Selective-Repeat
// engines: the outbound link, the inbound event source, tuning options and
// per-transfer statistics.
package arq

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/loss"
)

var (
	// ErrIdle aborts a session that saw no datagram for the idle window.
	ErrIdle = errors.New("session idle timeout")
	// ErrRetriesExhausted is returned when MaxRetries consecutive timeouts pass without progress.
	ErrRetriesExhausted = errors.New("retransmission limit reached")
	// ErrInputClosed means the inbound datagram channel was closed under the engine.
	ErrInputClosed = errors.New("datagram input closed")
)

// Link delivers one datagram to the peer of a transfer.
type Link interface {
	Send(b []byte) error
}

// LinkFunc adapts a function to Link.
type LinkFunc func(b []byte) error

func (f LinkFunc) Send(b []byte) error { return f(b) }

// Options tune an engine. Zero values fall back to the defaults below.
type Options struct {
	Window     int
	Timeout    time.Duration
	MaxRetries int
	Loss       *loss.Simulator
	Log        *logrus.Entry
	Progress   *Progress
}

const (
	DefaultWindow  = 4
	DefaultTimeout = 500 * time.Millisecond
)

// Normalize fills unset fields.
func (o Options) Normalize() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Loss == nil {
		o.Loss = loss.WithFunc(nil)
	}
	if o.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Log = logrus.NewEntry(l)
	}
	if o.Progress == nil {
		o.Progress = &Progress{}
	}
	return o
}

// SendData pushes a data frame through the loss simulator.
func (o Options) SendData(link Link, b []byte) (bool, error) {
	return o.Loss.MaybeSend(func() error { return link.Send(b) })
}

// Progress is read by observers while an engine runs.
type Progress struct {
	done  atomic.Int64
	total atomic.Int64
}

func (p *Progress) Set(done, total int) {
	p.done.Store(int64(done))
	p.total.Store(int64(total))
}

func (p *Progress) Load() (done, total int) {
	return int(p.done.Load()), int(p.total.Load())
}

// Stats describe one finished or running transfer.
type Stats struct {
	Total           int
	Bytes           int64
	FramesSent      int64
	Retransmissions int64
	Dropped         int64
	AcksReceived    int64
	AcksSent        int64
	Duplicates      int64
	Timeouts        int64
	Started         time.Time
	Finished        time.Time
}

func (s Stats) Elapsed() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}

// Rate is the payload throughput in bytes per second.
func (s Stats) Rate() float64 {
	secs := s.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Bytes) / secs
}

func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"chunks":          s.Total,
		"bytes":           s.Bytes,
		"frames_sent":     s.FramesSent,
		"retransmissions": s.Retransmissions,
		"dropped":         s.Dropped,
		"acks_received":   s.AcksReceived,
		"acks_sent":       s.AcksSent,
		"duplicates":      s.Duplicates,
		"elapsed":         s.Elapsed().Round(time.Millisecond).String(),
	}
}
