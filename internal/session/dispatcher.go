// Package session runs the server side: one reader on the shared socket
// routes every datagram to the session owned by its sender address, and
// handshakes from unknown peers open new sessions.
package session

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/blob"
	"arqtransfer/internal/chunk"
	"arqtransfer/internal/config"
	"arqtransfer/internal/engine"
	"arqtransfer/internal/handshake"
	"arqtransfer/internal/monitor"
	"arqtransfer/internal/packet"
	"arqtransfer/internal/transport"
)

const maxDatagram = 65535

type datagram struct {
	from net.Addr
	data []byte
}

// Counters summarise the dispatcher's lifetime.
type Counters struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Aborted   int64 `json:"aborted"`
	Rejected  int64 `json:"rejected"`
}

type Dispatcher struct {
	conn   net.PacketConn
	cfg    config.Config
	source blob.Source
	sink   blob.Sink
	events monitor.Publisher
	log    *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*Session

	// deferred holds a handshake that arrived while the peer's previous
	// session was still registered. Only the Serve goroutine touches it.
	deferred map[string]datagram
	finished chan *Session
	wg       sync.WaitGroup
	salt     atomic.Uint64

	completed atomic.Int64
	aborted   atomic.Int64
	rejected  atomic.Int64
}

// New builds a dispatcher serving downloads from source and storing uploads
// in sink. events may be nil.
func New(conn net.PacketConn, cfg config.Config, source blob.Source, sink blob.Sink, events monitor.Publisher, log *logrus.Entry) *Dispatcher {
	if events == nil {
		events = monitor.Nop{}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	return &Dispatcher{
		conn:     conn,
		cfg:      cfg,
		source:   source,
		sink:     sink,
		events:   events,
		log:      log,
		sessions: make(map[string]*Session),
		deferred: make(map[string]datagram),
		finished: make(chan *Session, 64),
	}
}

// Serve runs until ctx is cancelled or the socket fails. Running sessions
// are cancelled and waited for before it returns.
func (d *Dispatcher) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan datagram, d.cfg.InboxSize)
	readErr := make(chan error, 1)
	go d.readLoop(ctx, inbound, readErr)
	d.log.Infof("Serving on %s", d.conn.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		case err := <-readErr:
			cancel()
			d.wg.Wait()
			return &transport.FatalError{Op: "read", Err: err}
		case dg := <-inbound:
			d.route(ctx, dg)
		case s := <-d.finished:
			d.retire(ctx, s)
		}
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, inbound chan<- datagram, readErr chan<- error) {
	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil {
		d.conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				readErr <- err
			}
			return
		}
		dg := datagram{from: addr, data: append([]byte(nil), buf[:n]...)}
		select {
		case inbound <- dg:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, dg datagram) {
	key := dg.from.String()
	m := packet.Classify(dg.data)

	d.mu.RLock()
	s := d.sessions[key]
	d.mu.RUnlock()
	if s != nil && s.finished() {
		// retiring may replay a deferred handshake and register a new session
		d.retire(ctx, s)
		d.mu.RLock()
		s = d.sessions[key]
		d.mu.RUnlock()
	}

	if s != nil {
		if m.Kind.IsRequest() {
			d.log.WithField("peer", key).Debugf("Deferring %s until session %s ends", m.Kind, s.ID[:8])
			d.deferred[key] = dg
			return
		}
		s.touch()
		select {
		case s.inbox <- dg.data:
		default:
			s.log.Debug("Session inbox full, dropping datagram")
		}
		return
	}

	switch {
	case m.Kind.IsRequest():
		d.open(ctx, dg, m)
	case m.Kind == packet.KindInvalid:
		d.reject(dg.from, "", &handshake.Error{Reason: handshake.ReasonUnknown})
	default:
		d.log.WithField("peer", key).Debugf("Stray %s with no session, ignored", m.Kind)
	}
}

func (d *Dispatcher) open(ctx context.Context, dg datagram, m packet.Message) {
	if !d.cfg.PeerAllowed(peerName(dg.from)) {
		d.reject(dg.from, m.Name, &handshake.Error{Reason: handshake.ReasonDenied})
		return
	}
	if d.cfg.MaxSessions > 0 && d.Counters().Active >= d.cfg.MaxSessions {
		d.reject(dg.from, m.Name, &handshake.Error{Reason: handshake.ReasonBusy})
		return
	}
	req, err := handshake.ParseRequest(m)
	if err != nil {
		d.reject(dg.from, m.Name, err)
		return
	}
	plan, err := handshake.Accept(req, d.source, d.cfg.Threshold)
	if err != nil {
		d.reject(dg.from, req.Name, err)
		return
	}

	link := transport.NewLink(d.conn, dg.from)
	s := newSession(dg.from, plan, d.cfg.InboxSize, d.log.WithField("peer", dg.from.String()))
	if err := link.Send(plan.Reply); err != nil {
		s.log.Warnf("Sending handshake reply: %v", err)
		return
	}
	s.log.Infof("%s of %q accepted, replied %s", plan.Op, plan.Name, plan.Reply)

	d.mu.Lock()
	d.sessions[s.Key] = s
	d.mu.Unlock()
	d.events.Publish(monitor.Event{
		Type:     monitor.SessionStarted,
		Time:     time.Now(),
		Session:  s.ID,
		Peer:     s.Key,
		Op:       plan.Op.String(),
		Protocol: string(plan.Protocol),
		Name:     plan.Name,
	})

	d.wg.Add(1)
	go d.run(ctx, s, link)
}

func (d *Dispatcher) reject(to net.Addr, name string, err error) {
	reason := handshake.Reason(err)
	d.rejected.Add(1)
	d.log.WithField("peer", to.String()).Warnf("Rejecting request %q: %s", name, reason)
	if err := transport.NewLink(d.conn, to).Send(packet.Error(reason)); err != nil {
		d.log.Warnf("Sending ERROR to %s: %v", to, err)
	}
	d.events.Publish(monitor.Event{
		Type:   monitor.HandshakeRejected,
		Time:   time.Now(),
		Peer:   to.String(),
		Name:   name,
		Reason: reason,
	})
}

func (d *Dispatcher) run(ctx context.Context, s *Session, link arq.Link) {
	defer d.wg.Done()

	opts := d.cfg.EngineOptions(s.log, d.salt.Add(1))
	opts.Progress = &s.progress
	src := arq.NewSource(s.inbox, d.cfg.IdleTimeout)

	var (
		stats arq.Stats
		err   error
		where string
	)
	switch s.Plan.Op {
	case handshake.OpDownload:
		chunks := chunk.Segment(s.Plan.Blob, d.cfg.ChunkSize)
		stats, err = engine.NewSender(s.Plan.Protocol, chunks, link, opts).Run(ctx, src)
	case handshake.OpUpload:
		var data []byte
		data, stats, err = engine.NewReceiver(s.Plan.Protocol, 0, link, opts).Run(ctx, src)
		if err == nil {
			where, err = d.sink.Store(s.Plan.Name, data)
		}
	}
	d.complete(s, stats, where, err)

	close(s.done)
	select {
	case d.finished <- s:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) complete(s *Session, stats arq.Stats, where string, err error) {
	ev := monitor.Event{
		Time:            time.Now(),
		Session:         s.ID,
		Peer:            s.Key,
		Op:              s.Plan.Op.String(),
		Protocol:        string(s.Plan.Protocol),
		Name:            s.Plan.Name,
		Chunks:          stats.Total,
		Bytes:           stats.Bytes,
		Retransmissions: stats.Retransmissions,
		Dropped:         stats.Dropped,
		ElapsedMs:       stats.Elapsed().Milliseconds(),
	}
	if err != nil {
		s.state.Store(int32(StateAborted))
		d.aborted.Add(1)
		ev.Type = monitor.SessionAborted
		ev.Reason = err.Error()
		if errors.Is(err, context.Canceled) {
			s.log.Info("Session cancelled by shutdown")
		} else {
			s.log.WithFields(stats.Fields()).Warnf("Session aborted: %v", err)
		}
	} else {
		s.state.Store(int32(StateDone))
		d.completed.Add(1)
		ev.Type = monitor.SessionCompleted
		entry := s.log.WithFields(stats.Fields())
		if where != "" {
			entry = entry.WithField("saved", where)
		}
		entry.Infof("Transfer of %q complete: %d bytes in %s (%.2f bytes/s)",
			s.Plan.Name, stats.Bytes, stats.Elapsed().Round(time.Millisecond), stats.Rate())
	}
	d.events.Publish(ev)
}

func (d *Dispatcher) retire(ctx context.Context, s *Session) {
	d.mu.Lock()
	if d.sessions[s.Key] == s {
		delete(d.sessions, s.Key)
	}
	d.mu.Unlock()
	if dg, ok := d.deferred[s.Key]; ok {
		delete(d.deferred, s.Key)
		d.route(ctx, dg)
	}
}

// Sessions lists the registered sessions, oldest first.
func (d *Dispatcher) Sessions() []Info {
	d.mu.RLock()
	out := make([]Info, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.Info())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (d *Dispatcher) Counters() Counters {
	d.mu.RLock()
	active := 0
	for _, s := range d.sessions {
		if s.State() == StateActive {
			active++
		}
	}
	d.mu.RUnlock()
	return Counters{
		Active:    active,
		Completed: d.completed.Load(),
		Aborted:   d.aborted.Load(),
		Rejected:  d.rejected.Load(),
	}
}

// peerName is the part of an address matched against allow patterns.
func peerName(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	return addr.String()
}
