// proxy.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/config"
	"arqtransfer/internal/loss"
	"arqtransfer/internal/packet"
	"arqtransfer/internal/transport"
)

// Direction-specific impairment.
type impairment struct {
	sim   *loss.Simulator
	delay time.Duration
	// dataOnly restricts drops to data frames.
	dataOnly bool
}

// relay sits between clients and one server. Each client gets its own
// upstream socket so the server still sees one address per client.
type relay struct {
	listen    net.PacketConn
	server    net.Addr
	up, down  impairment
	readEvery time.Duration
	log       *logrus.Entry

	mu      sync.Mutex
	clients map[string]*upstream
	pumps   sync.WaitGroup
	// delayed tracks sends parked in timers. Only forward adds to it, so it is
	// waited on after every forwarding goroutine has stopped.
	delayed sync.WaitGroup
}

type upstream struct {
	client net.Addr
	conn   net.PacketConn
}

func newRelay(listen net.PacketConn, server net.Addr, up, down impairment, log *logrus.Entry) *relay {
	return &relay{
		listen:    listen,
		server:    server,
		up:        up,
		down:      down,
		readEvery: 100 * time.Millisecond,
		log:       log,
		clients:   make(map[string]*upstream),
	}
}

// forward applies imp to b and writes it with send.
func (r *relay) forward(imp impairment, dir string, b []byte, send func([]byte) error) {
	m := packet.Classify(b)
	write := func() error {
		if imp.delay <= 0 {
			return send(b)
		}
		r.delayed.Add(1)
		time.AfterFunc(imp.delay, func() {
			defer r.delayed.Done()
			if err := send(b); err != nil {
				r.log.Debugf("[%s] delayed send: %v", dir, err)
			}
		})
		return nil
	}
	if imp.dataOnly && m.Kind != packet.KindFrame {
		if err := write(); err != nil {
			r.log.Debugf("[%s] send: %v", dir, err)
		}
		return
	}
	sent, err := imp.sim.MaybeSend(write)
	switch {
	case err != nil:
		r.log.Debugf("[%s] send: %v", dir, err)
	case !sent:
		r.log.Debugf("[%s] dropped %s%s", dir, m.Kind, describe(m))
	}
}

func describe(m packet.Message) string {
	switch m.Kind {
	case packet.KindFrame:
		return fmt.Sprintf(" %d/%d", m.Frame.Seq, m.Frame.Total)
	case packet.KindAck:
		return fmt.Sprintf(" %d", m.Ack)
	}
	return ""
}

func (r *relay) upstreamFor(ctx context.Context, client net.Addr) (*upstream, error) {
	key := client.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.clients[key]; ok {
		return u, nil
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	u := &upstream{client: client, conn: conn}
	r.clients[key] = u
	r.log.Infof("New client %s relayed via %s", key, conn.LocalAddr())
	r.pumps.Add(1)
	go r.pumpDown(ctx, u)
	return u, nil
}

// pumpDown carries server replies back to one client.
func (r *relay) pumpDown(ctx context.Context, u *upstream) {
	defer r.pumps.Done()
	defer u.conn.Close()
	buf := make([]byte, 65535)
	for ctx.Err() == nil {
		u.conn.SetReadDeadline(time.Now().Add(r.readEvery))
		n, _, err := u.conn.ReadFrom(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			r.log.Debugf("Upstream for %s closed: %v", u.client, err)
			return
		}
		b := append([]byte(nil), buf[:n]...)
		r.forward(r.down, "server->"+u.client.String(), b, func(p []byte) error {
			_, err := r.listen.WriteTo(p, u.client)
			return err
		})
	}
}

// wait blocks until the pumps have exited and every delayed send has fired.
func (r *relay) wait() {
	r.pumps.Wait()
	r.delayed.Wait()
}

// Run relays until ctx ends.
func (r *relay) Run(ctx context.Context) error {
	defer r.wait()
	buf := make([]byte, 65535)
	for ctx.Err() == nil {
		r.listen.SetReadDeadline(time.Now().Add(r.readEvery))
		n, from, err := r.listen.ReadFrom(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			return &transport.FatalError{Op: "read", Err: err}
		}
		u, err := r.upstreamFor(ctx, from)
		if err != nil {
			r.log.Warnf("No upstream for %s: %v", from, err)
			continue
		}
		b := append([]byte(nil), buf[:n]...)
		r.forward(r.up, from.String()+"->server", b, func(p []byte) error {
			_, err := u.conn.WriteTo(p, r.server)
			return err
		})
	}
	return nil
}

func (r *relay) stats() (upDropped, downDropped int64) {
	return r.up.sim.Dropped(), r.down.sim.Dropped()
}

func main() {
	var (
		listenAddr = flag.String("listen", ":9100", "Address clients send to")
		serverAddr = flag.String("server", "127.0.0.1:9000", "Server to relay to")
		upLoss     = flag.Float64("up-loss", 0.1, "Drop probability for client to server datagrams")
		downLoss   = flag.Float64("down-loss", 0.1, "Drop probability for server to client datagrams")
		delay      = flag.Duration("delay", 0, "One-way delay added in each direction")
		dataOnly   = flag.Bool("data-only", false, "Only drop data frames, never control messages")
		seed       = flag.Uint64("seed", 0, "Random seed (0 = random)")
		logging    config.Logging
	)
	logging.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger, closer, err := logging.NewLogger()
	if err != nil {
		logrus.Fatalf("Opening log file: %v", err)
	}
	defer closer.Close()
	log := logrus.NewEntry(logger).WithField("component", "proxy")

	server, err := net.ResolveUDPAddr("udp4", *serverAddr)
	if err != nil {
		log.Fatalf("Server address: %v", err)
	}
	listen, err := transport.ListenUDP(*listenAddr, 0)
	if err != nil {
		log.Fatalf("Listen: %v", err)
	}
	defer listen.Close()

	r := newRelay(listen, server,
		impairment{sim: loss.New(*upLoss, *seed), delay: *delay, dataOnly: *dataOnly},
		impairment{sim: loss.New(*downLoss, *seed+1), delay: *delay, dataOnly: *dataOnly},
		log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Relaying %s -> %s (loss up %.2f down %.2f, delay %s)", listen.LocalAddr(), server, *upLoss, *downLoss, *delay)
	if err := r.Run(ctx); err != nil {
		log.Fatalf("Relay stopped: %v", err)
	}
	up, down := r.stats()
	log.Infof("--- Summary --- dropped %d upstream, %d downstream", up, down)
}
