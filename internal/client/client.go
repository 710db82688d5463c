// Package client runs the requester side of transfers against one server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/chunk"
	"arqtransfer/internal/config"
	"arqtransfer/internal/engine"
	"arqtransfer/internal/handshake"
	"arqtransfer/internal/packet"
	"arqtransfer/internal/transport"
)

// ErrSizeMismatch means the received blob does not match the announced size.
var ErrSizeMismatch = errors.New("received size does not match offer")

// Result describes a finished transfer.
type Result struct {
	Protocol packet.Protocol
	Size     int64
	Stats    arq.Stats
}

// Client talks to one server over conn. Transfers run one at a time.
type Client struct {
	conn   net.PacketConn
	server net.Addr
	link   *transport.Link
	cfg    config.Config
	log    *logrus.Entry

	mu    sync.Mutex
	inbox chan []byte
	salt  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func New(conn net.PacketConn, server net.Addr, cfg config.Config, log *logrus.Entry) *Client {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	c := &Client{
		conn:   conn,
		server: server,
		link:   transport.NewLink(conn, server),
		cfg:    cfg,
		log:    log.WithField("server", server.String()),
		inbox:  make(chan []byte, cfg.InboxSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	buf := make([]byte, 65535)
	want := c.server.String()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			select {
			case <-c.done:
			default:
				c.log.Errorf("Receive error: %v", err)
			}
			return
		}
		if from.String() != want {
			c.log.Debugf("Ignoring datagram from %s", from)
			continue
		}
		select {
		case c.inbox <- append([]byte(nil), buf[:n]...):
		default:
		}
	}
}

// flush drops anything left over from a previous transfer.
func (c *Client) flush() {
	dropped := 0
	for {
		select {
		case <-c.inbox:
			dropped++
		default:
			if dropped > 0 {
				c.log.Debugf("Flushed %d stale datagram(s)", dropped)
			}
			return
		}
	}
}

// Download fetches name from the server.
func (c *Client) Download(ctx context.Context, name string) ([]byte, Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush()

	offer, backlog, err := handshake.RequestDownload(ctx, c.link, c.inbox, name, c.cfg.HandshakeTimeout)
	if err != nil {
		return nil, Result{}, fmt.Errorf("download %s: %w", name, err)
	}
	total := chunk.Total(offer.Size, c.cfg.ChunkSize)
	log := c.log.WithFields(logrus.Fields{"op": "download", "protocol": string(offer.Protocol)})
	log.Infof("Server offered %q: %d bytes (%d chunks) via %s", name, offer.Size, total, offer.Protocol)

	// Frames whose TOTAL disagrees with the offer belong to an earlier transfer.
	opts := c.cfg.EngineOptions(log, c.salt.Add(1))
	src := arq.NewSource(c.inbox, c.cfg.IdleTimeout, backlog...)
	data, stats, err := engine.NewReceiver(offer.Protocol, total, c.link, opts).Run(ctx, src)
	res := Result{Protocol: offer.Protocol, Size: offer.Size, Stats: stats}
	if err != nil {
		return nil, res, fmt.Errorf("download %s: %w", name, err)
	}
	if int64(len(data)) != offer.Size {
		return nil, res, fmt.Errorf("download %s: got %d of %d bytes: %w", name, len(data), offer.Size, ErrSizeMismatch)
	}
	return data, res, nil
}

// Upload sends data to the server under name.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush()

	size := int64(len(data))
	proto, err := handshake.RequestUpload(ctx, c.link, c.inbox, name, size, c.cfg.Threshold, c.cfg.HandshakeTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", name, err)
	}
	log := c.log.WithFields(logrus.Fields{"op": "upload", "protocol": string(proto)})
	log.Infof("Server ready for %q: sending %d bytes via %s", name, size, proto)

	opts := c.cfg.EngineOptions(log, c.salt.Add(1))
	chunks := chunk.Segment(data, c.cfg.ChunkSize)
	stats, err := engine.NewSender(proto, chunks, c.link, opts).Run(ctx, arq.NewSource(c.inbox, c.cfg.IdleTimeout))
	res := Result{Protocol: proto, Size: size, Stats: stats}
	if err != nil {
		return res, fmt.Errorf("upload %s: %w", name, err)
	}
	return res, nil
}

// Close stops the reader and closes the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
