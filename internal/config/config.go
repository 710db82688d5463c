// Package config carries the tunables shared by the server and client.
package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/handshake"
	"arqtransfer/internal/loss"
)

type Config struct {
	ChunkSize         int
	Window            int
	Threshold         int64
	RetransmitTimeout time.Duration
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	// ReadTimeout bounds each blocking read on the shared socket.
	ReadTimeout     time.Duration
	LossProbability float64
	// Seed for the loss simulator; 0 seeds from the clock.
	Seed uint64
	// MaxRetries caps consecutive timeouts without progress; 0 retries forever.
	MaxRetries  int
	MaxSessions int
	InboxSize   int
	// AllowedPeers are filepath.Match patterns on the peer host or callsign.
	// Empty allows everyone.
	AllowedPeers []string
}

func defaults() Config {
	return Config{
		ChunkSize:        1024,
		Window:           arq.DefaultWindow,
		Threshold:        handshake.DefaultThreshold,
		IdleTimeout:      10 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      250 * time.Millisecond,
		LossProbability:  0.01,
		InboxSize:        256,
	}
}

func ServerDefaults() Config {
	c := defaults()
	c.RetransmitTimeout = 500 * time.Millisecond
	return c
}

func ClientDefaults() Config {
	c := defaults()
	c.RetransmitTimeout = 2 * time.Second
	return c
}

// RegisterFlags binds every field to fs, using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "Payload bytes per frame")
	fs.IntVar(&c.Window, "window", c.Window, "Sliding window size")
	fs.Int64Var(&c.Threshold, "threshold", c.Threshold, "Blobs larger than this many bytes use GBN, others SR")
	fs.DurationVar(&c.RetransmitTimeout, "timeout", c.RetransmitTimeout, "Retransmission timeout")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Abort a transfer after this long without a datagram")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", c.HandshakeTimeout, "How long to wait for a handshake reply")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "Socket read poll interval")
	fs.Float64Var(&c.LossProbability, "loss", c.LossProbability, "Probability of dropping an outgoing data frame (simulation)")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Loss simulator seed (0 = random)")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Give up after this many timeouts without progress (0 = never)")
	fs.IntVar(&c.MaxSessions, "max-sessions", c.MaxSessions, "Concurrent session limit (0 = unlimited)")
	fs.Func("allow", "Comma separated peer patterns allowed to connect (e.g. 127.0.0.1,N0CALL-*)", func(v string) error {
		c.AllowedPeers = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if _, err := filepath.Match(p, ""); err != nil {
				return fmt.Errorf("bad pattern %q: %w", p, err)
			}
			c.AllowedPeers = append(c.AllowedPeers, p)
		}
		return nil
	})
}

func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %d", c.Window))
	}
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("threshold must not be negative"))
	}
	if c.RetransmitTimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.LossProbability < 0 || c.LossProbability >= 1 {
		errs = append(errs, fmt.Errorf("loss probability must be in [0,1), got %v", c.LossProbability))
	}
	if c.MaxRetries < 0 || c.MaxSessions < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	return errors.Join(errs...)
}

// PeerAllowed matches the peer against AllowedPeers.
func (c Config) PeerAllowed(peer string) bool {
	if len(c.AllowedPeers) == 0 {
		return true
	}
	peer = strings.ToUpper(strings.TrimSpace(peer))
	for _, pattern := range c.AllowedPeers {
		if match, err := filepath.Match(pattern, peer); err == nil && match {
			return true
		}
	}
	return false
}

// EngineOptions builds the per-transfer engine options. salt varies the
// loss sequence between concurrent transfers sharing one seed.
func (c Config) EngineOptions(log *logrus.Entry, salt uint64) arq.Options {
	seed := c.Seed
	if seed != 0 {
		seed += salt
	}
	return arq.Options{
		Window:     c.Window,
		Timeout:    c.RetransmitTimeout,
		MaxRetries: c.MaxRetries,
		Loss:       loss.New(c.LossProbability, seed),
		Log:        log,
	}
}
