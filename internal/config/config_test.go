package config

import (
	"flag"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s, c := ServerDefaults(), ClientDefaults()
	if s.ChunkSize != 1024 || s.Window != 4 || s.Threshold != 20*1024 {
		t.Fatalf("server defaults %+v", s)
	}
	if s.RetransmitTimeout != 500*time.Millisecond || c.RetransmitTimeout != 2*time.Second {
		t.Fatalf("timeouts server=%v client=%v", s.RetransmitTimeout, c.RetransmitTimeout)
	}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterFlags(t *testing.T) {
	c := ServerDefaults()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	err := fs.Parse([]string{"-window", "8", "-timeout", "100ms", "-loss", "0.2", "-allow", "127.0.0.1, n0call-*"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Window != 8 || c.RetransmitTimeout != 100*time.Millisecond || c.LossProbability != 0.2 {
		t.Fatalf("parsed %+v", c)
	}
	if len(c.AllowedPeers) != 2 || c.AllowedPeers[1] != "N0CALL-*" {
		t.Fatalf("allowed %v", c.AllowedPeers)
	}
}

func TestValidate(t *testing.T) {
	c := ServerDefaults()
	c.Window = 0
	c.LossProbability = 1
	if err := c.Validate(); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestPeerAllowed(t *testing.T) {
	c := ServerDefaults()
	if !c.PeerAllowed("10.0.0.1") {
		t.Fatal("empty allow list rejected peer")
	}
	c.AllowedPeers = []string{"127.0.0.*", "N0CALL-*"}
	for peer, want := range map[string]bool{
		"127.0.0.1": true,
		"10.0.0.1":  false,
		"n0call-7":  true,
		"N0CALL":    false,
	} {
		if got := c.PeerAllowed(peer); got != want {
			t.Errorf("PeerAllowed(%q) = %v", peer, got)
		}
	}
}

func TestEngineOptionsSeedSalt(t *testing.T) {
	c := ServerDefaults()
	c.Seed = 5
	c.LossProbability = 0.5
	a, b := c.EngineOptions(nil, 0), c.EngineOptions(nil, 1)
	same := true
	for i := 0; i < 64; i++ {
		x, _ := a.Loss.MaybeSend(func() error { return nil })
		y, _ := b.Loss.MaybeSend(func() error { return nil })
		if x != y {
			same = false
		}
	}
	if same {
		t.Fatal("salted simulators produced identical sequences")
	}
}
