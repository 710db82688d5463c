package main

import (
	"strings"
	"testing"
	"time"

	"arqtransfer/internal/monitor"
)

func TestFormatEvent(t *testing.T) {
	done := formatEvent(monitor.Event{
		Type: monitor.SessionCompleted, Peer: "127.0.0.1:5000", Session: "0123456789abcdef",
		Op: "download", Name: "big.bin", Protocol: "GBN",
		Bytes: 25000, Chunks: 25, Retransmissions: 3, ElapsedMs: 120,
	})
	for _, want := range []string{"session_completed", "[01234567]", `download "big.bin" via GBN`, "25000 bytes, 25 chunks, 3 retransmissions"} {
		if !strings.Contains(done, want) {
			t.Errorf("%q missing %q", done, want)
		}
	}

	rej := formatEvent(monitor.Event{Type: monitor.HandshakeRejected, Peer: "10.0.0.2:1", Name: "x", Reason: "file not found"})
	if !strings.HasSuffix(rej, `"x": file not found`) || strings.Contains(rej, "[") {
		t.Errorf("rejected line %q", rej)
	}
}

func TestTally(t *testing.T) {
	tl := newTally()
	t0 := time.Now()
	if d := tl.add(monitor.Event{Type: monitor.SessionStarted}, t0); d != "" {
		t.Fatalf("first delta %q", d)
	}
	if d := tl.add(monitor.Event{Type: monitor.SessionCompleted, Bytes: 10, Retransmissions: 2}, t0.Add(15*time.Millisecond)); d != "+15ms" {
		t.Fatalf("delta %q", d)
	}
	tl.add(monitor.Event{Type: monitor.SessionAborted, Bytes: 99}, t0.Add(20*time.Millisecond))

	s := strings.Join(tl.summary(), "\n")
	for _, want := range []string{"started: 1", "completed: 1", "aborted: 1", "Bytes delivered: 10 (2 retransmissions)"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}
