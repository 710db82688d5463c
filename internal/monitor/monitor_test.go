package monitor

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, Nop{}, &b}
	m.Publish(Event{Type: SessionStarted, Peer: "p"})
	m.Publish(Event{Type: SessionCompleted, Peer: "p"})
	if len(a.Events()) != 2 || len(b.Events()) != 2 {
		t.Fatalf("a=%d b=%d", len(a.Events()), len(b.Events()))
	}
}

func TestEventJSON(t *testing.T) {
	ev := Event{
		Type:     SessionCompleted,
		Time:     time.Unix(0, 0).UTC(),
		Peer:     "127.0.0.1:4000",
		Protocol: "GBN",
		Chunks:   25,
		Bytes:    25000,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back["type"] != "session_completed" || back["chunks"].(float64) != 25 {
		t.Fatalf("json = %s", b)
	}
	if _, ok := back["reason"]; ok {
		t.Fatalf("empty reason serialized: %s", b)
	}
}

func TestFeedWithoutClients(t *testing.T) {
	f := NewFeed(nil)
	if f.Handler() == nil || f.Clients() != 0 {
		t.Fatal("feed not initialised")
	}
	f.Publish(Event{Type: SessionStarted})
}
