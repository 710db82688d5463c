package arq

import (
	"context"
	"testing"
	"time"
)

func TestSourceBacklogFirst(t *testing.T) {
	in := make(chan []byte, 1)
	in <- []byte("live")
	s := NewSource(in, 0, []byte("early"))
	defer s.Stop()

	for _, want := range []string{"early", "live"} {
		ev := s.Next(context.Background())
		if ev.Kind != EventDatagram || string(ev.Data) != want {
			t.Fatalf("got %s %q, want %q", ev.Kind, ev.Data, want)
		}
	}
}

func TestSourceTimer(t *testing.T) {
	s := NewSource(make(chan []byte), 0)
	defer s.Stop()

	s.Arm(10 * time.Millisecond)
	if ev := s.Next(context.Background()); ev.Kind != EventTimeout {
		t.Fatalf("armed: got %s", ev.Kind)
	}

	s.Arm(10 * time.Millisecond)
	s.Disarm()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev := s.Next(ctx); ev.Kind != EventCancelled {
		t.Fatalf("disarmed: got %s", ev.Kind)
	}
}

func TestSourceIdleResetsOnTraffic(t *testing.T) {
	in := make(chan []byte)
	s := NewSource(in, 60*time.Millisecond)
	defer s.Stop()

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(30 * time.Millisecond)
			in <- []byte("x")
		}
	}()
	for i := 0; i < 3; i++ {
		if ev := s.Next(context.Background()); ev.Kind != EventDatagram {
			t.Fatalf("datagram %d: got %s", i, ev.Kind)
		}
	}
	start := time.Now()
	if ev := s.Next(context.Background()); ev.Kind != EventIdle {
		t.Fatalf("got %s, want idle", ev.Kind)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("idle fired before the deadline was reset")
	}
}

func TestSourceClosedAndCancelled(t *testing.T) {
	in := make(chan []byte)
	close(in)
	s := NewSource(in, 0)
	if ev := s.Next(context.Background()); ev.Kind != EventClosed {
		t.Fatalf("got %s", ev.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = NewSource(make(chan []byte), time.Hour)
	defer s.Stop()
	if ev := s.Next(ctx); ev.Kind != EventCancelled {
		t.Fatalf("got %s", ev.Kind)
	}
}
