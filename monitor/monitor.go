// monitor.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/monitor"
)

// tally accumulates what the monitor has seen for the exit summary.
type tally struct {
	mu              sync.Mutex
	byType          map[monitor.EventType]int
	bytes           int64
	retransmissions int64
	last            time.Time
}

func newTally() *tally {
	return &tally{byType: make(map[monitor.EventType]int)}
}

// add records ev and returns the gap since the previous event.
func (t *tally) add(ev monitor.Event, now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byType[ev.Type]++
	if ev.Type == monitor.SessionCompleted {
		t.bytes += ev.Bytes
		t.retransmissions += ev.Retransmissions
	}
	delta := ""
	if !t.last.IsZero() {
		d := now.Sub(t.last)
		if d < time.Millisecond {
			delta = fmt.Sprintf("+%dus", d.Microseconds())
		} else {
			delta = fmt.Sprintf("+%dms", d.Milliseconds())
		}
	}
	t.last = now
	return delta
}

func (t *tally) summary() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return []string{
		fmt.Sprintf("Sessions started: %d", t.byType[monitor.SessionStarted]),
		fmt.Sprintf("Sessions completed: %d", t.byType[monitor.SessionCompleted]),
		fmt.Sprintf("Sessions aborted: %d", t.byType[monitor.SessionAborted]),
		fmt.Sprintf("Handshakes rejected: %d", t.byType[monitor.HandshakeRejected]),
		fmt.Sprintf("Bytes delivered: %d (%d retransmissions)", t.bytes, t.retransmissions),
	}
}

func formatEvent(ev monitor.Event) string {
	id := ev.Session
	if len(id) > 8 {
		id = id[:8]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-21s", ev.Type, ev.Peer)
	if id != "" {
		fmt.Fprintf(&b, " [%s]", id)
	}
	if ev.Op != "" {
		fmt.Fprintf(&b, " %s %q via %s", ev.Op, ev.Name, ev.Protocol)
	} else if ev.Name != "" {
		fmt.Fprintf(&b, " %q", ev.Name)
	}
	switch ev.Type {
	case monitor.SessionCompleted:
		fmt.Fprintf(&b, ": %d bytes, %d chunks, %d retransmissions, %d dropped in %dms",
			ev.Bytes, ev.Chunks, ev.Retransmissions, ev.Dropped, ev.ElapsedMs)
	case monitor.SessionAborted, monitor.HandshakeRejected:
		fmt.Fprintf(&b, ": %s", ev.Reason)
	}
	return b.String()
}

func main() {
	var opts monitor.MQTTOptions
	var jsonOutput bool
	opts.RegisterFlags(flag.CommandLine)
	flag.BoolVar(&jsonOutput, "json", false, "Print events as raw JSON")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if !opts.Enabled() {
		fmt.Fprintln(os.Stderr, "Error: -mqtt-host is required")
		flag.Usage()
		os.Exit(1)
	}
	opts.ClientID = fmt.Sprintf("monitor-client-%d", time.Now().UnixNano())

	seen := newTally()
	stop, err := monitor.Subscribe(opts, logrus.NewEntry(log), func(ev monitor.Event) {
		now := time.Now()
		delta := seen.add(ev, now)
		stamp := fmt.Sprintf("[%s %s]", now.Format(time.RFC3339Nano), delta)
		if jsonOutput {
			b, _ := json.Marshal(ev)
			fmt.Printf("%s %s\n", stamp, b)
			return
		}
		fmt.Printf("%s %s\n", stamp, formatEvent(ev))
	})
	if err != nil {
		log.Fatalf("Error connecting to MQTT broker: %v", err)
	}
	log.Infof("Subscribed to %s/# on %s:%d", opts.Topic, opts.Host, opts.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	stop()

	log.Info("--- Summary ---")
	for _, line := range seen.summary() {
		log.Info(line)
	}
}
