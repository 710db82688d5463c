package status

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/session"
)

type fakeSnap struct {
	infos []session.Info
	c     session.Counters
}

func (f fakeSnap) Sessions() []session.Info   { return f.infos }
func (f fakeSnap) Counters() session.Counters { return f.c }

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestEndpoints(t *testing.T) {
	snap := fakeSnap{
		infos: []session.Info{{ID: "abc", Peer: "127.0.0.1:9", Op: "download", Protocol: "GBN", Chunks: 25, ChunksDone: 10, Started: time.Now()}},
		c:     session.Counters{Active: 1, Completed: 3, Rejected: 2},
	}
	var access bytes.Buffer
	srv := httptest.NewServer(Handler(snap, nil, &access, quietLog()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var infos []session.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(infos) != 1 || infos[0].ChunksDone != 10 || infos[0].Protocol != "GBN" {
		t.Fatalf("sessions %+v", infos)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/stats", nil)
	req.SetBasicAuth("op", "secret")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var st Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if st.Completed != 3 || st.Active != 1 || st.Rejected != 2 || st.Uptime == "" {
		t.Fatalf("stats %+v", st)
	}

	line := access.String()
	for _, want := range []string{"10.0.0.1 op [", `"GET /stats HTTP/1.1" 200`} {
		if !strings.Contains(line, want) {
			t.Errorf("access log %q missing %q", line, want)
		}
	}
}

func TestPanicRecovered(t *testing.T) {
	boom := fakeSnapFunc(func() { panic("boom") })
	srv := httptest.NewServer(Handler(boom, nil, nil, quietLog()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

type fakeSnapFunc func()

func (f fakeSnapFunc) Sessions() []session.Info   { f(); return nil }
func (f fakeSnapFunc) Counters() session.Counters { f(); return session.Counters{} }
