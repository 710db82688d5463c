// Package status exposes a running server over HTTP: JSON snapshots of the
// session table and the live Socket.IO event feed.
package status

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"arqtransfer/internal/session"
)

// Snapshotter is what the handlers read from. *session.Dispatcher satisfies it.
type Snapshotter interface {
	Sessions() []session.Info
	Counters() session.Counters
}

type Stats struct {
	session.Counters
	Uptime string `json:"uptime"`
}

// Handler builds the status mux. feed may be nil.
func Handler(snap Snapshotter, feed http.Handler, accessLog io.Writer, log *logrus.Entry) http.Handler {
	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snap.Sessions())
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Stats{
			Counters: snap.Counters(),
			Uptime:   time.Since(started).Round(time.Second).String(),
		})
	})
	if feed != nil {
		mux.Handle("/socket.io/", feed)
	}

	var h http.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(log),
		handlers.PrintRecoveryStack(false),
	)(mux)
	if accessLog != nil {
		h = handlers.CustomLoggingHandler(accessLog, h, accessLogFormatter)
	}
	return h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// accessLogFormatter writes combined log format with the forwarded-for address.
func accessLogFormatter(w io.Writer, p handlers.LogFormatterParams) {
	ip, _, err := net.SplitHostPort(p.Request.RemoteAddr)
	if err != nil {
		ip = p.Request.RemoteAddr
	}
	xfwd := p.Request.Header.Get("X-Forwarded-For")
	if xfwd == "" {
		xfwd = "-"
	}
	user := "-"
	if auth := p.Request.Header.Get("Authorization"); strings.HasPrefix(auth, "Basic ") {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic ")); err == nil {
			if name, _, _ := strings.Cut(string(decoded), ":"); name != "" {
				user = name
			}
		}
	}
	fmt.Fprintf(w, "%s %s %s [%s] \"%s %s %s\" %d %d \"%s\" \"%s\"\n",
		ip, xfwd, user,
		p.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
		p.Request.Method, p.Request.RequestURI, p.Request.Proto,
		p.StatusCode, p.Size,
		p.Request.Referer(), p.Request.UserAgent(),
	)
}

// Serve listens on addr until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler, log *logrus.Entry) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("HTTP status server listening on %s", addr)
	select {
	case err := <-errc:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdown)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	}
}
