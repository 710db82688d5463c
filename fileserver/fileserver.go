// fileserver.go
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"arqtransfer/internal/blob"
	"arqtransfer/internal/config"
	"arqtransfer/internal/monitor"
	"arqtransfer/internal/session"
	"arqtransfer/internal/status"
	"arqtransfer/internal/transport"
)

// Command-line arguments structure.
type Arguments struct {
	Directory    string // directory to serve files from and store uploads in
	UploadPrefix string
	Replace      bool
	HTTPAddr     string // status server; empty disables it
	HTTPLogFile  string

	Transport transport.Options
	Config    config.Config
	Logging   config.Logging
	MQTT      monitor.MQTTOptions
}

func parseArguments() *Arguments {
	args := &Arguments{Config: config.ServerDefaults()}
	fs := flag.CommandLine
	fs.StringVar(&args.Directory, "directory", ".", "Directory to serve files from and store uploads in")
	fs.StringVar(&args.UploadPrefix, "upload-prefix", "uploaded_", "Prefix added to stored upload names")
	fs.BoolVar(&args.Replace, "replace", false, "Overwrite existing uploads instead of adding a numeric suffix")
	fs.StringVar(&args.HTTPAddr, "http", "", "Address for the HTTP status server (e.g. :8080)")
	fs.StringVar(&args.HTTPLogFile, "http-log-file", "", "Append HTTP access logs to this file")
	args.Transport.RegisterFlags(fs, ":9000")
	args.Config.RegisterFlags(fs)
	args.Logging.RegisterFlags(fs)
	args.MQTT.RegisterFlags(fs)
	flag.Parse()

	if err := args.Config.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if fi, err := os.Stat(args.Directory); err != nil || !fi.IsDir() {
		logrus.Fatalf("--directory %q is not a directory", args.Directory)
	}
	return args
}

func main() {
	args := parseArguments()

	logger, logCloser, err := args.Logging.NewLogger()
	if err != nil {
		logrus.Fatalf("Opening log file: %v", err)
	}
	defer logCloser.Close()
	log := logrus.NewEntry(logger)

	log.Infof("Serving files from directory: %s", args.Directory)
	if len(args.Config.AllowedPeers) > 0 {
		log.Infof("Allowed peer patterns: %v", args.Config.AllowedPeers)
	} else {
		log.Info("No peer filtering enabled.")
	}

	conn, err := transport.Open(args.Transport)
	if err != nil {
		log.Fatalf("Opening transport: %v", err)
	}
	defer conn.Close()

	publishers := monitor.Multi{}
	if args.MQTT.Enabled() {
		m, err := monitor.DialMQTT(args.MQTT, log.WithField("component", "mqtt"))
		if err != nil {
			log.Fatalf("MQTT: %v", err)
		}
		defer m.Close()
		publishers = append(publishers, m)
	}
	var feed *monitor.Feed
	if args.HTTPAddr != "" {
		feed = monitor.NewFeed(log.WithField("component", "feed"))
		publishers = append(publishers, feed)
	}

	store := blob.Dir{Root: args.Directory, Prefix: args.UploadPrefix, Replace: args.Replace}
	d := session.New(conn, args.Config, store, store, publishers, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Serve(ctx) })

	if args.HTTPAddr != "" {
		var access io.Writer
		if args.HTTPLogFile != "" {
			f, err := os.OpenFile(args.HTTPLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				log.Fatalf("Error opening HTTP log file: %v", err)
			}
			defer f.Close()
			access = f
		}
		h := status.Handler(d, feed.Handler(), access, log.WithField("component", "http"))
		g.Go(func() error { return status.Serve(ctx, args.HTTPAddr, h, log) })
	}

	err = g.Wait()
	var fatal *transport.FatalError
	switch {
	case errors.As(err, &fatal):
		log.Fatalf("Transport failed: %v", err)
	case err != nil:
		log.Fatalf("Server stopped: %v", err)
	}
	c := d.Counters()
	log.Infof("Shut down. %d completed, %d aborted, %d rejected.", c.Completed, c.Aborted, c.Rejected)
}
