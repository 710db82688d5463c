package config

import (
	"flag"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logging selects how binaries log.
type Logging struct {
	Debug bool
	JSON  bool
	File  string
}

func (l *Logging) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&l.Debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&l.JSON, "log-json", false, "Log as JSON")
	fs.StringVar(&l.File, "log-file", "", "Also append logs to this file")
}

// NewLogger builds the process logger. Output goes to stderr and, when File
// is set, to that file as well.
func (l Logging) NewLogger() (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	if l.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	if l.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if l.File == "" {
		return log, noClose{}, nil
	}
	f, err := os.OpenFile(l.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return log, f, nil
}

type noClose struct{}

func (noClose) Close() error { return nil }
