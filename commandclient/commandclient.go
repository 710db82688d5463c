// commandclient.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arqtransfer/internal/blob"
	"arqtransfer/internal/client"
	"arqtransfer/internal/config"
	"arqtransfer/internal/transport"
	"arqtransfer/internal/watch"
)

// Command-line arguments structure.
type Arguments struct {
	Server      string // server address, or callsign for KISS transports
	Directory   string // local directory: PUT reads from it, GET saves to it
	SavePrefix  string
	Get         string // comma-delimited names to download, then exit
	Put         string // comma-delimited local files to upload, then exit
	WatchDir    string // upload every file that appears here
	WatchSettle time.Duration
	Transport   transport.Options
	Config      config.Config
	Logging     config.Logging
}

func parseArguments() *Arguments {
	args := &Arguments{Config: config.ClientDefaults()}
	fs := flag.CommandLine
	fs.StringVar(&args.Server, "server", "127.0.0.1:9000", "Server address (or callsign for KISS transports)")
	fs.StringVar(&args.Directory, "directory", ".", "Local directory for PUT sources and GET results")
	fs.StringVar(&args.SavePrefix, "save-prefix", "received_", "Prefix for downloaded file names")
	fs.StringVar(&args.Get, "get", "", "Comma delimited names to download, then exit")
	fs.StringVar(&args.Put, "put", "", "Comma delimited local files to upload, then exit")
	fs.StringVar(&args.WatchDir, "watch-dir", "", "Upload every file created in this directory")
	fs.DurationVar(&args.WatchSettle, "watch-settle", watch.DefaultSettle, "Quiet period before a watched file is sent")
	args.Transport.RegisterFlags(fs, ":0")
	args.Config.RegisterFlags(fs)
	args.Logging.RegisterFlags(fs)
	flag.Parse()

	if err := args.Config.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if args.Server == "" {
		logrus.Fatalf("--server is required.")
	}
	return args
}

type commandClient struct {
	c     *client.Client
	dir   string
	saved blob.Dir
	log   *logrus.Entry
}

func (cc *commandClient) get(ctx context.Context, name string) error {
	data, res, err := cc.c.Download(ctx, name)
	if err != nil {
		return err
	}
	where, err := cc.saved.Store(name, data)
	if err != nil {
		return err
	}
	cc.log.WithFields(res.Stats.Fields()).Infof("GET %s: %d bytes via %s, saved to %s", name, res.Size, res.Protocol, where)
	return nil
}

func (cc *commandClient) put(ctx context.Context, path string) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(cc.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read file %s: %w", path, err)
	}
	name := filepath.Base(path)
	res, err := cc.c.Upload(ctx, name, data)
	if err != nil {
		return err
	}
	cc.log.WithFields(res.Stats.Fields()).Infof("PUT %s: %d bytes via %s", name, res.Size, res.Protocol)
	return nil
}

type command struct {
	verb string
	arg  string
}

var errUsage = errors.New("usage: GET name | PUT file | LS | QUIT")

// parseCommand splits an interactive line. Everything after the verb is the
// argument, so file names may contain spaces.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	cmd := command{verb: strings.ToUpper(verb), arg: strings.TrimSpace(arg)}
	switch cmd.verb {
	case "GET", "PUT":
		if cmd.arg == "" {
			return cmd, fmt.Errorf("%s command requires a filename", cmd.verb)
		}
	case "LS", "QUIT", "EXIT":
	default:
		return cmd, errUsage
	}
	return cmd, nil
}

func listFormattedFiles(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var infos []os.FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if info, err := e.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return strings.ToLower(infos[i].Name()) < strings.ToLower(infos[j].Name())
	})

	nameW, sizeW := len("File Name"), len("Size")
	for _, info := range infos {
		nameW = max(nameW, len(info.Name()))
		sizeW = max(sizeW, len(fmt.Sprint(info.Size())))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-*s %-20s %*s\n", nameW, "File Name", "Modified Date", sizeW, "Size")
	b.WriteString(strings.Repeat("-", nameW+1+20+1+sizeW) + "\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "%-*s %-20s %*d\n", nameW, info.Name(), info.ModTime().Format("2006-01-02 15:04:05"), sizeW, info.Size())
	}
	return b.String(), nil
}

func (cc *commandClient) interactive(ctx context.Context) {
	cc.log.Info("Enter commands (LS lists local files, GET filename, PUT filename, QUIT):")
	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		cmd, err := parseCommand(scanner.Text())
		if err != nil {
			cc.log.Warn(err)
			continue
		}
		switch cmd.verb {
		case "LS":
			listing, err := listFormattedFiles(cc.dir)
			if err != nil {
				cc.log.Errorf("Error listing %s: %v", cc.dir, err)
				continue
			}
			fmt.Println(listing)
		case "GET":
			err = cc.get(ctx, cmd.arg)
		case "PUT":
			err = cc.put(ctx, cmd.arg)
		case "QUIT", "EXIT":
			return
		}
		if err != nil {
			fmt.Println("##########")
			fmt.Println("Failed:", err)
			fmt.Println("##########")
		}
	}
}

func (cc *commandClient) watch(ctx context.Context, dir string, settle time.Duration) error {
	files, err := watch.Dir(ctx, dir, settle, cc.log.WithField("component", "watch"))
	if err != nil {
		return err
	}
	for path := range files {
		cc.log.Infof("=== Starting transfer for file: %s ===", path)
		if err := cc.put(ctx, path); err != nil {
			cc.log.Errorf("Transfer of %s failed: %v", path, err)
			continue
		}
		cc.log.Infof("=== Completed transfer for file: %s ===", path)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	args := parseArguments()

	logger, logCloser, err := args.Logging.NewLogger()
	if err != nil {
		logrus.Fatalf("Opening log file: %v", err)
	}
	defer logCloser.Close()
	log := logrus.NewEntry(logger)

	conn, err := transport.Open(args.Transport)
	if err != nil {
		log.Fatalf("Opening transport: %v", err)
	}
	server, err := transport.ResolvePeer(args.Transport, args.Server)
	if err != nil {
		log.Fatalf("Server address: %v", err)
	}
	c := client.New(conn, server, args.Config, log)
	defer c.Close()

	cc := &commandClient{
		c:     c,
		dir:   args.Directory,
		saved: blob.Dir{Root: args.Directory, Prefix: args.SavePrefix},
		log:   log,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Command Client started on %s, server %s", conn.LocalAddr(), server)
	failed := false
	for _, name := range splitList(args.Get) {
		if err := cc.get(ctx, name); err != nil {
			log.Errorf("GET %s failed: %v", name, err)
			failed = true
		}
	}
	for _, path := range splitList(args.Put) {
		if err := cc.put(ctx, path); err != nil {
			log.Errorf("PUT %s failed: %v", path, err)
			failed = true
		}
	}

	switch {
	case args.WatchDir != "":
		if err := cc.watch(ctx, args.WatchDir, args.WatchSettle); err != nil {
			log.Fatalf("Watching %s: %v", args.WatchDir, err)
		}
	case args.Get == "" && args.Put == "":
		cc.interactive(ctx)
	}
	if failed {
		c.Close()
		os.Exit(1)
	}
}
