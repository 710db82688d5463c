// Package watch turns a directory into a queue of files ready for upload.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettle is how long a file must stay quiet before it is emitted.
const DefaultSettle = 500 * time.Millisecond

// Dir emits the paths of regular files in dir: the ones already present,
// then every file created or written afterwards once it has been quiet for
// settle. Dot files are skipped. The channel closes when ctx ends.
func Dir(ctx context.Context, dir string, settle time.Duration, log *logrus.Entry) (<-chan string, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	existing, err := listRegular(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	log.Infof("Monitoring directory %s (%d existing file(s))", dir, len(existing))

	out := make(chan string)
	go func() {
		defer close(out)
		defer watcher.Close()

		for _, p := range existing {
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}

		pending := make(map[string]time.Time)
		tick := time.NewTicker(settle / 4)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if hidden(ev.Name) {
					continue
				}
				pending[ev.Name] = time.Now()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("Watcher error: %v", err)
			case now := <-tick.C:
				var ready []string
				for p, last := range pending {
					if now.Sub(last) >= settle {
						ready = append(ready, p)
						delete(pending, p)
					}
				}
				sort.Strings(ready)
				for _, p := range ready {
					if !isRegular(p) {
						continue
					}
					log.Debugf("File settled: %s", p)
					select {
					case out <- p:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func listRegular(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if hidden(p) || !isRegular(p) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func hidden(p string) bool { return strings.HasPrefix(filepath.Base(p), ".") }

func isRegular(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
