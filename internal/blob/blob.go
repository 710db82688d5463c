// Package blob provides where transferred files come from and where they go.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("file not found")

// Source hands out whole blobs by name.
type Source interface {
	Open(name string) ([]byte, error)
}

// Sink persists a received blob and returns where it was written.
type Sink interface {
	Store(name string, data []byte) (string, error)
}

// Dir serves and stores files in one directory. Stored names get Prefix and,
// unless Replace is set, a numeric suffix instead of overwriting.
type Dir struct {
	Root    string
	Prefix  string
	Replace bool
}

func (d Dir) Open(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Root, filepath.Base(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (d Dir) Store(name string, data []byte) (string, error) {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", d.Root, err)
	}
	filename := d.Prefix + filepath.Base(name)
	path := filepath.Join(d.Root, filename)
	if !d.Replace {
		path = uniquePath(d.Root, filename)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// List returns the regular files in the directory, sorted.
func (d Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// uniquePath appends _1, _2, ... before the extension until the name is free.
func uniquePath(dir, filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Memory is an in-process Source and Sink.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Open(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return b, nil
}

func (m *Memory) Store(name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return name, nil
}

// Put is Store without the location.
func (m *Memory) Put(name string, data []byte) {
	m.Store(name, data)
}
