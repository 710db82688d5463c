package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("nothing emitted")
	}
	return ""
}

func TestExistingThenNew(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Dir(ctx, dir, 50*time.Millisecond, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if got := next(t, ch); filepath.Base(got) != "a.txt" {
		t.Fatalf("first = %s", got)
	}

	// several writes to one file collapse into one emission
	p := filepath.Join(dir, "b.bin")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.Write([]byte("chunk"))
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()
	os.WriteFile(filepath.Join(dir, ".skip"), []byte("x"), 0o644)

	if got := next(t, ch); got != p {
		t.Fatalf("second = %s", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected %s", extra)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	for range ch {
	}
}

func TestMissingDir(t *testing.T) {
	if _, err := Dir(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, quietLog()); err == nil {
		t.Fatal("expected error")
	}
}
