package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		verb    string
		arg     string
		wantErr bool
	}{
		{line: "get report.txt", verb: "GET", arg: "report.txt"},
		{line: "PUT  my file.bin ", verb: "PUT", arg: "my file.bin"},
		{line: "ls", verb: "LS"},
		{line: "quit", verb: "QUIT"},
		{line: "GET", wantErr: true},
		{line: "DELETE x", wantErr: true},
	}
	for _, tt := range tests {
		cmd, err := parseCommand(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.line, err)
			continue
		}
		if !tt.wantErr && (cmd.verb != tt.verb || cmd.arg != tt.arg) {
			t.Errorf("%q: got %+v", tt.line, cmd)
		}
	}
}

func TestListFormattedFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("12345"), 0o644)
	os.WriteFile(filepath.Join(dir, "A.bin"), []byte("1"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("1"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	out, err := listFormattedFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("listing:\n%s", out)
	}
	if !strings.HasPrefix(lines[2], "A.bin") || !strings.HasPrefix(lines[3], "b.txt") {
		t.Fatalf("order:\n%s", out)
	}
	if !strings.HasSuffix(lines[3], " 5") {
		t.Fatalf("size column: %q", lines[3])
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
}
