package chunk

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
)

func TestTotal(t *testing.T) {
	cases := []struct {
		size  int64
		chunk int
		want  int
	}{
		{0, 1024, 1},
		{1, 1024, 1},
		{500, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{25000, 1024, 25},
		{20480, 1024, 20},
	}
	for _, c := range cases {
		if got := Total(c.size, c.chunk); got != c.want {
			t.Errorf("Total(%d, %d) = %d, want %d", c.size, c.chunk, got, c.want)
		}
	}
}

func TestSegment25000(t *testing.T) {
	blob := make([]byte, 25000)
	for i := range blob {
		blob[i] = byte(i)
	}
	chunks := Segment(blob, 1024)
	if len(chunks) != 25 {
		t.Fatalf("got %d chunks, want 25", len(chunks))
	}
	for i, c := range chunks[:24] {
		if len(c) != 1024 {
			t.Fatalf("chunk %d len %d", i, len(c))
		}
	}
	if len(chunks[24]) != 424 {
		t.Fatalf("last chunk len %d, want 424", len(chunks[24]))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), blob) {
		t.Fatal("chunks do not concatenate to blob")
	}
}

func TestSegmentEmpty(t *testing.T) {
	chunks := Segment(nil, 1024)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("Segment(nil) = %v, want one empty chunk", chunks)
	}
	out, err := Reassemble(map[int][]byte{0: chunks[0]}, 1)
	if err != nil || len(out) != 0 {
		t.Fatalf("Reassemble = %v, %v", out, err)
	}
}

func TestReassembleShuffled(t *testing.T) {
	blob := make([]byte, 10_000)
	r := rand.New(rand.NewPCG(1, 2))
	for i := range blob {
		blob[i] = byte(r.IntN(256))
	}
	chunks := Segment(blob, 333)
	a := NewArena(len(chunks))
	for _, i := range r.Perm(len(chunks)) {
		if _, err := a.Put(i, chunks[i]); err != nil {
			t.Fatal(err)
		}
	}
	out, err := a.Reassemble()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, blob) {
		t.Fatal("reassembled blob differs")
	}
}

func TestReassembleIncomplete(t *testing.T) {
	_, err := Reassemble(map[int][]byte{0: []byte("a"), 2: []byte("c")}, 3)
	var ie *IncompleteTransferError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *IncompleteTransferError", err)
	}
	if ie.FirstMissing != 1 || ie.Received != 2 || ie.Total != 3 {
		t.Fatalf("unexpected error detail %+v", ie)
	}
}

func TestArenaPutIdempotent(t *testing.T) {
	a := NewArena(2)
	if fresh, _ := a.Put(0, []byte("first")); !fresh {
		t.Fatal("first Put reported duplicate")
	}
	if fresh, _ := a.Put(0, []byte("second")); fresh {
		t.Fatal("second Put reported fresh")
	}
	if a.Count() != 1 || a.Complete() {
		t.Fatalf("count=%d complete=%v", a.Count(), a.Complete())
	}
	if _, err := a.Put(2, nil); err == nil {
		t.Fatal("out of range Put accepted")
	}
	a.Put(1, []byte("!"))
	out, err := a.Reassemble()
	if err != nil || string(out) != "first!" {
		t.Fatalf("Reassemble = %q, %v", out, err)
	}
}
