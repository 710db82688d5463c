package arqtest

import (
	"strconv"
	"testing"
	"time"
)

func collect(t *testing.T, in <-chan []byte, n int) []int {
	t.Helper()
	var got []int
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case b := <-in:
			v, err := strconv.Atoi(string(b))
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, v)
		case <-deadline:
			t.Fatalf("received %d of %d", len(got), n)
		}
	}
	return got
}

func TestPairKeepsOrder(t *testing.T) {
	a, b := Pair(0, 0, 1)
	for i := 0; i < 100; i++ {
		a.Send([]byte(strconv.Itoa(i)))
	}
	for i, v := range collect(t, b.In, 100) {
		if v != i {
			t.Fatalf("position %d holds %d", i, v)
		}
	}
	if a.Sent() != 100 {
		t.Fatalf("sent %d", a.Sent())
	}
}

func TestReorder(t *testing.T) {
	a, b := Pair(0, 0, 2)
	b.Reorder(5 * time.Millisecond)
	for i := 0; i < 100; i++ {
		a.Send([]byte(strconv.Itoa(i)))
	}
	got := collect(t, b.In, 100)
	seen := make(map[int]bool)
	inversions := 0
	for i, v := range got {
		seen[v] = true
		if i > 0 && v < got[i-1] {
			inversions++
		}
	}
	if len(seen) != 100 {
		t.Fatalf("only %d distinct datagrams delivered", len(seen))
	}
	if inversions == 0 {
		t.Fatal("nothing was reordered")
	}
}
