// Package chunk splits blobs into fixed-size chunks and puts them back together.
package chunk

import (
	"fmt"
)

// Total is the number of chunks for a blob of size bytes. An empty blob still
// travels as one empty chunk.
func Total(size int64, chunkSize int) int {
	if size <= 0 {
		return 1
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// Segment splits blob into chunkSize slices. The slices alias blob.
func Segment(blob []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		panic("chunk: non-positive chunk size")
	}
	total := Total(int64(len(blob)), chunkSize)
	chunks := make([][]byte, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(blob) {
			end = len(blob)
		}
		chunks[i] = blob[start:end]
	}
	return chunks
}

// IncompleteTransferError is returned when reassembly is attempted with gaps.
type IncompleteTransferError struct {
	Total        int
	Received     int
	FirstMissing int
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer: %d/%d chunks, first missing seq %d", e.Received, e.Total, e.FirstMissing)
}

// Reassemble concatenates chunks 0..total-1 in order.
func Reassemble(chunks map[int][]byte, total int) ([]byte, error) {
	a := NewArena(total)
	for seq, p := range chunks {
		if _, err := a.Put(seq, p); err != nil {
			return nil, err
		}
	}
	return a.Reassemble()
}

// Arena holds one optional slot per sequence number.
type Arena struct {
	slots   [][]byte
	present []bool
	count   int
	bytes   int
}

func NewArena(total int) *Arena {
	if total < 1 {
		total = 1
	}
	return &Arena{
		slots:   make([][]byte, total),
		present: make([]bool, total),
	}
}

// Put stores the payload for seq. It reports false for a chunk already held;
// the stored copy is never replaced.
func (a *Arena) Put(seq int, payload []byte) (bool, error) {
	if seq < 0 || seq >= len(a.slots) {
		return false, fmt.Errorf("seq %d out of range [0,%d)", seq, len(a.slots))
	}
	if a.present[seq] {
		return false, nil
	}
	a.slots[seq] = payload
	a.present[seq] = true
	a.count++
	a.bytes += len(payload)
	return true, nil
}

func (a *Arena) Has(seq int) bool {
	return seq >= 0 && seq < len(a.slots) && a.present[seq]
}

func (a *Arena) Total() int { return len(a.slots) }

func (a *Arena) Count() int { return a.count }

// Bytes is the number of payload bytes held.
func (a *Arena) Bytes() int { return a.bytes }

func (a *Arena) Complete() bool { return a.count == len(a.slots) }

// Missing lists absent sequence numbers in ascending order.
func (a *Arena) Missing() []int {
	var out []int
	for i, ok := range a.present {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Reassemble returns the blob, or an *IncompleteTransferError if any slot is empty.
func (a *Arena) Reassemble() ([]byte, error) {
	if !a.Complete() {
		return nil, &IncompleteTransferError{
			Total:        len(a.slots),
			Received:     a.count,
			FirstMissing: a.Missing()[0],
		}
	}
	out := make([]byte, 0, a.bytes)
	for _, p := range a.slots {
		out = append(out, p...)
	}
	return out, nil
}
