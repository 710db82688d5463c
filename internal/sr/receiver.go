package sr

import (
	"context"
	"fmt"
	"time"

	"arqtransfer/internal/arq"
	"arqtransfer/internal/chunk"
	"arqtransfer/internal/packet"
)

// Receiver buffers frames in any order and acknowledges each one.
type Receiver struct {
	opts  arq.Options
	link  arq.Link
	total int
	arena *chunk.Arena
	done  bool
	stats arq.Stats
}

// NewReceiver expects total chunks; zero learns total from the first frame.
func NewReceiver(total int, link arq.Link, opts arq.Options) *Receiver {
	r := &Receiver{opts: opts.Normalize(), link: link}
	if total > 0 {
		r.setTotal(total)
	}
	return r
}

func (r *Receiver) setTotal(total int) {
	r.total = total
	r.arena = chunk.NewArena(total)
	r.stats.Total = total
	r.opts.Progress.Set(0, total)
}

func (r *Receiver) Received() int {
	if r.arena == nil {
		return 0
	}
	return r.arena.Count()
}

func (r *Receiver) Done() bool { return r.done }

func (r *Receiver) Stats() arq.Stats { return r.stats }

// HandleFrame stores f unless already held and replies ACK:seq. Frames from
// another transfer shape are refused without an ACK.
func (r *Receiver) HandleFrame(f packet.Frame) (bool, error) {
	if r.total == 0 {
		if f.Total < 1 {
			return false, nil
		}
		r.setTotal(f.Total)
	}
	if f.Total != r.total || f.Seq >= r.total {
		r.opts.Log.Debugf("Discarding frame seq=%d total=%d, transfer has %d chunks", f.Seq, f.Total, r.total)
		return false, nil
	}
	fresh, _ := r.arena.Put(f.Seq, f.Payload)
	if fresh {
		r.stats.Bytes += int64(len(f.Payload))
		r.opts.Progress.Set(r.arena.Count(), r.total)
		r.opts.Log.Debugf("Buffered frame seq=%d (%d/%d)", f.Seq, r.arena.Count(), r.total)
	} else {
		r.stats.Duplicates++
		r.opts.Log.Debugf("Duplicate frame seq=%d", f.Seq)
	}
	if err := r.link.Send(packet.Ack(f.Seq)); err != nil {
		return true, fmt.Errorf("send ACK:%d: %w", f.Seq, err)
	}
	r.stats.AcksSent++
	return true, nil
}

// Run receives until END and returns the reassembled blob.
func (r *Receiver) Run(ctx context.Context, src *arq.Source) ([]byte, arq.Stats, error) {
	r.stats.Started = time.Now()
	defer src.Stop()
	for {
		ev := src.Next(ctx)
		switch ev.Kind {
		case arq.EventDatagram:
			m := packet.Classify(ev.Data)
			switch m.Kind {
			case packet.KindFrame:
				if _, err := r.HandleFrame(m.Frame); err != nil {
					return nil, r.stats, err
				}
			case packet.KindEnd:
				return r.finish()
			case packet.KindInvalid:
				r.opts.Log.Debugf("Dropping undecodable datagram: %v", m.Err)
			default:
				r.opts.Log.Debugf("Ignoring %s while receiving", m.Kind)
			}
		case arq.EventTimeout:
		case arq.EventIdle:
			return nil, r.stats, arq.ErrIdle
		case arq.EventClosed:
			return nil, r.stats, arq.ErrInputClosed
		case arq.EventCancelled:
			return nil, r.stats, ctx.Err()
		}
	}
}

func (r *Receiver) finish() ([]byte, arq.Stats, error) {
	r.done = true
	r.stats.Finished = time.Now()
	if r.arena == nil {
		r.setTotal(1)
	}
	blob, err := r.arena.Reassemble()
	if err != nil {
		return nil, r.stats, err
	}
	r.opts.Log.WithFields(r.stats.Fields()).Infof("END received, reassembled %d bytes", len(blob))
	return blob, r.stats, nil
}
