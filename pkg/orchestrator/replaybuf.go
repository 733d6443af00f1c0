package orchestrator

import (
	"container/heap"

	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/models"
)

type bufferedRecord struct {
	rec models.ReplayRecord
	seq uint64
}

func (b bufferedRecord) before(tick, seq uint64) bool {
	if b.rec.Tick != tick {
		return b.rec.Tick < tick
	}
	return b.seq < seq
}

// recordHeap orders records waiting to be appended by tick, then by the
// order their requests were submitted in. A replay run submits in the same
// order, so records of one tick and call type are consumed as written.
type recordHeap []bufferedRecord

func (h recordHeap) Len() int { return len(h) }

func (h recordHeap) Less(i, j int) bool { return h[i].before(h[j].rec.Tick, h[j].seq) }

func (h recordHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) { *h = append(*h, x.(bufferedRecord)) }

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}

func (o *Orchestrator) bufferRecord(seq uint64, rec models.ReplayRecord) {
	heap.Push(&o.buf, bufferedRecord{rec: rec, seq: seq})
}

func (o *Orchestrator) bufferOutcome(w waiter, outcome models.ReplayOutcome) {
	if o.source != nil {
		return
	}
	o.bufferRecord(w.seq, models.ReplayRecord{
		Tick:        w.tick,
		CallType:    w.callType,
		Fingerprint: w.fingerprint,
		Outcome:     outcome,
	})
}

// flushReplay appends buffered records that no outstanding request can
// precede. Responses arrive out of submission order; the log must not.
func (o *Orchestrator) flushReplay() {
	tick, seq, waiting := o.lowWater()
	for o.buf.Len() > 0 {
		if waiting && !o.buf[0].before(tick, seq) {
			return
		}
		br := heap.Pop(&o.buf).(bufferedRecord)
		if _, err := o.record.AppendRecord(br.rec); err != nil {
			o.logger.Warn("replay record dropped",
				zap.Uint64("tick", br.rec.Tick),
				zap.String("call_type", string(br.rec.CallType)),
				zap.Error(err))
		}
	}
}

// lowWater returns the (tick, submission) position of the earliest waiter
// still outstanding.
func (o *Orchestrator) lowWater() (tick, seq uint64, found bool) {
	for _, p := range o.pending {
		for _, w := range p.waiters {
			if !found || w.tick < tick || (w.tick == tick && w.seq < seq) {
				tick, seq, found = w.tick, w.seq, true
			}
		}
	}
	return tick, seq, found
}
