// Package queue is the three-tier priority request queue. It decides
// admission against per-tier caps, dispatch order and queue expiry.
//
// A Queue is not safe for concurrent use; the orchestrator owns it on a
// single goroutine.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pario-ai/augur/pkg/models"
)

// ErrCapacity is returned when a tier already holds as many requests as its
// cap allows.
var ErrCapacity = errors.New("tier at capacity")

// Item is a request held by the queue, queued or in flight.
type Item struct {
	Request    models.Request
	EnqueuedAt time.Time
	// NotBefore delays dispatch of a retried request.
	NotBefore time.Time
	// Deadline is when a still-queued item expires.
	Deadline time.Time

	seq      uint64
	inFlight bool
}

// InFlight reports whether the item has left the queue and holds a slot.
func (it *Item) InFlight() bool { return it.inFlight }

func (it *Item) before(o *Item) bool {
	if it.Request.SubmittedTick != o.Request.SubmittedTick {
		return it.Request.SubmittedTick < o.Request.SubmittedTick
	}
	return it.seq < o.seq
}

type tier struct {
	cap      int
	timeout  time.Duration
	slots    *semaphore.Weighted
	pending  []*Item
	inFlight int
}

// Queue holds requests for all three tiers.
type Queue struct {
	tiers [models.NumTiers]*tier
	byID  map[string]*Item
	seq   uint64
}

// New creates a queue with per-tier caps and timeouts.
func New(caps map[models.Tier]int, timeouts map[models.Tier]time.Duration) (*Queue, error) {
	q := &Queue{byID: make(map[string]*Item)}
	for _, t := range models.Tiers {
		n := caps[t]
		if n <= 0 {
			return nil, fmt.Errorf("%s cap must be positive, got %d", t, n)
		}
		q.tiers[t] = &tier{
			cap:     n,
			timeout: timeouts[t],
			slots:   semaphore.NewWeighted(int64(n)),
		}
	}
	return q, nil
}

// Submit admits req. A queued request of the same tier and subject is
// superseded: it is removed, its slot passes to req, and it is returned.
// Otherwise req needs a free slot or Submit fails with ErrCapacity.
func (q *Queue) Submit(req models.Request, now time.Time) (*Item, *Item, error) {
	if !req.Tier.Valid() {
		return nil, nil, fmt.Errorf("submit %s: unknown tier %d", req.ID, int(req.Tier))
	}
	if _, dup := q.byID[req.ID]; dup {
		return nil, nil, fmt.Errorf("submit %s: already queued", req.ID)
	}
	t := q.tiers[req.Tier]

	var replaced *Item
	if req.Subject != "" {
		for i, it := range t.pending {
			if it.Request.Subject == req.Subject {
				replaced = it
				t.pending = append(t.pending[:i], t.pending[i+1:]...)
				delete(q.byID, it.Request.ID)
				break
			}
		}
	}
	if replaced == nil && !t.slots.TryAcquire(1) {
		return nil, nil, fmt.Errorf("%s: %w (%d)", req.Tier, ErrCapacity, t.cap)
	}

	q.seq++
	it := &Item{
		Request:    req,
		EnqueuedAt: now,
		Deadline:   now.Add(q.timeoutFor(req)),
		seq:        q.seq,
	}
	q.insert(t, it)
	q.byID[req.ID] = it
	return it, replaced, nil
}

func (q *Queue) timeoutFor(req models.Request) time.Duration {
	d := q.tiers[req.Tier].timeout
	if req.Deadline > 0 && (d <= 0 || req.Deadline < d) {
		d = req.Deadline
	}
	return d
}

// Timeout returns the effective timeout of req.
func (q *Queue) Timeout(req models.Request) time.Duration {
	if !req.Tier.Valid() {
		return 0
	}
	return q.timeoutFor(req)
}

func (q *Queue) insert(t *tier, it *Item) {
	i := sort.Search(len(t.pending), func(i int) bool { return it.before(t.pending[i]) })
	t.pending = append(t.pending, nil)
	copy(t.pending[i+1:], t.pending[i:])
	t.pending[i] = it
}

// Dispatch removes and returns the next eligible item: interactive before
// narrative before ambient, FIFO by submitted tick within a tier. Items
// waiting out a retry delay are skipped.
func (q *Queue) Dispatch(now time.Time) (*Item, bool) {
	for _, tr := range models.Tiers {
		t := q.tiers[tr]
		for i, it := range t.pending {
			if it.NotBefore.After(now) {
				continue
			}
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			it.inFlight = true
			t.inFlight++
			return it, true
		}
	}
	return nil, false
}

// Expired removes queued items whose deadline has passed. They keep their
// slots until Requeue or Done.
func (q *Queue) Expired(now time.Time) []*Item {
	var out []*Item
	for _, tr := range models.Tiers {
		t := q.tiers[tr]
		kept := t.pending[:0]
		for _, it := range t.pending {
			if !now.Before(it.Deadline) {
				it.inFlight = true
				t.inFlight++
				out = append(out, it)
				continue
			}
			kept = append(kept, it)
		}
		for i := len(kept); i < len(t.pending); i++ {
			t.pending[i] = nil
		}
		t.pending = kept
	}
	return out
}

// Requeue puts an in-flight item back for another attempt no earlier than
// notBefore. It keeps its place in FIFO order and its slot.
func (q *Queue) Requeue(it *Item, notBefore time.Time) {
	if !it.inFlight {
		return
	}
	t := q.tiers[it.Request.Tier]
	it.inFlight = false
	t.inFlight--
	it.NotBefore = notBefore
	it.Deadline = notBefore.Add(q.timeoutFor(it.Request))
	q.insert(t, it)
}

// Done releases the slot of an in-flight item.
func (q *Queue) Done(it *Item) {
	if !it.inFlight {
		return
	}
	t := q.tiers[it.Request.Tier]
	it.inFlight = false
	t.inFlight--
	t.slots.Release(1)
	delete(q.byID, it.Request.ID)
}

// Cancel removes a queued request. It returns false if id is unknown or
// already in flight.
func (q *Queue) Cancel(id string) (*Item, bool) {
	it, ok := q.byID[id]
	if !ok || it.inFlight {
		return nil, false
	}
	t := q.tiers[it.Request.Tier]
	for i, p := range t.pending {
		if p == it {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.slots.Release(1)
	delete(q.byID, id)
	return it, true
}

// Get returns the item for id, queued or in flight.
func (q *Queue) Get(id string) (*Item, bool) {
	it, ok := q.byID[id]
	return it, ok
}

// Len returns the number of queued items across all tiers.
func (q *Queue) Len() int {
	n := 0
	for _, t := range q.tiers {
		n += len(t.pending)
	}
	return n
}

// TierLen returns the queued and in-flight counts of a tier.
func (q *Queue) TierLen(tr models.Tier) (queued, inFlight int) {
	if !tr.Valid() {
		return 0, 0
	}
	t := q.tiers[tr]
	return len(t.pending), t.inFlight
}

// Items returns every held item, queued and in flight.
func (q *Queue) Items() []*Item {
	out := make([]*Item, 0, len(q.byID))
	for _, it := range q.byID {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

// NextEvent returns the earliest time after now that something queued
// becomes dispatchable, or the earliest queue deadline.
func (q *Queue) NextEvent(now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, t := range q.tiers {
		for _, it := range t.pending {
			at := it.Deadline
			if it.NotBefore.After(now) && it.NotBefore.Before(at) {
				at = it.NotBefore
			}
			if !found || at.Before(next) {
				next, found = at, true
			}
		}
	}
	return next, found
}
