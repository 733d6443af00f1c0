// Package orchestrator is the façade the simulation talks to. It accepts
// requests, answers them from the replay log, the cache or a provider, and
// delivers every accepted request's response to its continuation exactly
// once.
//
// All orchestrator state is owned by a single goroutine. Public methods
// hand closures to it over a channel; provider calls run on their own
// goroutines and report back the same way. Continuations run on fresh
// goroutines and never on the simulation's calling goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/audit"
	"github.com/pario-ai/augur/pkg/budget"
	"github.com/pario-ai/augur/pkg/cache"
	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/provider"
	"github.com/pario-ai/augur/pkg/queue"
	"github.com/pario-ai/augur/pkg/replay"
	"github.com/pario-ai/augur/pkg/retry"
	"github.com/pario-ai/augur/pkg/tracker"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrDuplicateID is returned when a request id is already outstanding.
	ErrDuplicateID = errors.New("duplicate request id")
	// ErrCapacity is returned synchronously when the request's tier is full.
	ErrCapacity = queue.ErrCapacity
)

// Continuation receives a request's response.
type Continuation func(models.Response)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithChain sets the provider chain. Without one every request is served
// by the offline provider.
func WithChain(c *provider.Chain) Option {
	return func(o *Orchestrator) { o.chain = c }
}

// WithReplay puts the orchestrator in replay mode: responses come from l
// and no provider is contacted.
func WithReplay(l *replay.Log) Option {
	return func(o *Orchestrator) { o.source = l }
}

// WithRecorder appends resolved responses to l instead of a fresh log.
func WithRecorder(l *replay.Log) Option {
	return func(o *Orchestrator) { o.record = l }
}

// WithTracker records every resolution in t.
func WithTracker(t tracker.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithBudget checks e before every live attempt.
func WithBudget(e *budget.Enforcer) Option {
	return func(o *Orchestrator) { o.budget = e }
}

// WithAudit journals every provider attempt to l.
func WithAudit(l *audit.Logger) Option {
	return func(o *Orchestrator) { o.audit = l }
}

// WithCacheEntries warms the cache from a saved snapshot.
func WithCacheEntries(entries []models.CacheEntry) Option {
	return func(o *Orchestrator) { o.warm = entries }
}

type waiter struct {
	id          string
	tick        uint64
	callType    models.CallType
	fingerprint string
	// seq is the submission order, which fixes the record's place in the
	// replay log among records of the same tick.
	seq  uint64
	cont Continuation
}

// pending is a request accepted but not yet resolved, together with every
// superseded request waiting on its response.
type pending struct {
	req         models.Request
	fingerprint string
	item        *queue.Item
	waiters     []waiter
	submittedAt time.Time
	// attempt is the number of the attempt in flight, zero when queued.
	attempt int
	// cancelled marks an in-flight request whose waiters are all gone.
	cancelled bool
}

// Orchestrator schedules model calls for the simulation.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	chain   *provider.Chain
	cache   *cache.Cache
	queue   *queue.Queue
	retry   *retry.Controller
	record  *replay.Log
	source  *replay.Log
	tracker tracker.Tracker
	budget  *budget.Enforcer
	audit   *audit.Logger
	warm    []models.CacheEntry

	tick atomic.Uint64

	mu        sync.RWMutex
	closed    bool
	ops       chan func()
	quit      chan struct{}
	actorDone chan struct{}
	frozen    sync.Mutex
	wg        sync.WaitGroup

	usage  chan models.UsageRecord
	sinkWG sync.WaitGroup

	baseCtx   context.Context
	cancelAll context.CancelFunc

	// owned by the actor goroutine
	pending    map[string]*pending
	owner      map[string]string
	inFlight   int
	stats      models.UsageStats
	divergence error
	buf        recordHeap
	submitSeq  uint64
	timer      *time.Timer
}

// New builds an orchestrator from cfg and starts it.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q, err := queue.New(cfg.TierCaps(), cfg.TierTimeouts())
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
		queue:     q,
		ops:       make(chan func(), 64),
		quit:      make(chan struct{}),
		actorDone: make(chan struct{}),
		usage:     make(chan models.UsageRecord, 256),
		pending:   make(map[string]*pending),
		owner:     make(map[string]string),
		stats: models.UsageStats{
			ByCallType: make(map[models.CallType]models.TokenCounts),
			ByProvider: make(map[string]models.TokenCounts),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chain == nil {
		o.chain, _ = provider.NewChain(nil, nil)
	}
	if o.record == nil {
		o.record = replay.NewLog()
	}
	o.retry = retry.New(cfg.RetryConfig(), o.now)
	o.cache = cache.New(cfg.CacheSize, cfg.CacheTTLs(), cache.WithClock(o.now))
	if len(o.warm) > 0 {
		n := o.cache.Warm(o.warm)
		o.logger.Info("cache warmed", zap.Int("entries", n), zap.Int("offered", len(o.warm)))
		o.warm = nil
	}
	o.baseCtx, o.cancelAll = context.WithCancel(context.Background())
	o.timer = time.NewTimer(time.Hour)
	o.timer.Stop()

	o.sinkWG.Add(1)
	go o.sink()
	go o.run()

	o.logger.Info("orchestrator started",
		zap.Bool("replay", o.source != nil),
		zap.Int("providers", len(o.chain.Providers())),
		zap.Int("cache_size", cfg.CacheSize))
	return o, nil
}

func (o *Orchestrator) run() {
	defer close(o.actorDone)
	for {
		select {
		case fn := <-o.ops:
			fn()
		case <-o.timer.C:
		case <-o.quit:
			o.shutdown()
			return
		}
		o.pump()
	}
}

// do hands fn to the actor. It returns false once the orchestrator is
// closed.
func (o *Orchestrator) do(fn func()) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	o.ops <- fn
	return true
}

// call runs fn on the actor and waits for its result.
func call[T any](o *Orchestrator, fn func() T) (T, error) {
	ch := make(chan T, 1)
	if !o.do(func() { ch <- fn() }) {
		var zero T
		return zero, ErrClosed
	}
	return <-ch, nil
}

// inspect runs a read-only fn on the actor, or directly once the actor has
// stopped, so counters stay readable after Close.
func inspect[T any](o *Orchestrator, fn func() T) T {
	if v, err := call(o, fn); err == nil {
		return v
	}
	<-o.actorDone
	o.frozen.Lock()
	defer o.frozen.Unlock()
	return fn()
}

// SetTick records the simulation's current tick. Typed calls that do not
// name a tick are submitted on it.
func (o *Orchestrator) SetTick(tick uint64) { o.tick.Store(tick) }

// Tick returns the tick set by SetTick.
func (o *Orchestrator) Tick() uint64 { return o.tick.Load() }

// Submit accepts req and arranges for cont to be called exactly once with
// its response. It never blocks on I/O. A full tier is reported here as
// ErrCapacity and cont is never called.
func (o *Orchestrator) Submit(req models.Request, cont Continuation) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CallType == "" {
		return fmt.Errorf("submit %s: missing call type", req.ID)
	}
	if !req.Tier.Valid() {
		return fmt.Errorf("submit %s: unknown tier %d", req.ID, int(req.Tier))
	}
	if cont == nil {
		cont = func(models.Response) {}
	}
	res, err := call(o, func() error { return o.submit(req, cont) })
	if err != nil {
		return err
	}
	return res
}

// Cancel withdraws a request. A request still queued is dropped and its
// continuation never runs. A request already in flight completes, but its
// response is discarded. Cancel reports whether id was outstanding.
func (o *Orchestrator) Cancel(id string) bool {
	ok, err := call(o, func() bool { return o.cancel(id) })
	return err == nil && ok
}

// SetFallbackMode forces Fallback Mode on for d, or off. A non-positive d
// uses the configured cool-down.
func (o *Orchestrator) SetFallbackMode(on bool, d time.Duration) {
	o.do(func() {
		o.retry.SetFallback(on, d)
		o.logger.Info("fallback mode set", zap.Bool("on", on), zap.Time("until", o.retry.FallbackUntil()))
	})
}

// FallbackActive reports whether Fallback Mode is on.
func (o *Orchestrator) FallbackActive() bool {
	return inspect(o, o.retry.FallbackActive)
}

// UsageStats returns a copy of the usage and cost counters.
func (o *Orchestrator) UsageStats() models.UsageStats {
	return inspect(o, func() models.UsageStats {
		s := o.stats
		s.ByCallType = make(map[models.CallType]models.TokenCounts, len(o.stats.ByCallType))
		for k, v := range o.stats.ByCallType {
			s.ByCallType[k] = v
		}
		s.ByProvider = make(map[string]models.TokenCounts, len(o.stats.ByProvider))
		for k, v := range o.stats.ByProvider {
			s.ByProvider[k] = v
		}
		return s
	})
}

// CacheStats returns the cache counters.
func (o *Orchestrator) CacheStats() models.CacheStats { return o.cache.Stats() }

// RetryStats returns the retry controller counters.
func (o *Orchestrator) RetryStats() models.RetryStats {
	return inspect(o, o.retry.Stats)
}

// Divergence returns the first replay divergence, if any.
func (o *Orchestrator) Divergence() error {
	return inspect(o, func() error { return o.divergence })
}

// CacheSnapshot returns the live cache entries, least recently used first.
func (o *Orchestrator) CacheSnapshot() []models.CacheEntry { return o.cache.Snapshot() }

// WarmCache loads saved entries into the cache and returns how many were
// kept.
func (o *Orchestrator) WarmCache(entries []models.CacheEntry) int {
	n, _ := call(o, func() int { return o.cache.Warm(entries) })
	return n
}

// ReplayLog returns the log resolved responses are recorded to. Records
// for requests still outstanding are appended once earlier ticks settle;
// the log is complete after Close.
func (o *Orchestrator) ReplayLog() *replay.Log { return o.record }

// Close stops accepting requests. Outstanding requests are resolved with
// offline content, provider calls are cancelled, and Close waits for every
// continuation to return or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	close(o.quit)

	done := make(chan struct{})
	go func() {
		<-o.actorDone
		o.wg.Wait()
		close(o.usage)
		o.sinkWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close orchestrator: %w", ctx.Err())
	}
}

func (o *Orchestrator) shutdown() {
	// nothing can be sent once closed is set, so this drains everything
	for drained := false; !drained; {
		select {
		case fn := <-o.ops:
			fn()
		default:
			drained = true
		}
	}
	o.cancelAll()
	o.timer.Stop()

	for id, p := range o.pending {
		delete(o.pending, id)
		if p.cancelled || len(p.waiters) == 0 {
			continue
		}
		o.retry.Discard(id)
		o.resolve(p, o.offline(p.req))
	}
	o.flushReplay()
}

// sink writes usage records to the tracker off the actor goroutine.
func (o *Orchestrator) sink() {
	defer o.sinkWG.Done()
	for rec := range o.usage {
		if o.tracker == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.tracker.Record(ctx, rec); err != nil {
			o.logger.Warn("usage record failed", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
		cancel()
	}
}
