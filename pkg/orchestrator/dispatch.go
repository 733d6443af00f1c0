package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/cache"
	"github.com/pario-ai/augur/pkg/interpret"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/provider"
	"github.com/pario-ai/augur/pkg/queue"
)

// submit runs on the actor. Resolution order: replay log, cache, Fallback
// Mode, queue.
func (o *Orchestrator) submit(req models.Request, cont Continuation) error {
	if _, dup := o.pending[req.ID]; dup {
		return fmt.Errorf("submit %s: %w", req.ID, ErrDuplicateID)
	}
	if _, dup := o.owner[req.ID]; dup {
		return fmt.Errorf("submit %s: %w", req.ID, ErrDuplicateID)
	}

	fp := cache.Fingerprint(req.CallType, req.Prompt)
	o.submitSeq++
	p := &pending{
		req:         req,
		fingerprint: fp,
		submittedAt: o.now(),
		waiters: []waiter{{
			id:          req.ID,
			tick:        req.SubmittedTick,
			callType:    req.CallType,
			fingerprint: fp,
			seq:         o.submitSeq,
			cont:        cont,
		}},
	}

	o.stats.Submitted++
	if o.source != nil {
		return o.replayed(p)
	}

	if resp, ok := o.cache.Get(fp, req.CallType); ok {
		o.logger.Debug("cache hit", zap.String("request_id", req.ID), zap.String("call_type", string(req.CallType)))
		o.resolve(p, resp)
		return nil
	}
	if o.retry.FallbackActive() {
		o.resolve(p, o.offline(req))
		return nil
	}

	it, replaced, err := o.queue.Submit(req, p.submittedAt)
	if err != nil {
		if errors.Is(err, queue.ErrCapacity) {
			o.stats.Rejected++
			o.bufferOutcome(p.waiters[0], models.OutcomeRejected)
			o.flushReplay()
			o.logger.Debug("request rejected", zap.String("request_id", req.ID), zap.Error(err))
		}
		return err
	}
	p.item = it
	if replaced != nil {
		o.supersede(p, replaced)
	}
	o.pending[req.ID] = p
	for _, w := range p.waiters {
		o.owner[w.id] = req.ID
	}
	return nil
}

// supersede moves the waiters of a replaced queued request onto p.
func (o *Orchestrator) supersede(p *pending, replaced *queue.Item) {
	old, ok := o.pending[replaced.Request.ID]
	if !ok {
		return
	}
	delete(o.pending, old.req.ID)
	o.retry.Discard(old.req.ID)
	p.waiters = append(old.waiters, p.waiters...)
	o.stats.Superseded++
	o.logger.Debug("request superseded",
		zap.String("request_id", old.req.ID),
		zap.String("by", p.req.ID),
		zap.String("subject", p.req.Subject))
}

// replayed answers p from the replay log.
func (o *Orchestrator) replayed(p *pending) error {
	req := p.req
	rec, err := o.source.Match(req.SubmittedTick, req.CallType, p.fingerprint)
	if err != nil {
		if o.divergence == nil {
			o.divergence = err
		}
		o.logger.Error("replay diverged", zap.String("request_id", req.ID), zap.Error(err))
		o.deliver(p.waiters, models.Response{Source: models.SourceReplay, Err: err})
		o.stats.Resolved++
		return nil
	}
	switch rec.Outcome {
	case models.OutcomeRejected:
		o.stats.Rejected++
		return fmt.Errorf("%s: %w (replayed)", req.Tier, ErrCapacity)
	case models.OutcomeCancelled:
		// the original run never delivered this one
		o.stats.Cancelled++
		return nil
	}
	o.resolve(p, models.Response{
		Content: rec.Content,
		Success: true,
		Source:  models.SourceReplay,
	})
	return nil
}

func (o *Orchestrator) cancel(id string) bool {
	primary, ok := o.owner[id]
	if !ok {
		return false
	}
	p := o.pending[primary]
	delete(o.owner, id)
	for i, w := range p.waiters {
		if w.id == id {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			o.bufferOutcome(w, models.OutcomeCancelled)
			break
		}
	}
	o.stats.Cancelled++

	if len(p.waiters) == 0 {
		if _, removed := o.queue.Cancel(primary); removed {
			delete(o.pending, primary)
			o.retry.Discard(primary)
		} else {
			p.cancelled = true
		}
	}
	o.flushReplay()
	o.logger.Debug("request cancelled", zap.String("request_id", id), zap.Bool("in_flight", p.cancelled))
	return true
}

// pump expires, dispatches and re-arms the timer. It runs after every
// actor event.
func (o *Orchestrator) pump() {
	now := o.now()
	for _, it := range o.queue.Expired(now) {
		o.expired(it)
	}
	for o.cfg.MaxInFlight <= 0 || o.inFlight < o.cfg.MaxInFlight {
		it, ok := o.queue.Dispatch(now)
		if !ok {
			break
		}
		o.dispatch(it)
	}
	o.schedule(now)
}

func (o *Orchestrator) schedule(now time.Time) {
	at, ok := o.queue.NextEvent(now)
	if !ok {
		o.timer.Stop()
		return
	}
	d := at.Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	o.timer.Reset(d)
}

func (o *Orchestrator) dispatch(it *queue.Item) {
	p, ok := o.pending[it.Request.ID]
	if !ok {
		o.queue.Done(it)
		return
	}
	req := it.Request

	if o.retry.FallbackActive() {
		o.finish(p)
		o.resolve(p, o.offline(req))
		return
	}
	live, ok := o.chain.Live(o.baseCtx, req.CallType)
	if !ok {
		o.logger.Debug("no live provider", zap.String("request_id", req.ID), zap.String("call_type", string(req.CallType)))
		o.finish(p)
		o.resolve(p, o.offline(req))
		return
	}

	st := o.retry.Begin(req.ID)
	p.attempt = st.Attempts
	o.inFlight++

	ctx, cancel := context.WithTimeout(o.baseCtx, o.queue.Timeout(req))
	o.wg.Add(1)
	go o.attempt(ctx, cancel, req, st.Attempts, live)
}

// attempt runs one provider call off the actor and reports back.
func (o *Orchestrator) attempt(ctx context.Context, cancel context.CancelFunc, req models.Request, n int, p provider.Provider) {
	defer o.wg.Done()
	defer cancel()

	start := time.Now()
	var (
		res provider.Result
		err error
	)
	if o.budget != nil {
		if berr := o.budget.Check(ctx, req.CallType); berr != nil {
			err = &provider.Error{Provider: p.Name(), Kind: provider.KindBudget, Err: berr}
		}
	}
	if err == nil {
		res, err = p.Complete(ctx, req.Prompt, provider.Params{
			CallType:    req.CallType,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	}
	latency := time.Since(start)
	o.journal(req, n, p.Name(), res, err, latency)

	o.do(func() { o.completed(req.ID, n, p, res, err) })
}

func (o *Orchestrator) journal(req models.Request, n int, name string, res provider.Result, err error, latency time.Duration) {
	if o.audit == nil {
		return
	}
	entry := models.AttemptEntry{
		RequestID: req.ID,
		Attempt:   n,
		CallType:  req.CallType,
		Tier:      req.Tier.String(),
		Provider:  name,
		Success:   err == nil,
		Prompt:    req.Prompt,
		Response:  res.Content,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err != nil {
		entry.ErrorKind = provider.KindOf(err).String()
		entry.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if lerr := o.audit.Log(ctx, entry); lerr != nil {
		o.logger.Warn("attempt journal failed", zap.String("request_id", req.ID), zap.Error(lerr))
	}
}

// completed handles an attempt result on the actor.
func (o *Orchestrator) completed(id string, n int, prov provider.Provider, res provider.Result, err error) {
	o.inFlight--
	p, ok := o.pending[id]
	if !ok || p.attempt != n {
		return
	}
	p.attempt = 0
	if p.cancelled {
		o.retry.Discard(id)
		o.finish(p)
		o.logger.Debug("discarded response of cancelled request", zap.String("request_id", id))
		return
	}
	req := p.req

	if err == nil {
		o.retry.OnSuccess(id)
		o.finish(p)
		cost := provider.Cost(prov, res)
		content, perr := interpret.Normalize(req.CallType, res.Content)
		if perr != nil {
			o.stats.Malformed++
			o.logger.Warn("malformed response, using offline content",
				zap.String("request_id", id), zap.String("provider", prov.Name()), zap.Error(perr))
			resp := o.offline(req)
			resp.Cost = cost
			o.resolve(p, resp)
			return
		}
		o.cache.Put(p.fingerprint, req.CallType, content, res.TokensIn, res.TokensOut, cost)
		o.resolve(p, models.Response{
			Content:   content,
			Success:   true,
			TokensIn:  res.TokensIn,
			TokensOut: res.TokensOut,
			Cost:      cost,
			Source:    models.SourceLive,
			Provider:  prov.Name(),
		})
		return
	}

	kind := provider.KindOf(err)
	switch kind {
	case provider.KindBudget, provider.KindMalformed:
		o.retry.Discard(id)
		o.finish(p)
		if kind == provider.KindMalformed {
			o.stats.Malformed++
		}
		o.logger.Warn("live call unusable, using offline content",
			zap.String("request_id", id), zap.Stringer("kind", kind), zap.Error(err))
		o.resolve(p, o.offline(req))
		return
	}
	o.failed(p, kind, err)
}

// expired treats a request that outlived its timeout in the queue as a
// timed-out attempt.
func (o *Orchestrator) expired(it *queue.Item) {
	p, ok := o.pending[it.Request.ID]
	if !ok {
		o.queue.Done(it)
		return
	}
	o.logger.Warn("request expired in queue",
		zap.String("request_id", it.Request.ID), zap.Stringer("tier", it.Request.Tier))
	o.failed(p, provider.KindTimeout, context.DeadlineExceeded)
}

func (o *Orchestrator) failed(p *pending, kind provider.ErrorKind, err error) {
	id := p.req.ID
	d := o.retry.OnFailure(id, kind)
	if d.Retry {
		o.queue.Requeue(p.item, o.now().Add(d.Delay))
		o.logger.Info("retry scheduled",
			zap.String("request_id", id),
			zap.Stringer("kind", kind),
			zap.Int("retry", d.State.Retries),
			zap.Duration("delay", d.Delay))
		return
	}
	o.finish(p)
	o.logger.Warn("falling back to offline content",
		zap.String("request_id", id),
		zap.Stringer("kind", kind),
		zap.Int("attempts", d.State.Attempts),
		zap.Time("fallback_until", o.retry.FallbackUntil()),
		zap.Error(err))
	o.resolve(p, o.offline(p.req))
}

// finish releases p's queue slot and forgets it.
func (o *Orchestrator) finish(p *pending) {
	if p.item != nil {
		o.queue.Done(p.item)
	}
	delete(o.pending, p.req.ID)
	for _, w := range p.waiters {
		delete(o.owner, w.id)
	}
}

func (o *Orchestrator) offline(req models.Request) models.Response {
	off := o.chain.Offline()
	res, _ := off.Complete(o.baseCtx, req.Prompt, provider.Params{CallType: req.CallType})
	return models.Response{
		Content:   res.Content,
		Success:   true,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Source:    models.SourceFallback,
		Provider:  off.Name(),
	}
}

// resolve accounts for resp, records it for replay and delivers it to
// every waiter of p.
func (o *Orchestrator) resolve(p *pending, resp models.Response) {
	resp.Latency = o.now().Sub(p.submittedAt)
	req := p.req

	switch resp.Source {
	case models.SourceLive:
		o.stats.LiveCalls++
	case models.SourceCache:
		o.stats.CacheHits++
	case models.SourceFallback:
		o.stats.Fallbacks++
	case models.SourceReplay:
		o.stats.Replayed++
	}
	o.stats.Total.Add(resp.TokensIn, resp.TokensOut, resp.Cost)
	ct := o.stats.ByCallType[req.CallType]
	ct.Add(resp.TokensIn, resp.TokensOut, resp.Cost)
	o.stats.ByCallType[req.CallType] = ct
	if resp.Provider != "" {
		pc := o.stats.ByProvider[resp.Provider]
		pc.Add(resp.TokensIn, resp.TokensOut, resp.Cost)
		o.stats.ByProvider[resp.Provider] = pc
	}

	if o.source == nil {
		for _, w := range p.waiters {
			o.bufferRecord(w.seq, models.ReplayRecord{
				Tick:        w.tick,
				CallType:    w.callType,
				Fingerprint: w.fingerprint,
				Content:     resp.Content,
			})
		}
		o.track(req, resp)
	}

	o.deliver(p.waiters, resp)
	o.stats.Resolved += int64(len(p.waiters))
	o.flushReplay()
}

func (o *Orchestrator) track(req models.Request, resp models.Response) {
	if o.tracker == nil {
		return
	}
	rec := models.UsageRecord{
		RequestID: req.ID,
		CallType:  req.CallType,
		Provider:  resp.Provider,
		Source:    resp.Source,
		Tick:      req.SubmittedTick,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Cost:      resp.Cost,
		LatencyMs: resp.Latency.Milliseconds(),
		CreatedAt: o.now(),
	}
	select {
	case o.usage <- rec:
	default:
		o.logger.Warn("usage sink full, dropping record", zap.String("request_id", req.ID))
	}
}

// deliver runs each continuation on its own goroutine.
func (o *Orchestrator) deliver(waiters []waiter, resp models.Response) {
	for _, w := range waiters {
		r := resp
		r.RequestID = w.id
		cont := w.cont
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer func() {
				if v := recover(); v != nil {
					o.logger.Error("continuation panicked", zap.String("request_id", r.RequestID), zap.Any("panic", v))
				}
			}()
			cont(r)
		}()
	}
}
