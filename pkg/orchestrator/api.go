package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/augur/pkg/interpret"
	"github.com/pario-ai/augur/pkg/models"
)

// WorldSnapshotSubject is the default subject of narrative calls, so a
// newer snapshot replaces one still waiting in the queue.
const WorldSnapshotSubject = "world-snapshot"

type callOptions struct {
	id          string
	tier        models.Tier
	tierSet     bool
	tick        uint64
	tickSet     bool
	subject     string
	maxTokens   int
	temperature float64
	deadline    time.Duration
}

// CallOption adjusts one typed call.
type CallOption func(*callOptions)

// WithID sets the request id instead of generating one.
func WithID(id string) CallOption { return func(c *callOptions) { c.id = id } }

// WithTier overrides the call type's default tier.
func WithTier(t models.Tier) CallOption {
	return func(c *callOptions) { c.tier, c.tierSet = t, true }
}

// WithTick submits the call on tick instead of the current one.
func WithTick(tick uint64) CallOption {
	return func(c *callOptions) { c.tick, c.tickSet = tick, true }
}

// WithSubject sets the supersede subject. An empty subject disables
// superseding.
func WithSubject(s string) CallOption { return func(c *callOptions) { c.subject = s } }

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CallOption { return func(c *callOptions) { c.maxTokens = n } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CallOption { return func(c *callOptions) { c.temperature = t } }

// WithDeadline shortens the tier timeout for this call.
func WithDeadline(d time.Duration) CallOption { return func(c *callOptions) { c.deadline = d } }

var callDefaults = map[models.CallType]callOptions{
	models.CallDecision:  {maxTokens: 256, temperature: 0.2},
	models.CallNarrative: {maxTokens: 768, temperature: 0.8, subject: WorldSnapshotSubject},
	models.CallAmbient:   {maxTokens: 160, temperature: 0.9},
}

func (o *Orchestrator) request(ct models.CallType, prompt string, opts []CallOption) models.Request {
	c := callDefaults[ct]
	for _, opt := range opts {
		opt(&c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if !c.tierSet {
		c.tier = ct.DefaultTier()
	}
	if !c.tickSet {
		c.tick = o.Tick()
	}
	return models.Request{
		ID:            c.id,
		Tier:          c.tier,
		CallType:      ct,
		Subject:       c.subject,
		Prompt:        prompt,
		MaxTokens:     c.maxTokens,
		Temperature:   c.temperature,
		SubmittedTick: c.tick,
		Deadline:      c.deadline,
	}
}

func submitTyped[T any](o *Orchestrator, req models.Request, parse func(string) (T, error)) (*Future[T], error) {
	f := newFuture[T]()
	f.id = req.ID
	err := o.Submit(req, func(resp models.Response) {
		var zero T
		if resp.Err != nil {
			f.settle(zero, resp, resp.Err)
			return
		}
		v, err := parse(resp.Content)
		if err != nil {
			f.settle(zero, resp, fmt.Errorf("%s %s: %w", req.CallType, req.ID, err))
			return
		}
		f.settle(v, resp, nil)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// InterpretDecision asks for a player decision to be interpreted.
func (o *Orchestrator) InterpretDecision(pc interpret.PromptContext, opts ...CallOption) (*Future[interpret.Decision], error) {
	req := o.request(models.CallDecision, interpret.DecisionPrompt(pc), opts)
	return submitTyped(o, req, interpret.ParseDecision)
}

// GenerateNarrative asks for emergent events for a world snapshot.
func (o *Orchestrator) GenerateNarrative(ws interpret.WorldSnapshot, opts ...CallOption) (*Future[[]interpret.Event], error) {
	req := o.request(models.CallNarrative, interpret.NarrativePrompt(ws), opts)
	return submitTyped(o, req, interpret.ParseEvents)
}

// AmbientDialogue asks for a line of overheard dialogue.
func (o *Orchestrator) AmbientDialogue(participantA, participantB, topic string, opts ...CallOption) (*Future[string], error) {
	req := o.request(models.CallAmbient, interpret.AmbientPrompt(participantA, participantB, topic), opts)
	return submitTyped(o, req, interpret.ParseDialogue)
}
