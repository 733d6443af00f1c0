package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pario-ai/augur/pkg/interpret"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/orchestrator"
)

// demoWorld is a small village whose requests depend only on the seed and
// the tick, so a replay run submits exactly what the recorded run did.
type demoWorld struct {
	rng *rand.Rand
}

var (
	villagers = []interpret.Entity{
		{ID: "e1", Name: "Maren the smith"},
		{ID: "e2", Name: "Old Tobin"},
		{ID: "e3", Name: "Ilse the herbalist"},
		{ID: "e4", Name: "Captain Roth"},
		{ID: "e5", Name: "Pell the miller"},
	}
	topics   = []string{"the harvest", "wolves near the ridge", "the new tax", "a stranger at the inn", "the river flooding"}
	seasons  = []string{"spring", "summer", "autumn", "winter"}
	inputs   = []string{"ask the smith to repair my sword", "threaten the miller about the grain price", "help the herbalist gather roots", "follow the stranger quietly", "rest at the inn"}
	choices  = []string{"trade", "threaten", "help", "follow", "rest"}
	happened = []string{"a cart lost a wheel", "smoke seen over the hills", "the well ran dry", "a festival was announced", "tracks found by the mill"}
)

func newDemoWorld(seed uint64) *demoWorld {
	return &demoWorld{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (w *demoWorld) pick(from []string) string { return from[w.rng.IntN(len(from))] }

func (w *demoWorld) pair() (interpret.Entity, interpret.Entity) {
	i := w.rng.IntN(len(villagers))
	j := (i + 1 + w.rng.IntN(len(villagers)-1)) % len(villagers)
	return villagers[i], villagers[j]
}

// tracked is an outstanding call the tick loop polls.
type tracked struct {
	tick  uint64
	label string
	done  <-chan struct{}
	poll  func() (string, models.Response, bool)
}

func track[T any](tick uint64, label string, f *orchestrator.Future[T], show func(T) string) *tracked {
	return &tracked{
		tick:  tick,
		label: label,
		done:  f.Done(),
		poll: func() (string, models.Response, bool) {
			v, done, err := f.Poll()
			if !done {
				return "", models.Response{}, false
			}
			resp, _ := f.Response()
			if err != nil {
				return "error: " + err.Error(), resp, true
			}
			return show(v), resp, true
		},
	}
}

// step submits this tick's requests. Ambient chatter happens every tick,
// the player acts every third tick and the world is narrated every fifth.
// Rejected submissions are returned as messages rather than errors.
func (w *demoWorld) step(o *orchestrator.Orchestrator, tick uint64) ([]*tracked, []string, error) {
	var (
		calls    []*tracked
		rejected []string
	)
	note := func(label string, err error) error {
		if errors.Is(err, orchestrator.ErrCapacity) {
			rejected = append(rejected, fmt.Sprintf("%s rejected: %v", label, err))
			return nil
		}
		return err
	}

	a, b := w.pair()
	topic := w.pick(topics)
	label := fmt.Sprintf("%s & %s on %s", a.Name, b.Name, topic)
	f, err := o.AmbientDialogue(a.Name, b.Name, topic)
	if err != nil {
		if err := note(label, err); err != nil {
			return nil, nil, err
		}
	} else {
		calls = append(calls, track(tick, label, f, func(s string) string { return s }))
	}

	if tick%3 == 1 {
		i := w.rng.IntN(len(inputs))
		target := villagers[i%len(villagers)]
		pc := interpret.PromptContext{
			Actor:     "the wanderer",
			Role:      "player",
			Situation: fmt.Sprintf("in the village square near %s", target.Name),
			Options:   choices,
			Input:     inputs[i],
		}
		label := "decision: " + pc.Input
		f, err := o.InterpretDecision(pc)
		if err != nil {
			if err := note(label, err); err != nil {
				return nil, nil, err
			}
		} else {
			calls = append(calls, track(tick, label, f, func(d interpret.Decision) string {
				return fmt.Sprintf("%s (%s) -> %s [%.2f]", d.Action, d.Tone, d.Target, d.Confidence)
			}))
		}
	}

	if tick%5 == 0 {
		ws := interpret.WorldSnapshot{
			Tick:         tick,
			Season:       seasons[(tick/20)%uint64(len(seasons))],
			Summary:      "a quiet village at the edge of the forest",
			Entities:     villagers,
			RecentEvents: []string{w.pick(happened), w.pick(happened)},
		}
		label := fmt.Sprintf("narrative for tick %d", tick)
		f, err := o.GenerateNarrative(ws)
		if err != nil {
			if err := note(label, err); err != nil {
				return nil, nil, err
			}
		} else {
			calls = append(calls, track(tick, label, f, func(evs []interpret.Event) string {
				titles := make([]string, 0, len(evs))
				for _, e := range evs {
					titles = append(titles, e.Title)
				}
				return strings.Join(titles, "; ")
			}))
		}
	}
	return calls, rejected, nil
}
