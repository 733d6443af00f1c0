package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/pario-ai/augur/pkg/interpret"
	"github.com/pario-ai/augur/pkg/models"
)

// OfflineName is the name the offline provider reports.
const OfflineName = "offline"

// Offline is a deterministic template provider. It never touches the
// network, is always available and costs nothing. The same call type and
// prompt always produce byte-identical content.
type Offline struct{}

// NewOffline returns the offline fallback provider.
func NewOffline() *Offline { return &Offline{} }

func (o *Offline) Name() string                    { return OfflineName }
func (o *Offline) Available(context.Context) bool { return true }
func (o *Offline) CostPerToken() float64           { return 0 }

// Complete renders the template for p.CallType. Unknown call types get a
// generic acknowledgement.
func (o *Offline) Complete(_ context.Context, prompt string, p Params) (Result, error) {
	content := o.Render(p.CallType, prompt)
	return Result{
		Content:   content,
		TokensIn:  estimateTokens(prompt),
		TokensOut: estimateTokens(content),
	}, nil
}

// Render produces the templated content without the Result wrapper.
func (o *Offline) Render(callType models.CallType, prompt string) string {
	h := interpret.Headers(prompt)
	seed := seedFor(callType, prompt)

	switch callType {
	case models.CallDecision:
		return renderDecision(h, seed)
	case models.CallNarrative:
		return renderNarrative(h, seed)
	case models.CallAmbient:
		return renderDialogue(h, seed)
	default:
		return fmt.Sprintf("[%s] The moment passes without remark.", callType)
	}
}

var tones = []string{"measured", "cautious", "resolute", "weary"}

func renderDecision(h map[string]string, seed uint64) string {
	input := strings.Fields(strings.ToLower(h["input"]))
	d := interpret.Decision{
		Action:     "wait",
		Tone:       tones[seed%uint64(len(tones))],
		Target:     h["actor"],
		Confidence: 0.3,
	}
	if len(input) > 0 {
		d.Action = strings.Trim(input[0], ".,;:!?")
	}
	for i, w := range input {
		if (w == "to" || w == "for" || w == "with" || w == "against") && i+1 < len(input) {
			d.Target = strings.Trim(strings.Join(input[i+1:], " "), ".,;:!?")
			break
		}
	}
	return mustJSON(d)
}

var eventTemplates = []struct{ title, description string }{
	{"Quiet Market Day", "Trade in %s carries on without incident as %s keeps to familiar routines."},
	{"Rumours at the Well", "Talk of the %s spreads, and %s is named more than once."},
	{"Weather Turns", "The %s sky shifts; %s hurries to secure what can be secured."},
	{"A Stranger Arrives", "A traveller seeking shelter during the %s asks after %s."},
}

func renderNarrative(h map[string]string, seed uint64) string {
	entities := interpret.ParseEntities(h["entities"])
	season := h["season"]
	if season == "" {
		season = "season"
	}

	tpl := eventTemplates[seed%uint64(len(eventTemplates))]
	ev := interpret.Event{
		Title:             tpl.title,
		Priority:          1 + int(seed%2),
		AffectedEntityIDs: []string{},
	}
	who := "the settlement"
	if len(entities) > 0 {
		e := entities[int(seed>>8)%len(entities)]
		who = e.Name
		ev.AffectedEntityIDs = append(ev.AffectedEntityIDs, e.ID)
	}
	ev.Description = fmt.Sprintf(tpl.description, season, who)
	return mustJSON([]interpret.Event{ev})
}

var dialogueTemplates = []string{
	"%[1]s: Have you heard anything more about %[3]s?\n%[2]s: Only what everyone is saying.",
	"%[1]s: %[3]s again. It is all anyone talks about.\n%[2]s: Let them talk. Work still needs doing.",
	"%[2]s: You look troubled.\n%[1]s: Just thinking about %[3]s.",
	"%[1]s: Do you think %[3]s will change anything?\n%[2]s: Things rarely change as fast as we hope.",
}

func renderDialogue(h map[string]string, seed uint64) string {
	a, b, topic := h["speaker_a"], h["speaker_b"], h["topic"]
	if a == "" {
		a = "A villager"
	}
	if b == "" {
		b = "Another villager"
	}
	if topic == "" {
		topic = "the weather"
	}
	return fmt.Sprintf(dialogueTemplates[seed%uint64(len(dialogueTemplates))], a, b, topic)
}

func seedFor(callType models.CallType, prompt string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(callType))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(prompt), " "))))
	return h.Sum64()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("offline template: %v", err))
	}
	return string(b)
}

// estimateTokens approximates a token count from words.
func estimateTokens(s string) int {
	return (len(strings.Fields(s))*4 + 2) / 3
}
