// Package interpret builds prompts for the three simulation call types and
// turns model output back into typed values.
//
// Prompts start with a block of "key: value" header lines followed by a
// blank line and a free-form instruction. The header block is what the
// offline provider reads to produce templated answers, so every builder
// here emits it.
package interpret

import (
	"fmt"
	"strings"

	"github.com/pario-ai/augur/pkg/models"
)

// Field is a single prompt header line.
type Field struct {
	Key   string
	Value string
}

// BuildPrompt renders the header block for callType followed by body.
func BuildPrompt(callType models.CallType, fields []Field, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "call: %s\n", callType)
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Key, oneLine(f.Value))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// Headers parses the leading "key: value" block of a prompt. Keys are
// lower-cased; parsing stops at the first blank or non-header line.
func Headers(prompt string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.ContainsAny(key, " \t") {
			break
		}
		out[strings.ToLower(key)] = strings.TrimSpace(value)
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// PromptContext is what the simulation knows when asking for a player
// decision to be interpreted.
type PromptContext struct {
	Actor     string
	Role      string
	Situation string
	Options   []string
	Input     string
}

// DecisionPrompt builds the prompt for a decision-interpretation call.
func DecisionPrompt(pc PromptContext) string {
	return BuildPrompt(models.CallDecision, []Field{
		{"actor", pc.Actor},
		{"role", pc.Role},
		{"situation", pc.Situation},
		{"options", strings.Join(pc.Options, ", ")},
		{"input", pc.Input},
	}, `Interpret the input as one action. Respond ONLY with a JSON object with fields "action", "tone", "target" and "confidence" (0 to 1).`)
}

// Entity is a simulation entity mentioned in a world snapshot.
type Entity struct {
	ID   string
	Name string
}

// WorldSnapshot summarizes world state for narrative generation.
type WorldSnapshot struct {
	Tick         uint64
	Season       string
	Summary      string
	Entities     []Entity
	RecentEvents []string
}

// NarrativePrompt builds the prompt for a narrative-generation call.
func NarrativePrompt(ws WorldSnapshot) string {
	ents := make([]string, 0, len(ws.Entities))
	for _, e := range ws.Entities {
		ents = append(ents, e.ID+"="+e.Name)
	}
	return BuildPrompt(models.CallNarrative, []Field{
		{"tick", fmt.Sprint(ws.Tick)},
		{"season", ws.Season},
		{"summary", ws.Summary},
		{"entities", strings.Join(ents, ", ")},
		{"recent", strings.Join(ws.RecentEvents, "; ")},
	}, `Propose emergent events. Respond ONLY with a JSON array of objects with fields "title", "description", "priority" (1-5) and "affected_entity_ids".`)
}

// ParseEntities reads the "entities" header written by NarrativePrompt.
func ParseEntities(header string) []Entity {
	var out []Entity
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, "=")
		if !ok {
			name = id
		}
		out = append(out, Entity{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return out
}

// AmbientPrompt builds the prompt for an ambient-dialogue call.
func AmbientPrompt(participantA, participantB, topic string) string {
	return BuildPrompt(models.CallAmbient, []Field{
		{"speaker_a", participantA},
		{"speaker_b", participantB},
		{"topic", topic},
	}, "Write two short lines of overheard dialogue between the speakers. Plain text only.")
}
