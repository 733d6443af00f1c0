package interpret

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pario-ai/augur/pkg/models"
)

// ErrMalformed is returned when neither structured nor lenient extraction
// yields a usable value.
var ErrMalformed = errors.New("malformed response")

// Decision is an interpreted player decision.
type Decision struct {
	Action     string  `json:"action"`
	Tone       string  `json:"tone"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// Event is one proposed emergent narrative event.
type Event struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Priority          int      `json:"priority"`
	AffectedEntityIDs []string `json:"affected_entity_ids"`
}

// ParseDecision decodes a decision, first as strict JSON, then from the
// first {...} span, then from "key: value" lines.
func ParseDecision(content string) (Decision, error) {
	var d Decision
	text := stripFences(content)

	if err := json.Unmarshal([]byte(text), &d); err != nil || d.Action == "" {
		d = Decision{}
		if span, ok := extractSpan(text, '{', '}'); ok {
			_ = json.Unmarshal([]byte(span), &d)
		}
	}
	if d.Action == "" {
		d = decisionFromLines(text)
	}
	if d.Action == "" {
		return Decision{}, fmt.Errorf("decision: %w", ErrMalformed)
	}

	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	if d.Tone == "" {
		d.Tone = "neutral"
	}
	d.Confidence = clamp(d.Confidence, 0, 1)
	return d, nil
}

func decisionFromLines(text string) Decision {
	var d Decision
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `",`)
		switch strings.ToLower(strings.Trim(strings.TrimSpace(key), `"-* `)) {
		case "action":
			d.Action = value
		case "tone":
			d.Tone = value
		case "target":
			d.Target = value
		case "confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				d.Confidence = f
			}
		}
	}
	return d
}

// ParseEvents decodes a list of events: a JSON array, an object with an
// "events" array, the first [...] span, or "- title: description" lines.
func ParseEvents(content string) ([]Event, error) {
	text := stripFences(content)

	events, ok := decodeEvents(text)
	if !ok {
		if span, found := extractSpan(text, '[', ']'); found {
			events, ok = decodeEvents(span)
		}
	}
	if !ok {
		events = eventsFromLines(text)
	}

	out := events[:0]
	for _, e := range events {
		e.Title = strings.TrimSpace(e.Title)
		if e.Title == "" {
			continue
		}
		if e.Priority == 0 {
			e.Priority = 3
		}
		e.Priority = int(clamp(float64(e.Priority), 1, 5))
		if e.AffectedEntityIDs == nil {
			e.AffectedEntityIDs = []string{}
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("events: %w", ErrMalformed)
	}
	return out, nil
}

func decodeEvents(text string) ([]Event, bool) {
	var events []Event
	if err := json.Unmarshal([]byte(text), &events); err == nil {
		return events, true
	}
	var wrapped struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && len(wrapped.Events) > 0 {
		return wrapped.Events, true
	}
	return nil, false
}

func eventsFromLines(text string) []Event {
	var events []Event
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
			continue
		}
		title, desc, _ := strings.Cut(line[2:], ":")
		events = append(events, Event{
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(desc),
		})
	}
	return events
}

// ParseDialogue cleans ambient dialogue text. JSON wrappers such as
// {"dialogue": "..."} are unwrapped.
func ParseDialogue(content string) (string, error) {
	text := stripFences(content)
	if strings.HasPrefix(text, "{") {
		var wrapped map[string]any
		if err := json.Unmarshal([]byte(text), &wrapped); err == nil {
			for _, k := range []string{"dialogue", "text", "content"} {
				if s, ok := wrapped[k].(string); ok {
					text = s
					break
				}
			}
		}
	}
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	if text == "" || strings.HasPrefix(text, "{") {
		return "", fmt.Errorf("dialogue: %w", ErrMalformed)
	}
	return text, nil
}

// Normalize parses content for callType and returns its canonical form, so
// that what is cached and logged for replay is always well formed. Unknown
// call types pass through unchanged.
func Normalize(callType models.CallType, content string) (string, error) {
	switch callType {
	case models.CallDecision:
		d, err := ParseDecision(content)
		if err != nil {
			return "", err
		}
		return marshal(d)
	case models.CallNarrative:
		events, err := ParseEvents(content)
		if err != nil {
			return "", err
		}
		return marshal(events)
	case models.CallAmbient:
		return ParseDialogue(content)
	default:
		return content, nil
	}
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func extractSpan(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
