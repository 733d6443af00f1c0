package interpret

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pario-ai/augur/pkg/models"
)

func TestHeadersRoundTrip(t *testing.T) {
	p := DecisionPrompt(PromptContext{
		Actor:   "Mara",
		Options: []string{"allocate", "hoard"},
		Input:   "allocate   food\nto farmers",
	})

	h := Headers(p)
	if h["call"] != string(models.CallDecision) {
		t.Errorf("expected call header, got %q", h["call"])
	}
	if h["actor"] != "Mara" {
		t.Errorf("expected actor Mara, got %q", h["actor"])
	}
	if h["input"] != "allocate food to farmers" {
		t.Errorf("input should be collapsed to one line, got %q", h["input"])
	}
	if _, ok := h["role"]; ok {
		t.Error("empty fields should be omitted")
	}
	if !strings.Contains(p, "\n\nInterpret") {
		t.Error("expected blank line between headers and body")
	}
}

func TestParseEntities(t *testing.T) {
	got := ParseEntities("a1=Mara, b2=Osric, solo")
	want := []Entity{{ID: "a1", Name: "Mara"}, {ID: "b2", Name: "Osric"}, {ID: "solo", Name: "solo"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Decision
	}{
		{
			name:    "strict json",
			content: `{"action":"Allocate","tone":"warm","target":"farmers","confidence":0.8}`,
			want:    Decision{Action: "allocate", Tone: "warm", Target: "farmers", Confidence: 0.8},
		},
		{
			name:    "json inside prose",
			content: "Sure! Here you go:\n{\"action\":\"trade\",\"target\":\"smiths\",\"confidence\":1.7}\nHope that helps.",
			want:    Decision{Action: "trade", Tone: "neutral", Target: "smiths", Confidence: 1},
		},
		{
			name:    "fenced",
			content: "```json\n{\"action\":\"wait\",\"tone\":\"calm\",\"confidence\":0.2}\n```",
			want:    Decision{Action: "wait", Tone: "calm", Confidence: 0.2},
		},
		{
			name:    "key value lines",
			content: "Action: build\nTone: eager\nTarget: granary\nConfidence: 0.6",
			want:    Decision{Action: "build", Tone: "eager", Target: "granary", Confidence: 0.6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDecisionMalformed(t *testing.T) {
	_, err := ParseDecision("I cannot decide.")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name    string
		content string
		titles  []string
	}{
		{"array", `[{"title":"Flood","description":"The river rises","priority":9,"affected_entity_ids":["a1"]}]`, []string{"Flood"}},
		{"wrapped", `{"events":[{"title":"Fair"},{"title":"Feud"}]}`, []string{"Fair", "Feud"}},
		{"span", `Events follow: [{"title":"Drought"}] end`, []string{"Drought"}},
		{"bullets", "- Harvest festival: dancing in the square\n- Bandits: seen near the ford", []string{"Harvest festival", "Bandits"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ParseEvents(tt.content)
			if err != nil {
				t.Fatal(err)
			}
			var titles []string
			for _, e := range events {
				titles = append(titles, e.Title)
				if e.Priority < 1 || e.Priority > 5 {
					t.Errorf("priority %d out of range", e.Priority)
				}
				if e.AffectedEntityIDs == nil {
					t.Error("affected ids should never be nil")
				}
			}
			if diff := cmp.Diff(tt.titles, titles); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ParseEvents("nothing happened"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseDialogue(t *testing.T) {
	got, err := ParseDialogue(`{"dialogue":"Mara: Rain again.\nOsric: Good for the barley."}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "Mara:") {
		t.Errorf("unexpected dialogue %q", got)
	}

	got, err = ParseDialogue(`  "Quiet night."  `)
	if err != nil || got != "Quiet night." {
		t.Errorf("expected unquoted text, got %q (%v)", got, err)
	}

	if _, err := ParseDialogue("   "); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestNormalizeIsCanonical(t *testing.T) {
	a, err := Normalize(models.CallDecision, `{"confidence":0.5,"action":"trade","tone":"dry","target":"x"}`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize(models.CallDecision, "action: trade\ntone: dry\ntarget: x\nconfidence: 0.5")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("expected identical canonical output:\n%s\n%s", a, b)
	}

	raw := "anything goes"
	if got, _ := Normalize("custom-call", raw); got != raw {
		t.Errorf("unknown call types should pass through, got %q", got)
	}
}
