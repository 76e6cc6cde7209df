package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

var planJSON = `{
  "analysis": "Single webapp change: add a profile page.",
  "tasks_to_create": [
    {"repo": "webapp", "title": "Add profile page", "agent": "webapp", "body": "` + strings.Repeat("x", 120) + `"}
  ],
  "workflow": [
    {"task_id": "webapp-TBD", "depends_on": [], "priority": 1}
  ]
}`

func envelopeAround(result string) string {
	env := map[string]any{
		"type":    "result",
		"subtype": "success",
		"result":  result,
	}
	b, _ := json.Marshal(env)
	return string(b)
}

func TestExtract_EnvelopeWithFence(t *testing.T) {
	t.Parallel()
	raw := envelopeAround("Here is the plan:\n```json\n" + planJSON + "\n```\nDone.")
	p, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(p.TasksToCreate) != 1 || p.TasksToCreate[0].Repo != "webapp" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestExtract_BareFence(t *testing.T) {
	t.Parallel()
	raw := "Some preamble.\n```json\n" + planJSON + "\n```\n"
	p, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.Workflow[0].TaskID != "webapp-TBD" {
		t.Fatalf("unexpected workflow: %+v", p.Workflow)
	}
}

// Equivalent content through strategy 1 and strategy 2 must yield identical
// payloads.
func TestExtract_EnvelopeAndFenceAgree(t *testing.T) {
	t.Parallel()
	viaEnvelope, err := Extract(envelopeAround("```json\n" + planJSON + "\n```"))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	viaFence, err := Extract("```json\n" + planJSON + "\n```")
	if err != nil {
		t.Fatalf("fence: %v", err)
	}
	if !reflect.DeepEqual(viaEnvelope, viaFence) {
		t.Fatalf("payloads differ:\n%+v\n%+v", viaEnvelope, viaFence)
	}
}

func TestExtract_LineWindow(t *testing.T) {
	t.Parallel()
	raw := "The plan follows.\n" + planJSON + "\nThat is all."
	p, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.Analysis == "" {
		t.Fatal("analysis lost")
	}
}

func TestExtract_FirstBrace(t *testing.T) {
	t.Parallel()
	compact := strings.ReplaceAll(planJSON, "\n", " ")
	raw := "no fences here " + compact
	p, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(p.TasksToCreate) != 1 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestExtract_NoCandidate(t *testing.T) {
	t.Parallel()
	_, err := Extract("the agent rambled and produced nothing structured")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
}

func TestExtract_ErrorEnvelopeIsNotTrusted(t *testing.T) {
	t.Parallel()
	env := map[string]any{"type": "result", "subtype": "error_during_execution", "is_error": true,
		"result": "```json\n" + planJSON + "\n```"}
	b, _ := json.Marshal(env)
	// Strategy 1 must refuse an error envelope; the fence inside the
	// escaped result string is not visible to the later strategies, so the
	// whole extraction fails.
	if _, ok := fromEnvelope(string(b)); ok {
		t.Fatal("error envelope should not produce a candidate")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	longBody := strings.Repeat("b", 150)
	shortBody := strings.Repeat("b", 99)
	task := func(body string) TaskSpec {
		return TaskSpec{Repo: "webapp", Title: "t", Agent: "webapp", Body: body}
	}

	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"one complete task", Payload{TasksToCreate: []TaskSpec{task(longBody)}}, false},
		{"two complete tasks", Payload{TasksToCreate: []TaskSpec{task(longBody), task(longBody)}}, false},
		{"three tasks over cap", Payload{TasksToCreate: []TaskSpec{task(longBody), task(longBody), task(longBody)}}, true},
		{"body below minimum", Payload{TasksToCreate: []TaskSpec{task(shortBody)}}, true},
		{"boundary 100 chars", Payload{TasksToCreate: []TaskSpec{task(strings.Repeat("b", 100))}}, false},
		{"empty plan is valid", Payload{Analysis: "rien à faire"}, false},
		{"one bad body poisons batch", Payload{TasksToCreate: []TaskSpec{task(longBody), task(shortBody)}}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.payload.Validate()
			if tc.wantErr && !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("got %v, want ErrValidationFailed", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtractAndValidate(t *testing.T) {
	t.Parallel()
	bad := `{"analysis":"a","tasks_to_create":[{"repo":"webapp","title":"t","agent":"webapp","body":"too short"}],"workflow":[]}`
	_, err := ExtractAndValidate("```json\n" + bad + "\n```")
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("got %v, want ErrValidationFailed", err)
	}
}
