// Package extract recovers a structured implementation plan from the free
// text returned by an agent invocation. Agents are non-cooperative text
// producers: sometimes the plan arrives inside the runtime's JSON envelope,
// sometimes in a bare code fence, sometimes with no fence at all. An ordered
// cascade of total strategies handles each shape; the first candidate that
// parses wins. Order encodes confidence, not recency.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// ErrExtractionFailed means no strategy produced parseable structured data.
// The raw text is kept as an artifact for operator inspection; extraction is
// not retried automatically.
var ErrExtractionFailed = errors.New("no structured plan found in agent output")

// ErrValidationFailed means the plan parsed but violates the task-count or
// body-length policy. The whole payload is rejected; there is no partial
// acceptance.
var ErrValidationFailed = errors.New("plan validation failed")

// TaskSpec is one task the tech-lead wants created.
type TaskSpec struct {
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Agent string `json:"agent"`
	Body  string `json:"body"`
}

// EntrySpec is one workflow entry of the plan. TaskID and DependsOn use the
// placeholder form ("repo-TBD") until issues are materialized.
type EntrySpec struct {
	TaskID    string   `json:"task_id"`
	DependsOn []string `json:"depends_on"`
	Priority  int      `json:"priority"`
}

// Payload is the validated structured plan.
type Payload struct {
	Analysis      string      `json:"analysis"`
	TasksToCreate []TaskSpec  `json:"tasks_to_create"`
	Workflow      []EntrySpec `json:"workflow"`
}

// strategy returns a candidate JSON string, or ok=false when the shape it
// looks for is absent. Strategies never fail loudly; they are total.
type strategy struct {
	name string
	fn   func(raw string) (string, bool)
}

// The cascade, in confidence order. Tests pin this ordering.
var strategies = []strategy{
	{"runtime-envelope", fromEnvelope},
	{"code-fence", fromFence},
	{"line-window", fromLineWindow},
	{"first-brace", fromFirstBrace},
}

// Extract runs the cascade over raw agent output and returns the first
// candidate that parses as a plan.
func Extract(raw string) (Payload, error) {
	for _, s := range strategies {
		candidate, ok := s.fn(raw)
		if !ok {
			continue
		}
		if p, err := parse(candidate); err == nil {
			return p, nil
		}
	}
	return Payload{}, ErrExtractionFailed
}

// ExtractAndValidate runs Extract then the validation gate.
func ExtractAndValidate(raw string) (Payload, error) {
	p, err := Extract(raw)
	if err != nil {
		return Payload{}, err
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate enforces the plan policy: few, complete, self-contained tasks.
// The executor tends to over-decompose an epic into many shallow tasks or to
// omit actionable detail; both invalidate the whole payload. An empty task
// list is a valid plan: the tech-lead may conclude no work is needed.
func (p Payload) Validate() error {
	if len(p.TasksToCreate) > models.MaxTasksPerEpic {
		return fmt.Errorf("%w: %d tasks exceeds the cap of %d", ErrValidationFailed, len(p.TasksToCreate), models.MaxTasksPerEpic)
	}
	for _, t := range p.TasksToCreate {
		if len(t.Body) < models.MinTaskBodyLength {
			return fmt.Errorf("%w: task %q body has %d chars, minimum is %d", ErrValidationFailed, t.Title, len(t.Body), models.MinTaskBodyLength)
		}
	}
	return nil
}

func parse(candidate string) (Payload, error) {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return Payload{}, errors.New("not an object")
	}
	var p Payload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// envelope mirrors the runtime's --output-format json wrapper.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// fromEnvelope unwraps the runtime result envelope and extracts the fenced
// block (or bare object) inside its result text.
func fromEnvelope(raw string) (string, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &env); err != nil {
		return "", false
	}
	if env.Result == "" || env.IsError {
		return "", false
	}
	if inner, ok := fromFence(env.Result); ok {
		return inner, true
	}
	return env.Result, true
}

// fromFence extracts the content of the first ```json (or bare ```) fence.
func fromFence(raw string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(raw, marker)
		if start < 0 {
			continue
		}
		rest := raw[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return rest[:end], true
	}
	return "", false
}

// fromLineWindow collects the window from the first line opening an object
// to the last line closing one. Catches outputs where prose surrounds an
// unfenced plan.
func fromLineWindow(raw string) (string, bool) {
	lines := strings.Split(raw, "\n")
	first, last := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if first < 0 && strings.HasPrefix(trimmed, "{") {
			first = i
		}
		if strings.HasSuffix(trimmed, "}") {
			last = i
		}
	}
	if first < 0 || last < first {
		return "", false
	}
	return strings.Join(lines[first:last+1], "\n"), true
}

// fromFirstBrace takes everything from the first opening brace to the last
// closing one. Last resort for outputs lacking fences entirely.
func fromFirstBrace(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
