// Package models provides the shared workflow types persisted by the state
// store and exchanged between the orchestration stages. The JSON shape of
// Document is a stable contract: it is what init writes and every stage
// read-modify-writes.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskRef is a task materialized in the issue tracker.
// IssueNumber is SentinelIssueNumber when creation failed.
type TaskRef struct {
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Title       string `json:"title"`
	Agent       string `json:"agent"`
}

// ID returns the composite task identifier ("repo-number"), the only
// cross-referencing key in the document.
func (t TaskRef) ID() string {
	return TaskID(t.Repo, t.IssueNumber)
}

// WorkflowEntry tracks scheduling state for one task.
type WorkflowEntry struct {
	TaskID    string   `json:"task_id"`
	DependsOn []string `json:"depends_on"`
	Status    string   `json:"status,omitempty"`
	Priority  int      `json:"priority,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
}

// EffectiveStatus returns the entry status, treating an absent status as
// pending. No state is ever inferred from absence of data alone.
func (w WorkflowEntry) EffectiveStatus() string {
	if w.Status == "" {
		return StatusPending
	}
	return w.Status
}

// Epic is one analyzed epic: the tech-lead analysis plus the tasks it
// produced. Epics are append-only; they are never deleted by the engine.
type Epic struct {
	Analysis     string          `json:"analysis"`
	TasksCreated []TaskRef       `json:"tasks_created"`
	Workflow     []WorkflowEntry `json:"workflow"`
}

// Document is the single durable workflow document.
type Document struct {
	Epics map[string]*Epic `json:"epics"`
}

// NewDocument returns an empty document with the epics map allocated.
func NewDocument() Document {
	return Document{Epics: make(map[string]*Epic)}
}

// FindEntry searches every epic for the workflow entry with the given task
// id. Dependencies may cross epics, so lookups are always global.
func (d Document) FindEntry(taskID string) *WorkflowEntry {
	for _, e := range d.Epics {
		for i := range e.Workflow {
			if e.Workflow[i].TaskID == taskID {
				return &e.Workflow[i]
			}
		}
	}
	return nil
}

// HasEpic reports whether the epic id is already recorded.
func (d Document) HasEpic(epicID string) bool {
	if d.Epics == nil {
		return false
	}
	_, ok := d.Epics[epicID]
	return ok
}

// TaskID builds the composite task identifier for a resolved issue.
func TaskID(repo string, number int) string {
	return repo + "-" + strconv.Itoa(number)
}

// PlaceholderID builds the unresolved dependency form used by the tech-lead
// plan before issues exist ("repo-TBD").
func PlaceholderID(repo string) string {
	return repo + PlaceholderSuffix
}

// IsPlaceholder reports whether a task id still awaits issue-number
// substitution. A placeholder dependency is never satisfied.
func IsPlaceholder(taskID string) bool {
	return strings.HasSuffix(taskID, PlaceholderSuffix)
}

// SplitTaskID splits "repo-number" back into its parts. The repo name may
// itself contain dashes, so the number is taken after the last dash.
func SplitTaskID(taskID string) (repo string, number int, err error) {
	i := strings.LastIndex(taskID, "-")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed task id %q", taskID)
	}
	n, err := strconv.Atoi(taskID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed task id %q", taskID)
	}
	return taskID[:i], n, nil
}
