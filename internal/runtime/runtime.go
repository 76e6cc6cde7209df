// Package runtime runs coding-agent turns. The production implementation
// shells out to the Claude CLI inside the repository clone the task targets.
package runtime

import (
	"context"
	"time"
)

// Request describes one agent invocation.
type Request struct {
	Role         string   // agent role, e.g. "tech-lead" or "webapp"
	TaskID       string   // workflow task id, empty for analysis runs
	Prompt       string   // full prompt text
	WorkDir      string   // repository clone the agent operates in
	AllowedTools []string // tool allowlist handed to the CLI, empty = default
	Timeout      time.Duration
}

// Result carries the raw agent output. Output is the CLI's stdout verbatim,
// which for the JSON output format is a single envelope object.
type Result struct {
	Output   string
	Duration time.Duration
}

type Runtime interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}
