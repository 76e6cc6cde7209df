package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/florianRadureau/dulien-orchestration/internal/sandbox"
)

// ErrTimeout marks runs killed by the per-request deadline.
var ErrTimeout = errors.New("agent run timed out")

// ClaudeRuntime runs the Claude CLI in non-interactive mode. Each Run is one
// `claude -p` invocation in the request's working directory; the CLI prints a
// JSON envelope on stdout which the caller extracts a payload from.
// If SandboxRoot is set (and bubblewrap is available on Linux), the process
// runs inside a minimal bwrap sandbox with only the request's WorkDir
// writable.
type ClaudeRuntime struct {
	Command     string        // CLI binary, default "claude"
	Timeout     time.Duration // default when the request carries none
	SandboxRoot string        // if set, confine writes to req.WorkDir under this root
	Logger      *slog.Logger
}

func (r ClaudeRuntime) Name() string { return "claude" }

func (r ClaudeRuntime) Run(ctx context.Context, req Request) (Result, error) {
	if req.Prompt == "" {
		return Result{}, errors.New("prompt is required")
	}
	command := r.Command
	if command == "" {
		command = "claude"
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--permission-mode", "bypassPermissions",
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}

	cmd := sandbox.WrapCommand(ctx, r.SandboxRoot, req.WorkDir, command, args)
	cmd.Dir = req.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("%w: role %s after %s", ErrTimeout, req.Role, elapsed.Round(time.Second))
		}
		logger.Warn("agent run failed",
			"role", req.Role,
			"task", req.TaskID,
			"stderr", truncate(stderr.String(), 2000),
			"err", err)
		return Result{}, fmt.Errorf("run %s agent: %w", req.Role, err)
	}
	return Result{Output: strings.TrimSpace(stdout.String()), Duration: elapsed}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
