package runtime

import (
	"context"
	"sync"
	"time"
)

// StubRuntime is a deterministic local runtime for tests and dry runs. It
// returns a canned envelope without spawning any subprocess. Output and Err
// may be set per instance; the zero value succeeds with an empty result
// envelope.
type StubRuntime struct {
	Output string
	Err    error

	mu       sync.Mutex
	requests []Request
}

func (*StubRuntime) Name() string { return "stub" }

// Requests returns a copy of every request seen so far, in order.
func (s *StubRuntime) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *StubRuntime) Run(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.Err != nil {
		return Result{}, s.Err
	}
	out := s.Output
	if out == "" {
		out = `{"type":"result","subtype":"success","is_error":false,"result":"stub: ok"}`
	}
	return Result{Output: out, Duration: time.Millisecond}, nil
}
