// Package tracker is the narrow gateway to the remote issue tracker. It is a
// side-effect target only: labels and comments go out through it, but the
// engine's own state never lives here.
package tracker

import (
	"context"
	"errors"
)

// ErrUnavailable wraps remote failures; callers abort the current operation
// only, never the whole cycle.
var ErrUnavailable = errors.New("issue tracker unavailable")

// Issue is a tracker issue (epics and tasks are both issues).
type Issue struct {
	Repo   string
	Number int
	Title  string
	Body   string
	Labels []string
	Open   bool
}

// HasLabel reports whether the issue carries the given label.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// PullRequest is an open pull request with its head branch.
type PullRequest struct {
	Repo   string
	Number int
	Title  string
	Branch string
}

// Comment is one comment on an issue or pull request.
type Comment struct {
	Author string
	Body   string
}

// Gateway is the set of tracker operations the engine consumes.
// Implementations: GitHub (go-github) and Fake (in-memory, for tests and
// dry runs).
type Gateway interface {
	ListOpenIssues(ctx context.Context, repo string) ([]Issue, error)
	GetIssue(ctx context.Context, repo string, number int) (Issue, error)
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (int, error)
	AddLabels(ctx context.Context, repo string, number int, labels ...string) error
	RemoveLabel(ctx context.Context, repo string, number int, label string) error
	CreateComment(ctx context.Context, repo string, number int, body string) error
	ListOpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error)
	ListComments(ctx context.Context, repo string, number int) ([]Comment, error)
}
