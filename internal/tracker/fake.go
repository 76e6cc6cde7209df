package tracker

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Gateway for tests and dry runs. Issue numbers are
// assigned per repo starting at 1 unless seeded higher.
type Fake struct {
	mu       sync.Mutex
	issues   map[string]map[int]*Issue // repo -> number -> issue
	prs      map[string][]PullRequest
	comments map[string][]Comment // "repo#number" -> comments
	next     map[string]int

	// FailCreateIssue makes CreateIssue return an error when it returns
	// true for the given repo and title.
	FailCreateIssue func(repo, title string) bool
}

func NewFake() *Fake {
	return &Fake{
		issues:   make(map[string]map[int]*Issue),
		prs:      make(map[string][]PullRequest),
		comments: make(map[string][]Comment),
		next:     make(map[string]int),
	}
}

func commentKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// SeedIssue installs an issue with a fixed number, bumping the repo's
// counter past it.
func (f *Fake) SeedIssue(is Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issues[is.Repo] == nil {
		f.issues[is.Repo] = make(map[int]*Issue)
	}
	cp := is
	f.issues[is.Repo][is.Number] = &cp
	if is.Number >= f.next[is.Repo] {
		f.next[is.Repo] = is.Number + 1
	}
}

// SeedPullRequest installs an open pull request.
func (f *Fake) SeedPullRequest(pr PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs[pr.Repo] = append(f.prs[pr.Repo], pr)
}

// SeedComment appends a comment to an issue or pull request.
func (f *Fake) SeedComment(repo string, number int, c Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := commentKey(repo, number)
	f.comments[key] = append(f.comments[key], c)
}

// CloseIssue marks an issue closed.
func (f *Fake) CloseIssue(repo string, number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is, ok := f.issues[repo][number]; ok {
		is.Open = false
	}
}

func (f *Fake) ListOpenIssues(_ context.Context, repo string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Issue
	for _, is := range f.issues[repo] {
		if is.Open {
			out = append(out, *is)
		}
	}
	return out, nil
}

func (f *Fake) GetIssue(_ context.Context, repo string, number int) (Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[repo][number]
	if !ok {
		return Issue{}, fmt.Errorf("%w: no issue %s#%d", ErrUnavailable, repo, number)
	}
	return *is, nil
}

func (f *Fake) CreateIssue(_ context.Context, repo, title, body string, labels []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateIssue != nil && f.FailCreateIssue(repo, title) {
		return 0, fmt.Errorf("%w: create issue in %s", ErrUnavailable, repo)
	}
	if f.issues[repo] == nil {
		f.issues[repo] = make(map[int]*Issue)
	}
	if f.next[repo] == 0 {
		f.next[repo] = 1
	}
	n := f.next[repo]
	f.next[repo]++
	f.issues[repo][n] = &Issue{
		Repo:   repo,
		Number: n,
		Title:  title,
		Body:   body,
		Labels: append([]string(nil), labels...),
		Open:   true,
	}
	return n, nil
}

func (f *Fake) AddLabels(_ context.Context, repo string, number int, labels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[repo][number]
	if !ok {
		return fmt.Errorf("%w: no issue %s#%d", ErrUnavailable, repo, number)
	}
	for _, l := range labels {
		if !is.HasLabel(l) {
			is.Labels = append(is.Labels, l)
		}
	}
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, repo string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[repo][number]
	if !ok {
		return fmt.Errorf("%w: no issue %s#%d", ErrUnavailable, repo, number)
	}
	kept := is.Labels[:0]
	for _, l := range is.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	is.Labels = kept
	return nil
}

func (f *Fake) CreateComment(_ context.Context, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := commentKey(repo, number)
	f.comments[key] = append(f.comments[key], Comment{Author: "dulien-bot", Body: body})
	return nil
}

func (f *Fake) ListOpenPullRequests(_ context.Context, repo string) ([]PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PullRequest(nil), f.prs[repo]...), nil
}

func (f *Fake) ListComments(_ context.Context, repo string, number int) ([]Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Comment(nil), f.comments[commentKey(repo, number)]...), nil
}
