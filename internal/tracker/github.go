package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHub implements Gateway against the GitHub REST API for a single
// organization. All repo arguments are bare names; the org is fixed at
// construction.
type GitHub struct {
	client *github.Client
	org    string
	logger *slog.Logger
}

// NewGitHub builds a gateway authenticated with a personal access token.
func NewGitHub(ctx context.Context, org, token string, logger *slog.Logger) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{
		client: github.NewClient(tc),
		org:    org,
		logger: logger.With("component", "tracker"),
	}
}

func (g *GitHub) ListOpenIssues(ctx context.Context, repo string) ([]Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Issue
	for {
		issues, resp, err := g.client.Issues.ListByRepo(ctx, g.org, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: list issues %s/%s: %v", ErrUnavailable, g.org, repo, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, fromGitHubIssue(repo, is))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHub) GetIssue(ctx context.Context, repo string, number int) (Issue, error) {
	is, _, err := g.client.Issues.Get(ctx, g.org, repo, number)
	if err != nil {
		return Issue{}, fmt.Errorf("%w: get issue %s/%s#%d: %v", ErrUnavailable, g.org, repo, number, err)
	}
	return fromGitHubIssue(repo, is), nil
}

func (g *GitHub) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (int, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	is, _, err := g.client.Issues.Create(ctx, g.org, repo, req)
	if err != nil {
		return 0, fmt.Errorf("%w: create issue in %s/%s: %v", ErrUnavailable, g.org, repo, err)
	}
	g.logger.Info("issue created", "repo", repo, "number", is.GetNumber(), "title", title)
	return is.GetNumber(), nil
}

func (g *GitHub) AddLabels(ctx context.Context, repo string, number int, labels ...string) error {
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.org, repo, number, labels)
	if err != nil {
		return fmt.Errorf("%w: add labels %v to %s/%s#%d: %v", ErrUnavailable, labels, g.org, repo, number, err)
	}
	return nil
}

func (g *GitHub) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	resp, err := g.client.Issues.RemoveLabelForIssue(ctx, g.org, repo, number, label)
	if err != nil {
		// Removing an absent label is not an error for callers.
		if resp != nil && resp.StatusCode == 404 {
			return nil
		}
		return fmt.Errorf("%w: remove label %q from %s/%s#%d: %v", ErrUnavailable, label, g.org, repo, number, err)
	}
	return nil
}

func (g *GitHub) CreateComment(ctx context.Context, repo string, number int, body string) error {
	_, _, err := g.client.Issues.CreateComment(ctx, g.org, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("%w: comment on %s/%s#%d: %v", ErrUnavailable, g.org, repo, number, err)
	}
	return nil
}

func (g *GitHub) ListOpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []PullRequest
	for {
		prs, resp, err := g.client.PullRequests.List(ctx, g.org, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: list pull requests %s/%s: %v", ErrUnavailable, g.org, repo, err)
		}
		for _, pr := range prs {
			out = append(out, PullRequest{
				Repo:   repo,
				Number: pr.GetNumber(),
				Title:  pr.GetTitle(),
				Branch: pr.GetHead().GetRef(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHub) ListComments(ctx context.Context, repo string, number int) ([]Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Comment
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, g.org, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: list comments %s/%s#%d: %v", ErrUnavailable, g.org, repo, number, err)
		}
		for _, c := range comments {
			out = append(out, Comment{
				Author: c.GetUser().GetLogin(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func fromGitHubIssue(repo string, is *github.Issue) Issue {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Repo:   repo,
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		Labels: labels,
		Open:   is.GetState() == "open",
	}
}
