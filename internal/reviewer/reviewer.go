// Package reviewer fans review requests out to the reviewer roles and gates
// merge-readiness on a per-repository quorum of posted review reports.
package reviewer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/runtime"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

type Reviewer struct {
	Store   store.Store
	Tracker tracker.Gateway
	Runtime runtime.Runtime
	Roles   *roles.Registry
	Config  *config.Config
	Logger  *slog.Logger
}

// Run reconciles review state: tasks awaiting review get the reviewer
// fan-out and move to under_review; tasks under review are checked against
// the comment quorum and move to ready_to_merge when it is met. Quorum is
// never remembered locally; it is recomputed from tracker comments every
// cycle, so re-running is always safe.
func (r *Reviewer) Run(ctx context.Context) error {
	doc, _, err := r.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workflow document: %w", err)
	}

	prCache := make(map[string][]tracker.PullRequest)
	for _, epic := range doc.Epics {
		for i := range epic.Workflow {
			entry := epic.Workflow[i]
			switch entry.EffectiveStatus() {
			case models.StatusReviewRequested, models.StatusSecurityReviewRequested, models.StatusMentionTriggered:
				if err := r.requestReviews(ctx, entry, prCache); err != nil {
					r.logger().Error("review fan-out failed", "task", entry.TaskID, "err", err)
				}
			case models.StatusUnderReview:
				if err := r.checkQuorum(ctx, entry, prCache); err != nil {
					r.logger().Error("quorum check failed", "task", entry.TaskID, "err", err)
				}
			}
		}
	}
	return nil
}

// requestReviews locates the task's pull request and invokes every required
// reviewer role concurrently. The status moves to under_review only if all
// reviewer invocations complete; otherwise it is left unchanged and retried
// next cycle.
func (r *Reviewer) requestReviews(ctx context.Context, entry models.WorkflowEntry, prCache map[string][]tracker.PullRequest) error {
	repo, number, err := models.SplitTaskID(entry.TaskID)
	if err != nil {
		return err
	}
	pr, ok, err := r.findPullRequest(ctx, repo, number, prCache)
	if err != nil {
		return err
	}
	if !ok {
		// No pull request yet; the task keeps waiting.
		return nil
	}

	required := r.Config.ReviewerRoles(repo)
	g, gctx := errgroup.WithContext(ctx)
	for _, roleName := range required {
		g.Go(func() error {
			role, err := r.Roles.Get(roleName)
			if err != nil {
				return err
			}
			_, err = r.Runtime.Run(gctx, runtime.Request{
				Role:         roleName,
				TaskID:       entry.TaskID,
				Prompt:       roles.ReviewPrompt(r.Config, roleName, repo, pr.Number, pr.Title),
				WorkDir:      r.Config.RepoDir(repo),
				AllowedTools: role.AllowedTools,
				Timeout:      r.Config.ExecutorTimeout(),
			})
			if err != nil {
				return fmt.Errorf("reviewer %s: %w", roleName, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	err = store.Update(ctx, r.Store, func(d *models.Document) error {
		e := d.FindEntry(entry.TaskID)
		if e == nil {
			return store.ErrSkipSave
		}
		e.Status = models.StatusUnderReview
		return nil
	})
	if err == nil {
		otel.RecordReviewTransition(ctx, repo, models.StatusUnderReview)
	}
	return err
}

// checkQuorum counts distinct reviewer-role report markers on the task's
// pull request and promotes the task when the repository quorum is met.
func (r *Reviewer) checkQuorum(ctx context.Context, entry models.WorkflowEntry, prCache map[string][]tracker.PullRequest) error {
	repo, number, err := models.SplitTaskID(entry.TaskID)
	if err != nil {
		return err
	}
	pr, ok, err := r.findPullRequest(ctx, repo, number, prCache)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	comments, err := r.Tracker.ListComments(ctx, repo, pr.Number)
	if err != nil {
		return err
	}
	passed := ReportedRoles(comments, r.Config.ReviewerRoles(repo))
	if len(passed) < r.Config.ReviewQuorum(repo) {
		return nil
	}

	err = store.Update(ctx, r.Store, func(d *models.Document) error {
		e := d.FindEntry(entry.TaskID)
		if e == nil || e.EffectiveStatus() != models.StatusUnderReview {
			return store.ErrSkipSave
		}
		e.Status = models.StatusReadyToMerge
		return nil
	})
	if err != nil {
		return err
	}
	otel.RecordReviewTransition(ctx, repo, models.StatusReadyToMerge)

	if err := r.Tracker.CreateComment(ctx, repo, pr.Number, consolidatedComment(passed)); err != nil {
		r.logger().Warn("consolidated comment failed", "task", entry.TaskID, "err", err)
	}
	r.logger().Info("task ready to merge", "task", entry.TaskID, "reviews", passed)
	return nil
}

// findPullRequest matches a task to an open pull request by looking for the
// issue number in the head branch name or as a "#N" reference in the title.
func (r *Reviewer) findPullRequest(ctx context.Context, repo string, number int, cache map[string][]tracker.PullRequest) (tracker.PullRequest, bool, error) {
	prs, ok := cache[repo]
	if !ok {
		var err error
		prs, err = r.Tracker.ListOpenPullRequests(ctx, repo)
		if err != nil {
			return tracker.PullRequest{}, false, err
		}
		cache[repo] = prs
	}
	n := strconv.Itoa(number)
	for _, pr := range prs {
		if strings.Contains(pr.Branch, n) || strings.Contains(pr.Title, "#"+n) {
			return pr, true, nil
		}
	}
	return tracker.PullRequest{}, false, nil
}

// ReportedRoles returns the distinct required roles that have posted a
// review report marker, sorted. Duplicate reports from the same role count
// once.
func ReportedRoles(comments []tracker.Comment, required []string) []string {
	want := make(map[string]bool, len(required))
	for _, role := range required {
		want[role] = true
	}
	seen := make(map[string]bool)
	for _, c := range comments {
		for _, line := range strings.Split(c.Body, "\n") {
			role, ok := strings.CutPrefix(strings.TrimSpace(line), models.ReviewMarkerPrefix)
			if !ok {
				continue
			}
			role = strings.TrimSpace(role)
			if want[role] {
				seen[role] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func consolidatedComment(passed []string) string {
	return fmt.Sprintf("Toutes les reviews requises sont passées (%s). La PR est prête à être mergée.",
		strings.Join(passed, ", "))
}

func (r *Reviewer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
