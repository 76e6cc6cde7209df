package mentions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

func newTestRouter(t *testing.T) (*Router, *tracker.Fake, store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cfg := config.Default()
	f := tracker.NewFake()
	return &Router{
		Store:   s,
		Tracker: f,
		Roles:   roles.NewFromConfig(cfg),
		Config:  cfg,
		Owner:   "test-owner",
	}, f, s
}

func seedPRWithComment(f *tracker.Fake, body string) {
	f.SeedPullRequest(tracker.PullRequest{Repo: "webapp", Number: 12, Title: "Fix login", Branch: "fix-login"})
	f.SeedComment("webapp", 12, tracker.Comment{Author: "florian", Body: body})
}

func TestTechLeadMentionCreatesTaskAndSyntheticEpic(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	seedPRWithComment(f, "@tech-lead crée une tâche dans webapp pour corriger le cache")
	ctx := context.Background()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One new issue next to the seeded PR comment thread.
	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 1 {
		t.Fatalf("open issues = %d, want 1 created task", len(open))
	}
	is := open[0]
	if !strings.Contains(is.Body, "webapp#12") {
		t.Errorf("task body missing provenance: %q", is.Body)
	}
	if !is.HasLabel("agent:webapp") {
		t.Errorf("task labels = %v", is.Labels)
	}

	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 1 {
		t.Fatalf("epics = %d, want 1 synthetic epic", len(doc.Epics))
	}
	for id, epic := range doc.Epics {
		if !strings.HasPrefix(id, "mention-") {
			t.Errorf("epic id = %q, want mention- prefix", id)
		}
		if len(epic.Workflow) != 1 {
			t.Fatalf("workflow = %d entries, want 1", len(epic.Workflow))
		}
		entry := epic.Workflow[0]
		if entry.EffectiveStatus() != models.StatusPending {
			t.Errorf("status = %q, want pending", entry.EffectiveStatus())
		}
		if len(entry.DependsOn) != 0 {
			t.Errorf("depends_on = %v, want empty", entry.DependsOn)
		}
	}
}

func TestTechLeadMentionWithoutRepoAsksForClarification(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	seedPRWithComment(f, "@tech-lead fais quelque chose")
	ctx := context.Background()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 0 {
		t.Fatalf("no issue should be created, got %d", len(open))
	}
	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 0 {
		t.Fatalf("no epic should be created, got %v", doc.Epics)
	}
	comments, _ := f.ListComments(ctx, "webapp", 12)
	var clarifications int
	for _, c := range comments {
		if c.Author == BotAuthor && strings.Contains(c.Body, "dépôt cible") {
			clarifications++
		}
	}
	if clarifications != 1 {
		t.Fatalf("clarification comments = %d, want 1", clarifications)
	}
}

func TestMentionDedup(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	seedPRWithComment(f, "@tech-lead crée une tâche dans webapp pour corriger le cache")
	ctx := context.Background()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 1 {
		t.Fatalf("issues after two runs = %d, want 1 (dedup)", len(open))
	}
	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 1 {
		t.Fatalf("epics = %d, want 1", len(doc.Epics))
	}
}

func TestOtherRoleMentionPostsCorrection(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	f.SeedPullRequest(tracker.PullRequest{Repo: "webapp", Number: 12, Title: "Fix login #101", Branch: "fix-login"})
	f.SeedComment("webapp", 12, tracker.Comment{Author: "florian", Body: "@security vérifie la gestion des tokens"})
	err := store.Update(context.Background(), s, func(doc *models.Document) error {
		doc.Epics["webapp-100"] = &models.Epic{
			TasksCreated: []models.TaskRef{{Repo: "webapp", IssueNumber: 101, Agent: "webapp"}},
			Workflow:     []models.WorkflowEntry{{TaskID: "webapp-101", Status: models.StatusUnderReview}},
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	comments, _ := f.ListComments(ctx, "webapp", 12)
	var corrections int
	for _, c := range comments {
		if c.Author == BotAuthor && strings.Contains(c.Body, "**security**") {
			corrections++
		}
	}
	if corrections != 1 {
		t.Fatalf("correction comments = %d, want 1", corrections)
	}

	// No new issue or epic, and the PR's task is flagged for re-review.
	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 0 {
		t.Fatalf("no issue should be created, got %d", len(open))
	}
	doc, _, _ := s.Load(ctx)
	if st := doc.FindEntry("webapp-101").Status; st != models.StatusMentionTriggered {
		t.Fatalf("task status = %q, want mention_triggered", st)
	}
}

func TestBotCommentsAreIgnored(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	f.SeedPullRequest(tracker.PullRequest{Repo: "webapp", Number: 12, Title: "x", Branch: "y"})
	f.SeedComment("webapp", 12, tracker.Comment{Author: BotAuthor, Body: "@tech-lead crée une tâche dans webapp pour boucler"})
	f.SeedComment("webapp", 12, tracker.Comment{Author: "renovate[bot]", Body: "@security regarde"})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	open, _ := f.ListOpenIssues(context.Background(), "webapp")
	if len(open) != 0 {
		t.Fatalf("bot mentions must not route, got %d issues", len(open))
	}
	doc, _, _ := s.Load(context.Background())
	if len(doc.Epics) != 0 {
		t.Fatalf("bot mentions must not create epics")
	}
}

func TestRouterLeaseExcludesConcurrentRun(t *testing.T) {
	t.Parallel()
	r, f, s := newTestRouter(t)
	seedPRWithComment(f, "@tech-lead crée une tâche dans webapp pour corriger le cache")
	ctx := context.Background()

	// Another live owner holds the lease: the scan is skipped entirely.
	ok, err := s.AcquireLease(ctx, LeaseName, "other-owner", time.Hour)
	if err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run under foreign lease: %v", err)
	}
	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 0 {
		t.Fatalf("skipped run must not route, got %d issues", len(open))
	}

	// Once released, the router acquires and releases the lease itself.
	if err := s.ReleaseLease(ctx, LeaseName, "other-owner"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ok, err = s.AcquireLease(ctx, LeaseName, "third-owner", time.Hour)
	if err != nil || !ok {
		t.Fatalf("lease should be free after Run: ok=%v err=%v", ok, err)
	}
}
