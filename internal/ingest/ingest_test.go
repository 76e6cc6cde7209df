package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/runtime"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

var longBody = strings.Repeat("Décrire le composant, les étapes et les critères d'acceptation. ", 3)

const profilePlan = "```json\n{\n" +
	`  "analysis": "Un seul changement front-end est nécessaire.",` + "\n" +
	`  "tasks_to_create": [{"repo": "webapp", "title": "Créer la page profil", "agent": "webapp", "body": "` + "%BODY%" + `"}],` + "\n" +
	`  "workflow": [{"task_id": "webapp-TBD", "depends_on": [], "priority": 1}]` + "\n}\n```"

func planOutput() string {
	return strings.ReplaceAll(profilePlan, "%BODY%", longBody)
}

func newTestIngestor(t *testing.T, output string) (*Ingestor, *tracker.Fake, store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.Default()
	f := tracker.NewFake()
	in := &Ingestor{
		Store:   s,
		Tracker: f,
		Runtime: &runtime.StubRuntime{Output: output},
		Roles:   roles.NewFromConfig(cfg),
		Config:  cfg,
	}
	return in, f, s
}

func seedEpic(f *tracker.Fake) {
	f.SeedIssue(tracker.Issue{
		Repo:   "webapp",
		Number: 100,
		Title:  "[EPIC] Add profile page",
		Body:   "Users need a profile page showing their mentoring history.",
		Labels: []string{models.LabelEpic},
		Open:   true,
	})
}

func TestIngestSingleTaskEpic(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, planOutput())
	seedEpic(f)
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc, _, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	epic, ok := doc.Epics["webapp-100"]
	if !ok {
		t.Fatalf("epic not recorded, have %v", doc.Epics)
	}
	if len(epic.TasksCreated) != 1 || len(epic.Workflow) != 1 {
		t.Fatalf("tasks=%d workflow=%d, want 1/1", len(epic.TasksCreated), len(epic.Workflow))
	}
	ref := epic.TasksCreated[0]
	if ref.Repo != "webapp" || ref.Agent != "webapp" || ref.IssueNumber != 101 {
		t.Fatalf("unexpected task ref %+v", ref)
	}
	entry := epic.Workflow[0]
	if entry.TaskID != "webapp-101" {
		t.Fatalf("task id = %q, want webapp-101", entry.TaskID)
	}
	if len(entry.DependsOn) != 0 {
		t.Fatalf("depends_on = %v, want empty", entry.DependsOn)
	}
	if entry.EffectiveStatus() != models.StatusPending {
		t.Fatalf("status = %q, want pending", entry.EffectiveStatus())
	}

	// The created issue carries the agent label and the composed body.
	is, err := f.GetIssue(ctx, "webapp", 101)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if !is.HasLabel("agent:webapp") {
		t.Errorf("created issue labels = %v, want agent:webapp", is.Labels)
	}
	if is.Body != ComposeIssueBody("webapp-100", "webapp", longBody) {
		t.Error("issue body is not the deterministic composition")
	}

	// Summary comment lands on the epic.
	comments, _ := f.ListComments(ctx, "webapp", 100)
	if len(comments) != 1 || !strings.Contains(comments[0].Body, "webapp#101") {
		t.Fatalf("summary comment = %+v", comments)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, planOutput())
	seedEpic(f)
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := in.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 1 {
		t.Fatalf("epics = %d, want 1", len(doc.Epics))
	}
	if n := len(doc.Epics["webapp-100"].TasksCreated); n != 1 {
		t.Fatalf("tasks = %d, want 1 (no duplicates)", n)
	}
	open, _ := f.ListOpenIssues(ctx, "webapp")
	// Epic plus exactly one created task.
	if len(open) != 2 {
		t.Fatalf("open issues = %d, want 2", len(open))
	}
}

func TestIngestSentinelOnCreationFailure(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, planOutput())
	seedEpic(f)
	f.FailCreateIssue = func(repo, title string) bool { return title == "Créer la page profil" }
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _, _ := s.Load(ctx)
	epic := doc.Epics["webapp-100"]
	if epic == nil {
		t.Fatal("epic should still be recorded")
	}
	ref := epic.TasksCreated[0]
	if ref.IssueNumber != models.SentinelIssueNumber {
		t.Fatalf("issue number = %d, want sentinel %d", ref.IssueNumber, models.SentinelIssueNumber)
	}
}

func TestIngestExtractionFailureLabelsEpic(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, "je n'ai pas pu analyser cet épic")
	seedEpic(f)
	ctx := context.Background()

	// Run logs the failure per epic and keeps going.
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 0 {
		t.Fatalf("no epic should be recorded, got %v", doc.Epics)
	}
	is, _ := f.GetIssue(ctx, "webapp", 100)
	if !is.HasLabel(models.LabelAnalysisFailed) {
		t.Fatalf("epic labels = %v, want analysis-failed", is.Labels)
	}
	raw, err := s.GetArtifact(ctx, "analysis-failed/webapp-100")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if raw != "je n'ai pas pu analyser cet épic" {
		t.Fatalf("artifact = %q", raw)
	}

	// Labeled epics are skipped on subsequent cycles.
	if err := in.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}

func TestIngestDetectsEpicByLabel(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, planOutput())
	f.SeedIssue(tracker.Issue{
		Repo:   "webapp",
		Number: 100,
		Title:  "Add profile page",
		Body:   "Users need a profile page.",
		Labels: []string{models.LabelEpic},
		Open:   true,
	})
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _, _ := s.Load(ctx)
	if doc.Epics["webapp-100"] == nil {
		t.Fatal("type:epic labeled issue should be ingested without the title marker")
	}
}

func TestIngestIgnoresUnmarkedIssues(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, planOutput())
	f.SeedIssue(tracker.Issue{
		Repo:   "webapp",
		Number: 100,
		Title:  "Add profile page",
		Body:   "Users need a profile page.",
		Open:   true,
	})
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _, _ := s.Load(ctx)
	if len(doc.Epics) != 0 {
		t.Fatalf("plain issue must not be ingested, got %v", doc.Epics)
	}
}

const emptyPlan = "```json\n{\n" +
	`  "analysis": "Rien à faire : la page existe déjà.",` + "\n" +
	`  "tasks_to_create": [],` + "\n" +
	`  "workflow": []` + "\n}\n```"

func TestIngestAcceptsEmptyPlan(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, emptyPlan)
	seedEpic(f)
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc, _, _ := s.Load(ctx)
	epic := doc.Epics["webapp-100"]
	if epic == nil {
		t.Fatal("zero-task epic should be recorded, not rejected")
	}
	if len(epic.TasksCreated) != 0 || len(epic.Workflow) != 0 {
		t.Fatalf("tasks=%d workflow=%d, want 0/0", len(epic.TasksCreated), len(epic.Workflow))
	}

	is, _ := f.GetIssue(ctx, "webapp", 100)
	if is.HasLabel(models.LabelAnalysisFailed) {
		t.Fatalf("epic labels = %v, empty plan must not be marked failed", is.Labels)
	}
	open, _ := f.ListOpenIssues(ctx, "webapp")
	if len(open) != 1 {
		t.Fatalf("open issues = %d, want just the epic", len(open))
	}
	comments, _ := f.ListComments(ctx, "webapp", 100)
	if len(comments) != 1 || !strings.Contains(comments[0].Body, "Aucune tâche") {
		t.Fatalf("summary comment = %+v", comments)
	}
}

const twoTaskPlan = "```json\n{\n" +
	`  "analysis": "API d'abord, front ensuite.",` + "\n" +
	`  "tasks_to_create": [` + "\n" +
	`    {"repo": "tenant-api", "title": "Exposer l'endpoint profil", "agent": "tenant-api", "body": "%BODY%"},` + "\n" +
	`    {"repo": "webapp", "title": "Afficher la page profil", "agent": "webapp", "body": "%BODY%"}` + "\n" +
	`  ],` + "\n" +
	`  "workflow": [` + "\n" +
	`    {"task_id": "tenant-api-TBD", "depends_on": [], "priority": 1},` + "\n" +
	`    {"task_id": "webapp-TBD", "depends_on": ["tenant-api-TBD"], "priority": 2}` + "\n" +
	`  ]` + "\n}\n```"

func TestIngestRewritesPlaceholders(t *testing.T) {
	t.Parallel()
	in, f, s := newTestIngestor(t, strings.ReplaceAll(twoTaskPlan, "%BODY%", longBody))
	seedEpic(f)
	ctx := context.Background()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _, _ := s.Load(ctx)
	epic := doc.Epics["webapp-100"]
	if epic == nil {
		t.Fatal("epic not recorded")
	}
	if len(epic.Workflow) != 2 {
		t.Fatalf("workflow = %d entries, want 2", len(epic.Workflow))
	}
	first, second := epic.Workflow[0], epic.Workflow[1]
	if models.IsPlaceholder(first.TaskID) || models.IsPlaceholder(second.TaskID) {
		t.Fatalf("placeholders must be rewritten: %q %q", first.TaskID, second.TaskID)
	}
	if first.TaskID != "tenant-api-1" {
		t.Fatalf("first task id = %q, want tenant-api-1", first.TaskID)
	}
	if len(second.DependsOn) != 1 || second.DependsOn[0] != first.TaskID {
		t.Fatalf("second depends_on = %v, want [%s]", second.DependsOn, first.TaskID)
	}
}
