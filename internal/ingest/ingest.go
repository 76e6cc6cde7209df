// Package ingest detects new epics, runs the tech-lead analysis, materializes
// the resulting tasks in the issue tracker and commits the epic to the state
// store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/extract"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/runtime"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// Ingestor turns open epic issues into analyzed epics with materialized
// tasks. One epic is processed at most once; failures are labeled on the
// tracker and retried only after an operator clears the label.
type Ingestor struct {
	Store   store.Store
	Tracker tracker.Gateway
	Runtime runtime.Runtime
	Roles   *roles.Registry
	Config  *config.Config
	Logger  *slog.Logger
}

// EpicID is the document key for a tracker epic. Issue numbers are only
// unique per repository, so the key carries both.
func EpicID(repo string, number int) string {
	return models.TaskID(repo, number)
}

// Run ingests every newly observed epic, oldest issue number first.
func (in *Ingestor) Run(ctx context.Context) error {
	logger := in.logger()
	doc, _, err := in.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workflow document: %w", err)
	}

	epics, err := in.findNewEpics(ctx, doc)
	if err != nil {
		return err
	}
	for _, epic := range epics {
		if err := in.ingestOne(ctx, epic); err != nil {
			logger.Error("epic ingestion failed",
				"repo", epic.Repo, "number", epic.Number, "err", err)
		}
	}
	return nil
}

// findNewEpics lists open epic-marked issues absent from the document,
// skipping epics already labeled analysis-failed. An issue counts as an epic
// on the title marker or the type:epic label. Ordering is by issue number
// then repo, so outcomes are reproducible.
func (in *Ingestor) findNewEpics(ctx context.Context, doc models.Document) ([]tracker.Issue, error) {
	var epics []tracker.Issue
	for _, repo := range in.Config.RepoNames() {
		issues, err := in.Tracker.ListOpenIssues(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("list issues in %s: %w", repo, err)
		}
		for _, is := range issues {
			if !strings.Contains(is.Title, models.EpicMarker) && !is.HasLabel(models.LabelEpic) {
				continue
			}
			if is.HasLabel(models.LabelAnalysisFailed) {
				continue
			}
			if doc.HasEpic(EpicID(is.Repo, is.Number)) {
				continue
			}
			epics = append(epics, is)
		}
	}
	sort.Slice(epics, func(i, j int) bool {
		if epics[i].Number != epics[j].Number {
			return epics[i].Number < epics[j].Number
		}
		return epics[i].Repo < epics[j].Repo
	})
	return epics, nil
}

func (in *Ingestor) ingestOne(ctx context.Context, epic tracker.Issue) error {
	logger := in.logger()
	epicID := EpicID(epic.Repo, epic.Number)
	logger.Info("ingesting epic", "epic", epicID, "title", epic.Title)

	techLead, err := in.Roles.Get(models.RoleTechLead)
	if err != nil {
		return err
	}
	res, err := in.Runtime.Run(ctx, runtime.Request{
		Role:         models.RoleTechLead,
		Prompt:       roles.AnalysisPrompt(in.Config, epic.Repo, epic.Number, epic.Title, epic.Body),
		WorkDir:      in.Config.RepoDir(epic.Repo),
		AllowedTools: techLead.AllowedTools,
		Timeout:      in.Config.ExecutorTimeout(),
	})
	if err != nil {
		// Executor failure leaves the epic untouched for the next cycle.
		return fmt.Errorf("tech-lead analysis: %w", err)
	}

	payload, err := extract.ExtractAndValidate(res.Output)
	if err != nil {
		return in.markFailed(ctx, epic, res.Output, err)
	}

	refs, entries := in.materialize(ctx, epicID, payload)

	err = store.Update(ctx, in.Store, func(doc *models.Document) error {
		if doc.HasEpic(epicID) {
			// An overlapping cycle got here first.
			return store.ErrSkipSave
		}
		if doc.Epics == nil {
			doc.Epics = make(map[string]*models.Epic)
		}
		doc.Epics[epicID] = &models.Epic{
			Analysis:     payload.Analysis,
			TasksCreated: refs,
			Workflow:     entries,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist epic %s: %w", epicID, err)
	}

	if err := in.Tracker.CreateComment(ctx, epic.Repo, epic.Number, summaryComment(refs)); err != nil {
		logger.Warn("summary comment failed", "epic", epicID, "err", err)
	}
	logger.Info("epic ingested", "epic", epicID, "tasks", len(refs))
	return nil
}

// markFailed labels the epic and keeps the raw output for inspection. The
// epic is not retried until an operator removes the label.
func (in *Ingestor) markFailed(ctx context.Context, epic tracker.Issue, raw string, cause error) error {
	epicID := EpicID(epic.Repo, epic.Number)
	otel.RecordExtractionFailure(ctx, epic.Repo)
	if err := in.Store.SaveArtifact(ctx, "analysis-failed/"+epicID, raw); err != nil {
		in.logger().Warn("artifact save failed", "epic", epicID, "err", err)
	}
	if err := in.Tracker.AddLabels(ctx, epic.Repo, epic.Number, models.LabelAnalysisFailed); err != nil {
		in.logger().Warn("failure label failed", "epic", epicID, "err", err)
	}
	return fmt.Errorf("epic %s analysis rejected: %w", epicID, cause)
}

func (in *Ingestor) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

func summaryComment(refs []models.TaskRef) string {
	if len(refs) == 0 {
		return "Épic analysé. Aucune tâche à créer."
	}
	var b strings.Builder
	b.WriteString("Épic analysé. Tâches créées :\n")
	for _, r := range refs {
		if r.IssueNumber == models.SentinelIssueNumber {
			fmt.Fprintf(&b, "- %s : **création échouée** (%s)\n", r.Repo, r.Title)
			continue
		}
		fmt.Fprintf(&b, "- %s#%d : %s (agent:%s)\n", r.Repo, r.IssueNumber, r.Title, r.Agent)
	}
	return strings.TrimRight(b.String(), "\n")
}
