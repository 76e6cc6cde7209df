// Package scheduler selects dependency-satisfied pending tasks and
// dispatches them to their agent roles.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/runtime"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

type Scheduler struct {
	Store   store.Store
	Tracker tracker.Gateway
	Runtime runtime.Runtime
	Roles   *roles.Registry
	Config  *config.Config
	Logger  *slog.Logger
}

// Candidate is one ready task with its owning epic.
type Candidate struct {
	EpicID string
	Ref    models.TaskRef
}

// SelectReady returns tasks whose status is pending and whose every
// dependency resolves, anywhere in the document, to a completed entry.
// Placeholder dependencies are never satisfied. Results are ordered by
// priority, then task id, for reproducible dispatch order.
func SelectReady(doc models.Document) []Candidate {
	type ranked struct {
		Candidate
		priority int
	}
	var out []ranked
	for epicID, epic := range doc.Epics {
		for i := range epic.Workflow {
			entry := &epic.Workflow[i]
			if entry.EffectiveStatus() != models.StatusPending {
				continue
			}
			if !depsSatisfied(doc, entry) {
				continue
			}
			ref, ok := findRef(epic, entry.TaskID)
			if !ok {
				continue
			}
			out = append(out, ranked{Candidate{EpicID: epicID, Ref: ref}, entry.Priority})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].Ref.ID() < out[j].Ref.ID()
	})
	result := make([]Candidate, len(out))
	for i, r := range out {
		result[i] = r.Candidate
	}
	return result
}

func depsSatisfied(doc models.Document, entry *models.WorkflowEntry) bool {
	if models.IsPlaceholder(entry.TaskID) {
		return false
	}
	for _, dep := range entry.DependsOn {
		if models.IsPlaceholder(dep) {
			return false
		}
		// Dependencies may cross epics, so the search is global.
		found := doc.FindEntry(dep)
		if found == nil || found.EffectiveStatus() != models.StatusCompleted {
			return false
		}
	}
	return true
}

func findRef(epic *models.Epic, taskID string) (models.TaskRef, bool) {
	for _, ref := range epic.TasksCreated {
		if ref.ID() == taskID {
			return ref, true
		}
	}
	return models.TaskRef{}, false
}

// Run selects ready tasks and dispatches them concurrently, bounded by the
// configured parallelism. Dispatch failures leave the task pending for the
// next cycle until the retry cap marks it failed.
func (s *Scheduler) Run(ctx context.Context) error {
	doc, _, err := s.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workflow document: %w", err)
	}
	ready := SelectReady(doc)
	if len(ready) == 0 {
		return nil
	}

	// Claim every selected task up front: status moves to processing and
	// the attempt is counted, so overlapping cycles do not double-dispatch.
	claimed := make([]Candidate, 0, len(ready))
	err = store.Update(ctx, s.Store, func(d *models.Document) error {
		claimed = claimed[:0]
		for _, c := range ready {
			entry := d.FindEntry(c.Ref.ID())
			if entry == nil || entry.EffectiveStatus() != models.StatusPending {
				continue
			}
			if entry.Attempts >= models.MaxDispatchRetries {
				entry.Status = models.StatusFailed
				continue
			}
			entry.Status = models.StatusProcessing
			entry.Attempts++
			claimed = append(claimed, c)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("claim ready tasks: %w", err)
	}

	sem := make(chan struct{}, s.Config.Parallel())
	var wg sync.WaitGroup
	for _, c := range claimed {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatch(ctx, c)
		}(c)
	}
	wg.Wait()
	return nil
}

// dispatch runs one task through its agent role. On success the entry moves
// to the role's post-dispatch status; on failure it drops back to pending.
func (s *Scheduler) dispatch(ctx context.Context, c Candidate) {
	logger := s.logger().With("task", c.Ref.ID(), "role", c.Ref.Agent)
	role, err := s.Roles.Get(c.Ref.Agent)
	if err != nil {
		logger.Error("dispatch skipped", "err", err)
		s.setStatus(ctx, c.Ref.ID(), models.StatusPending)
		return
	}

	issue, err := s.Tracker.GetIssue(ctx, c.Ref.Repo, c.Ref.IssueNumber)
	if err != nil {
		logger.Error("task issue unreadable", "err", err)
		s.setStatus(ctx, c.Ref.ID(), models.StatusPending)
		return
	}
	if err := s.Tracker.AddLabels(ctx, c.Ref.Repo, c.Ref.IssueNumber, models.LabelProcessing); err != nil {
		logger.Warn("processing label failed", "err", err)
	}

	started := time.Now()
	_, err = s.Runtime.Run(ctx, runtime.Request{
		Role:         c.Ref.Agent,
		TaskID:       c.Ref.ID(),
		Prompt:       roles.TaskPrompt(c.Ref.Repo, c.Ref.IssueNumber, issue.Title, issue.Body),
		WorkDir:      s.Config.RepoDir(c.Ref.Repo),
		AllowedTools: role.AllowedTools,
		Timeout:      s.Config.ExecutorTimeout(),
	})

	if removeErr := s.Tracker.RemoveLabel(ctx, c.Ref.Repo, c.Ref.IssueNumber, models.LabelProcessing); removeErr != nil {
		logger.Warn("processing label removal failed", "err", removeErr)
	}
	if err != nil {
		otel.RecordDispatch(ctx, c.Ref.Repo, c.Ref.Agent, "error", time.Since(started))
		logger.Error("dispatch failed, task stays pending", "err", err)
		s.setStatus(ctx, c.Ref.ID(), models.StatusPending)
		return
	}
	otel.RecordDispatch(ctx, c.Ref.Repo, c.Ref.Agent, "ok", time.Since(started))

	if role.PostDispatch == models.StatusReviewRequested {
		if err := s.Tracker.AddLabels(ctx, c.Ref.Repo, c.Ref.IssueNumber, models.LabelReviewRequested); err != nil {
			logger.Warn("review label failed", "err", err)
		}
	}
	s.setStatus(ctx, c.Ref.ID(), role.PostDispatch)
	logger.Info("task dispatched", "status", role.PostDispatch)
}

func (s *Scheduler) setStatus(ctx context.Context, taskID, status string) {
	err := store.Update(ctx, s.Store, func(d *models.Document) error {
		entry := d.FindEntry(taskID)
		if entry == nil {
			return store.ErrSkipSave
		}
		entry.Status = status
		return nil
	})
	if err != nil {
		s.logger().Error("status update failed", "task", taskID, "status", status, "err", err)
	}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
