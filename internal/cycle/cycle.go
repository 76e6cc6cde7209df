// Package cycle drives one orchestration pass: epic ingestion, task
// scheduling, mention routing, review reconciliation and the completion
// check. External timers (or the watch daemon) invoke Run repeatedly.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/florianRadureau/dulien-orchestration/internal/journal"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// Step is one pipeline stage. Ingestor, Scheduler, Router and Reviewer all
// satisfy it.
type Step interface {
	Run(ctx context.Context) error
}

type Driver struct {
	Ingest   Step
	Schedule Step
	Mentions Step
	Review   Step

	Store   store.Store
	Tracker tracker.Gateway
	Journal *journal.Journal
	Logger  *slog.Logger

	cycles atomic.Int64
}

// Run executes one full cycle. A failing step is logged and journaled but
// never stops the later steps; partial-cycle completion is accepted and the
// next cycle re-derives everything from tracker state.
func (d *Driver) Run(ctx context.Context) error {
	n := d.cycles.Add(1)
	logger := d.logger().With("cycle", n)
	logger.Info("cycle started")

	steps := []struct {
		name string
		step Step
	}{
		{"ingest", d.Ingest},
		{"schedule", d.Schedule},
		{"mentions", d.Mentions},
		{"review", d.Review},
		{"completion", stepFunc(d.checkCompletion)},
	}
	for _, s := range steps {
		if s.step == nil {
			continue
		}
		start := time.Now()
		err := s.step.Run(ctx)
		elapsed := time.Since(start)
		otel.RecordCycleStep(ctx, s.name, elapsed)
		d.journalStep(ctx, n, s.name, elapsed, err)
		if err != nil {
			logger.Error("cycle step failed", "step", s.name, "err", err)
			continue
		}
		logger.Debug("cycle step done", "step", s.name, "elapsed", elapsed.Round(time.Millisecond))
	}

	otel.RecordCycle(ctx)
	logger.Info("cycle finished")
	return nil
}

type stepFunc func(ctx context.Context) error

func (f stepFunc) Run(ctx context.Context) error { return f(ctx) }

// checkCompletion closes the loop on merged work: a ready_to_merge task
// whose tracker issue is closed becomes completed, and an epic whose tasks
// just all completed gets a completion comment on the epic issue.
func (d *Driver) checkCompletion(ctx context.Context) error {
	doc, _, err := d.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workflow document: %w", err)
	}

	var completed []string
	for _, epic := range doc.Epics {
		for _, entry := range epic.Workflow {
			if entry.EffectiveStatus() != models.StatusReadyToMerge {
				continue
			}
			repo, number, err := models.SplitTaskID(entry.TaskID)
			if err != nil {
				continue
			}
			issue, err := d.Tracker.GetIssue(ctx, repo, number)
			if err != nil {
				d.logger().Warn("completion check unreadable issue", "task", entry.TaskID, "err", err)
				continue
			}
			if !issue.Open {
				completed = append(completed, entry.TaskID)
			}
		}
	}
	if len(completed) == 0 {
		return nil
	}

	// Epics whose final task completes in this pass get the comment; epics
	// already fully completed before stay silent.
	var finished []string
	err = store.Update(ctx, d.Store, func(doc *models.Document) error {
		finished = finished[:0]
		changed := make(map[string]bool)
		for _, taskID := range completed {
			entry := doc.FindEntry(taskID)
			if entry == nil || entry.EffectiveStatus() != models.StatusReadyToMerge {
				continue
			}
			entry.Status = models.StatusCompleted
			for epicID, epic := range doc.Epics {
				for i := range epic.Workflow {
					if epic.Workflow[i].TaskID == taskID {
						changed[epicID] = true
					}
				}
			}
		}
		for epicID := range changed {
			if allCompleted(doc.Epics[epicID]) {
				finished = append(finished, epicID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, taskID := range completed {
		d.logger().Info("task completed", "task", taskID)
	}
	for _, epicID := range finished {
		// Synthetic mention epics have no tracker issue to comment on.
		if strings.HasPrefix(epicID, "mention-") {
			continue
		}
		repo, number, err := models.SplitTaskID(epicID)
		if err != nil {
			continue
		}
		if err := d.Tracker.CreateComment(ctx, repo, number,
			"Toutes les tâches de cet épic sont terminées et mergées. Épic clos par l'orchestrateur."); err != nil {
			d.logger().Warn("epic completion comment failed", "epic", epicID, "err", err)
		}
	}
	return nil
}

func allCompleted(epic *models.Epic) bool {
	if epic == nil || len(epic.Workflow) == 0 {
		return false
	}
	for _, entry := range epic.Workflow {
		if entry.EffectiveStatus() != models.StatusCompleted {
			return false
		}
	}
	return true
}

func (d *Driver) journalStep(ctx context.Context, cycle int64, step string, elapsed time.Duration, err error) {
	if d.Journal == nil {
		return
	}
	e := journal.Entry{Cycle: cycle, Step: step, Outcome: "ok", Elapsed: elapsed.Seconds()}
	if err != nil {
		e.Outcome = "error"
		e.Detail = err.Error()
	}
	if jerr := d.Journal.Append(ctx, e); jerr != nil {
		d.logger().Warn("journal append failed", "err", jerr)
	}
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
