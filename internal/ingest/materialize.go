package ingest

import (
	"context"
	"fmt"

	"github.com/florianRadureau/dulien-orchestration/internal/extract"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// materialize creates one tracker issue per planned task and rewrites the
// placeholder dependency references to resolved task ids. A failed creation
// substitutes the sentinel issue number instead of aborting the batch, so
// the remaining tasks still proceed and the broken one stays visible.
func (in *Ingestor) materialize(ctx context.Context, epicID string, payload extract.Payload) ([]models.TaskRef, []models.WorkflowEntry) {
	logger := in.logger()

	refs := make([]models.TaskRef, 0, len(payload.TasksToCreate))
	// resolved maps each repo's placeholder to its created task ids in plan
	// order. task_id fields consume them positionally; depends_on references
	// resolve to the repo's first created task.
	resolved := make(map[string][]string)
	for _, spec := range payload.TasksToCreate {
		body := ComposeIssueBody(epicID, spec.Agent, spec.Body)
		number, err := in.Tracker.CreateIssue(ctx, spec.Repo, spec.Title, body,
			[]string{models.LabelAgentPrefix + spec.Agent})
		if err != nil {
			logger.Error("issue creation failed, recording sentinel",
				"epic", epicID, "repo", spec.Repo, "title", spec.Title, "err", err)
			number = models.SentinelIssueNumber
		}
		ref := models.TaskRef{
			Repo:        spec.Repo,
			IssueNumber: number,
			Title:       spec.Title,
			Agent:       spec.Agent,
		}
		refs = append(refs, ref)
		placeholder := models.PlaceholderID(spec.Repo)
		resolved[placeholder] = append(resolved[placeholder], ref.ID())
	}

	consumed := make(map[string]int)
	entries := make([]models.WorkflowEntry, 0, len(payload.Workflow))
	for _, spec := range payload.Workflow {
		entry := models.WorkflowEntry{
			TaskID:    spec.TaskID,
			DependsOn: append([]string(nil), spec.DependsOn...),
			Priority:  spec.Priority,
		}
		if models.IsPlaceholder(entry.TaskID) {
			ids := resolved[entry.TaskID]
			if i := consumed[entry.TaskID]; i < len(ids) {
				consumed[entry.TaskID] = i + 1
				entry.TaskID = ids[i]
			}
		}
		for i, dep := range entry.DependsOn {
			if ids := resolved[dep]; models.IsPlaceholder(dep) && len(ids) > 0 {
				entry.DependsOn[i] = ids[0]
			}
		}
		entries = append(entries, entry)
	}
	return refs, entries
}

// ComposeIssueBody builds a created issue's body from the fixed provenance
// header, the agent-authored body and the fixed footer. The composition is
// deterministic given the same inputs.
func ComposeIssueBody(epicID, agent, body string) string {
	return fmt.Sprintf(
		"> Tâche générée par l'orchestrateur Dulien depuis l'épic %s.\n> Agent assigné : %s\n\n%s\n\n---\n_Issue créée automatiquement. Ne pas modifier le titre._",
		epicID, agent, body)
}
