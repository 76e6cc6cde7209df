// Package mentions scans human pull-request comments for role mentions and
// routes each one either as a correction request on the current pull request
// or as a brand-new task.
package mentions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// LeaseName scopes the router-wide mutual exclusion marker. The whole router
// is single-flight; per-repository locking is deliberately not used.
const LeaseName = "mention-router"

// BotAuthor is the author name used for the engine's own comments, so the
// router never reacts to them.
const BotAuthor = "dulien-bot"

// targetRepoPattern parses "dans <repo>" / "in <repo>" out of a tech-lead
// instruction.
var targetRepoPattern = regexp.MustCompile(`(?i)\b(?:dans|in)\s+([a-z0-9][a-z0-9-]*)`)

type Router struct {
	Store   store.Store
	Tracker tracker.Gateway
	Roles   *roles.Registry
	Config  *config.Config
	Logger  *slog.Logger

	// Owner identifies this router instance in the lease record. Defaults
	// to a fresh uuid per Run when empty.
	Owner string
}

// Mention is one recognized, not-yet-routed role mention.
type Mention struct {
	Role   string
	Text   string
	Repo   string
	Number int // source pull request
}

// Hash is the dedup key: stable over mention text, source repo and pull
// request number.
func (m Mention) Hash() string {
	h := sha256.New()
	h.Write([]byte(m.Text))
	h.Write([]byte{0})
	h.Write([]byte(m.Repo))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(m.Number)))
	return hex.EncodeToString(h.Sum(nil))
}

// Run scans every open pull request for new role mentions under the
// router-wide lease. When another live owner holds the lease the scan is
// skipped; a stale lease is stolen by the store.
func (r *Router) Run(ctx context.Context) error {
	owner := r.Owner
	if owner == "" {
		owner = uuid.NewString()
	}
	ok, err := r.Store.AcquireLease(ctx, LeaseName, owner, r.Config.LeaseTTL())
	if err != nil {
		return fmt.Errorf("acquire router lease: %w", err)
	}
	if !ok {
		r.logger().Info("mention router already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := r.Store.ReleaseLease(ctx, LeaseName, owner); err != nil {
			r.logger().Warn("lease release failed", "err", err)
		}
	}()

	for _, repo := range r.Config.RepoNames() {
		prs, err := r.Tracker.ListOpenPullRequests(ctx, repo)
		if err != nil {
			return fmt.Errorf("list pull requests in %s: %w", repo, err)
		}
		for _, pr := range prs {
			if err := r.scanPullRequest(ctx, pr); err != nil {
				r.logger().Error("mention scan failed", "repo", repo, "pr", pr.Number, "err", err)
			}
		}
	}
	return nil
}

func (r *Router) scanPullRequest(ctx context.Context, pr tracker.PullRequest) error {
	comments, err := r.Tracker.ListComments(ctx, pr.Repo, pr.Number)
	if err != nil {
		return err
	}
	for _, c := range comments {
		if isBot(c) {
			continue
		}
		role, ok := r.recognizeRole(c.Body)
		if !ok {
			continue
		}
		m := Mention{Role: role, Text: c.Body, Repo: pr.Repo, Number: pr.Number}
		seen, err := r.Store.SeenMention(ctx, m.Hash())
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := r.Store.RecordMention(ctx, m.Hash()); err != nil {
			return err
		}
		if err := r.route(ctx, m); err != nil {
			r.logger().Error("mention routing failed", "repo", m.Repo, "pr", m.Number, "role", m.Role, "err", err)
		}
	}
	return nil
}

// isBot filters the engine's own comments and tracker bot accounts.
func isBot(c tracker.Comment) bool {
	if c.Author == BotAuthor || strings.HasSuffix(c.Author, "[bot]") || strings.HasSuffix(c.Author, "-bot") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(c.Body), models.ReviewMarkerPrefix)
}

// recognizeRole returns the mentioned role. The tech-lead token wins when a
// comment mentions several roles; remaining ties break alphabetically so
// routing is deterministic.
func (r *Router) recognizeRole(text string) (string, bool) {
	if strings.Contains(text, "@"+models.RoleTechLead) {
		return models.RoleTechLead, true
	}
	names := r.Roles.Names()
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(text, "@"+name) {
			return name, true
		}
	}
	return "", false
}

// route dispatches one deduplicated mention. tech-lead mentions create a new
// task; any other role gets a correction request on the source pull request.
func (r *Router) route(ctx context.Context, m Mention) error {
	otel.RecordMention(ctx, m.Role)
	if m.Role == models.RoleTechLead {
		return r.routeNewTask(ctx, m)
	}
	return r.routeCorrection(ctx, m)
}

// routeNewTask creates a tracker issue in the repository named in the
// mention and registers it under a synthetic epic so it enters the normal
// scheduler. An unrecognized repository yields a clarification comment; that
// is a terminal outcome for the mention, not an error.
func (r *Router) routeNewTask(ctx context.Context, m Mention) error {
	target, ok := r.parseTargetRepo(m.Text)
	if !ok {
		return r.Tracker.CreateComment(ctx, m.Repo, m.Number,
			"Je n'ai pas reconnu de dépôt cible dans cette demande. Précisez le dépôt, par exemple : « @tech-lead crée une tâche dans webapp pour ... »")
	}
	repo := r.Config.RepoByName(target)

	title := mentionTaskTitle(m)
	body := mentionTaskBody(m)
	number, err := r.Tracker.CreateIssue(ctx, target, title, body,
		[]string{models.LabelAgentPrefix + repo.Agent})
	if err != nil {
		return fmt.Errorf("create mention task in %s: %w", target, err)
	}

	epicID := "mention-" + m.Hash()[:8]
	ref := models.TaskRef{Repo: target, IssueNumber: number, Title: title, Agent: repo.Agent}
	err = store.Update(ctx, r.Store, func(d *models.Document) error {
		if d.Epics == nil {
			d.Epics = make(map[string]*models.Epic)
		}
		d.Epics[epicID] = &models.Epic{
			Analysis:     fmt.Sprintf("Tâche demandée via mention sur %s#%d.", m.Repo, m.Number),
			TasksCreated: []models.TaskRef{ref},
			Workflow:     []models.WorkflowEntry{{TaskID: ref.ID(), DependsOn: []string{}}},
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register synthetic epic %s: %w", epicID, err)
	}

	if err := r.Tracker.CreateComment(ctx, m.Repo, m.Number,
		fmt.Sprintf("Tâche créée : %s#%d.", target, number)); err != nil {
		r.logger().Warn("mention ack comment failed", "err", err)
	}
	r.logger().Info("mention task created", "epic", epicID, "task", ref.ID())
	return nil
}

// routeCorrection posts a correction request addressed to the mentioned role
// and flags the pull request's task so the review fan-out runs again.
func (r *Router) routeCorrection(ctx context.Context, m Mention) error {
	comment := fmt.Sprintf("Demande de correction pour le rôle **%s** (mention de %s#%d) :\n\n> %s",
		m.Role, m.Repo, m.Number, strings.ReplaceAll(m.Text, "\n", "\n> "))
	if err := r.Tracker.CreateComment(ctx, m.Repo, m.Number, comment); err != nil {
		return err
	}

	// Best effort: if the pull request maps back to a tracked task, mark it
	// mention_triggered so reviews are re-requested.
	return store.Update(ctx, r.Store, func(d *models.Document) error {
		entry := r.entryForPullRequest(ctx, d, m)
		if entry == nil {
			return store.ErrSkipSave
		}
		switch entry.EffectiveStatus() {
		case models.StatusUnderReview, models.StatusReviewRequested, models.StatusSecurityReviewRequested:
			entry.Status = models.StatusMentionTriggered
			return nil
		}
		return store.ErrSkipSave
	})
}

func (r *Router) entryForPullRequest(ctx context.Context, d *models.Document, m Mention) *models.WorkflowEntry {
	prs, err := r.Tracker.ListOpenPullRequests(ctx, m.Repo)
	if err != nil {
		return nil
	}
	var branch, title string
	for _, pr := range prs {
		if pr.Number == m.Number {
			branch, title = pr.Branch, pr.Title
			break
		}
	}
	for _, epic := range d.Epics {
		for i := range epic.Workflow {
			entry := &epic.Workflow[i]
			repo, number, err := models.SplitTaskID(entry.TaskID)
			if err != nil || repo != m.Repo {
				continue
			}
			n := strconv.Itoa(number)
			if strings.Contains(branch, n) || strings.Contains(title, "#"+n) {
				return entry
			}
		}
	}
	return nil
}

// parseTargetRepo extracts the first recognized repository name following a
// "dans"/"in" preposition.
func (r *Router) parseTargetRepo(text string) (string, bool) {
	for _, match := range targetRepoPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(match[1])
		if r.Config.RepoByName(name) != nil {
			return name, true
		}
	}
	return "", false
}

func mentionTaskTitle(m Mention) string {
	title := strings.TrimSpace(firstLine(m.Text))
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	return fmt.Sprintf("[Mention %s#%d] %s", m.Repo, m.Number, title)
}

func mentionTaskBody(m Mention) string {
	return fmt.Sprintf(
		"> Tâche créée par l'orchestrateur Dulien suite à une mention.\n> Source : %s#%d\n\nDemande d'origine :\n\n> %s",
		m.Repo, m.Number, strings.ReplaceAll(m.Text, "\n", "\n> "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
