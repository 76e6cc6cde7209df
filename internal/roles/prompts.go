package roles

import (
	"fmt"
	"strings"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// Prompt templates are French, matching the working language of the teams
// the agents file issues for.

const analysisTemplate = `Tu es le tech-lead de l'organisation %s. Décompose cet épic en tâches techniques concrètes.

Repository : %s
Épic #%d : %s

Description :
%s

Dépôts disponibles et leurs agents :
%s

Instructions STRICTES :
1. Identifie AU MAXIMUM 2 tâches atomiques. Préfère une seule tâche complète à plusieurs tâches superficielles.
2. Chaque tâche doit être :
   - Implémentable indépendamment
   - Testable avec des critères d'acceptation clairs
   - Décrite en détail (au moins 100 caractères de description)
3. Ne crée PAS les issues toi-même : retourne le plan au format ci-dessous.
4. Les dépendances entre tâches utilisent l'identifiant '<repo>-TBD' tant que le numéro d'issue n'existe pas.

Retourne UNIQUEMENT un bloc JSON avec cette structure exacte :
` + "```json" + `
{
  "analysis": "Analyse synthétique de l'épic",
  "tasks_to_create": [
    {"repo": "webapp", "title": "Titre clair et actionnable", "agent": "webapp", "body": "Contexte, étapes et critères d'acceptation..."}
  ],
  "workflow": [
    {"task_id": "webapp-TBD", "depends_on": [], "priority": 1}
  ]
}
` + "```"

// AnalysisPrompt renders the tech-lead decomposition prompt for an epic.
func AnalysisPrompt(cfg *config.Config, repo string, number int, title, body string) string {
	var catalogue strings.Builder
	for _, r := range cfg.Repos {
		kind := "backend"
		if r.Frontend {
			kind = "front-end"
		} else if r.API {
			kind = "API"
		}
		fmt.Fprintf(&catalogue, "- %s (agent:%s, %s)\n", r.Name, r.Agent, kind)
	}
	return fmt.Sprintf(analysisTemplate, cfg.Org, repo, number, title, body, strings.TrimRight(catalogue.String(), "\n"))
}

const taskTemplate = `Implémente cette tâche GitHub.

Repository : %s
Tâche #%d : %s

Description :
%s

Instructions STRICTES :
1. Analyse le contexte du projet avant de modifier quoi que ce soit.
2. Implémente la solution complète avec tests.
3. Crée une PR propre avec 'gh pr create', en mentionnant '#%d' dans le titre ou la branche.
4. Utilise les patterns et conventions existants du projet.`

// TaskPrompt renders the implementation prompt for a dispatched task.
func TaskPrompt(repo string, number int, title, body string) string {
	return fmt.Sprintf(taskTemplate, repo, number, title, body, number)
}

const reviewTemplate = `Tu es le reviewer '%s'. Review cette Pull Request GitHub.

Repository : %s
PR #%d : %s

Instructions :
1. Utilise 'gh pr view %d --repo %s/%s' pour voir les détails et 'gh pr diff %d' pour le code.
2. Vérifie la qualité du code et l'alignement avec la tâche originale%s.
3. Poste ton rapport en commentaire avec 'gh pr comment %d --body', en commençant EXACTEMENT par la ligne :
%s%s

Sois rigoureux mais constructif.`

// ReviewPrompt renders a reviewer-role prompt for one pull request. The
// report marker line is how the aggregator counts quorum, so the prompt
// pins its exact form.
func ReviewPrompt(cfg *config.Config, role, repo string, prNumber int, prTitle string) string {
	angle := ""
	switch role {
	case "security":
		angle = ", en particulier les failles de sécurité (injections, secrets, permissions)"
	case "accessibility":
		angle = ", en particulier l'accessibilité (ARIA, contrastes, navigation clavier)"
	}
	return fmt.Sprintf(reviewTemplate, role, repo, prNumber, prTitle,
		prNumber, cfg.Org, repo, prNumber, angle, prNumber, models.ReviewMarkerPrefix, role)
}
