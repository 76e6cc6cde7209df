// Package roles maps agent role names to their capabilities: tool allow-list,
// post-dispatch status and prompt templates.
package roles

import (
	"fmt"
	"sync"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// Role is one named execution capability.
type Role struct {
	Name         string
	AllowedTools []string
	// PostDispatch is the status a task moves to after a successful
	// dispatch of this role.
	PostDispatch string
}

// Registry holds roles by name. Populated at startup from config; dispatch
// code looks roles up by the task's agent field and never switches on names.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewRegistry() *Registry {
	return &Registry{roles: make(map[string]Role)}
}

func (r *Registry) Register(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

func (r *Registry) Get(name string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("role %q not registered", name)
	}
	return role, nil
}

// Known reports whether name resolves to a registered role.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// Names returns all registered role names, for mention scanning.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles))
	for name := range r.roles {
		out = append(out, name)
	}
	return out
}

var executorTools = []string{"Bash", "Read", "Glob", "Grep", "Edit", "Write"}

var reviewerTools = []string{"Bash", "Read", "Glob", "Grep"}

// NewFromConfig builds the registry for a repository catalogue. Each repo's
// agent role is registered with the implementation tool set; reviewer roles
// (security, tech-lead, accessibility) are always present.
func NewFromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	for _, repo := range cfg.Repos {
		status := models.StatusReviewRequested
		if repo.API {
			status = models.StatusSecurityReviewRequested
		}
		r.Register(Role{
			Name:         repo.Agent,
			AllowedTools: executorTools,
			PostDispatch: status,
		})
	}
	// Security review is the last stage for API work, so the security role
	// completes directly.
	r.Register(Role{Name: models.RoleSecurity, AllowedTools: reviewerTools, PostDispatch: models.StatusCompleted})
	r.Register(Role{Name: models.RoleTechLead, AllowedTools: executorTools, PostDispatch: models.StatusReviewRequested})
	r.Register(Role{Name: models.RoleAccessibility, AllowedTools: reviewerTools, PostDispatch: models.StatusCompleted})
	return r
}
