package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// Repo maps one monitored repository to the agent role that implements its
// tasks. Frontend repositories get the extra accessibility review.
type Repo struct {
	Name     string `yaml:"name"`
	Agent    string `yaml:"agent"`
	Frontend bool   `yaml:"frontend,omitempty"`
	API      bool   `yaml:"api,omitempty"`
}

// Config is the orchestrator configuration loaded from <home>/config.yaml.
type Config struct {
	Org   string `yaml:"org"`
	Repos []Repo `yaml:"repos"`

	// WorkRoot is the directory containing local checkouts of the monitored
	// repositories; the executor runs inside <work_root>/<repo>.
	WorkRoot string `yaml:"work_root"`

	// Seconds; zero values fall back to defaults below.
	ExecutorTimeoutSec int `yaml:"executor_timeout_sec,omitempty"`
	TrackerTimeoutSec  int `yaml:"tracker_timeout_sec,omitempty"`
	CycleIntervalSec   int `yaml:"cycle_interval_sec,omitempty"`
	LeaseTTLSec        int `yaml:"lease_ttl_sec,omitempty"`
	MaxParallel        int `yaml:"max_parallel,omitempty"`

	// Store selection, mirroring the dual-driver layout: "sqlite" (default,
	// lives under home) or "postgres" (DSN from DATABASE_URL).
	DBDriver string `yaml:"db_driver,omitempty"`
	DBURL    string `yaml:"db_url,omitempty"`
}

// Defaults carried over from the original deployment: ten-minute cycle,
// ten-minute executor timeout, three parallel dispatches.
const (
	DefaultExecutorTimeout = 600 * time.Second
	DefaultTrackerTimeout  = 30 * time.Second
	DefaultCycleInterval   = 600 * time.Second
	DefaultLeaseTTL        = 30 * time.Minute
	DefaultMaxParallel     = 3
)

func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Load reads <home>/config.yaml. A missing file is an error: init writes the
// scaffold first.
func Load(home string) (*Config, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no config at %s (run dulien init first)", Path(home))
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", Path(home), err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to <home>/config.yaml.
func Save(home string, cfg *Config) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// Default returns the catalogue the orchestrator was built around. init
// writes this scaffold for the operator to edit.
func Default() *Config {
	return &Config{
		Org: "mentorize-app",
		Repos: []Repo{
			{Name: "webapp", Agent: models.RoleWebapp, Frontend: true},
			{Name: "infrastructure", Agent: models.RoleInfrastructure},
			{Name: "tenant-api", Agent: models.RoleTenantAPI, API: true},
			{Name: "referential", Agent: models.RoleReferential, API: true},
			{Name: "mail-server", Agent: models.RoleMailServer},
			{Name: "landing-page", Agent: models.RoleLandingPage},
		},
		WorkRoot: "",
	}
}

func (c *Config) validate() error {
	if c.Org == "" {
		return fmt.Errorf("config: org is required")
	}
	if len(c.Repos) == 0 {
		return fmt.Errorf("config: at least one repo is required")
	}
	seen := make(map[string]bool, len(c.Repos))
	for _, r := range c.Repos {
		if r.Name == "" || r.Agent == "" {
			return fmt.Errorf("config: repo entries need name and agent")
		}
		if seen[r.Name] {
			return fmt.Errorf("config: duplicate repo %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// RepoByName returns the catalogue entry for a repository, or nil.
func (c *Config) RepoByName(name string) *Repo {
	for i := range c.Repos {
		if c.Repos[i].Name == name {
			return &c.Repos[i]
		}
	}
	return nil
}

// RepoNames returns the monitored repository names in catalogue order.
func (c *Config) RepoNames() []string {
	out := make([]string, 0, len(c.Repos))
	for _, r := range c.Repos {
		out = append(out, r.Name)
	}
	return out
}

// ReviewerRoles returns the reviewer roles required for a repository:
// security and tech-lead everywhere, accessibility on frontend repos.
func (c *Config) ReviewerRoles(repo string) []string {
	roles := []string{models.RoleSecurity, models.RoleTechLead}
	if r := c.RepoByName(repo); r != nil && r.Frontend {
		roles = append(roles, models.RoleAccessibility)
	}
	return roles
}

// ReviewQuorum returns the number of distinct reviewer roles whose reports
// must appear on a pull request before it is merge-ready.
func (c *Config) ReviewQuorum(repo string) int {
	return len(c.ReviewerRoles(repo))
}

// RepoDir returns the local checkout path for a repository, or "" when no
// work root is configured (the executor then runs in the process cwd).
func (c *Config) RepoDir(repo string) string {
	if c.WorkRoot == "" {
		return ""
	}
	return filepath.Join(c.WorkRoot, repo)
}

func (c *Config) ExecutorTimeout() time.Duration {
	return secondsOr(c.ExecutorTimeoutSec, DefaultExecutorTimeout)
}

func (c *Config) TrackerTimeout() time.Duration {
	return secondsOr(c.TrackerTimeoutSec, DefaultTrackerTimeout)
}

func (c *Config) CycleInterval() time.Duration {
	return secondsOr(c.CycleIntervalSec, DefaultCycleInterval)
}

func (c *Config) LeaseTTL() time.Duration {
	return secondsOr(c.LeaseTTLSec, DefaultLeaseTTL)
}

func (c *Config) Parallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	return DefaultMaxParallel
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return fallback
}
