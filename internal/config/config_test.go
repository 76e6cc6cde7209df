package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

func TestResolveHome(t *testing.T) {
	if got, err := ResolveHome("/tmp/x"); err != nil || got != "/tmp/x" {
		t.Fatalf("override: got %q err %v", got, err)
	}
	t.Setenv("DULIEN_HOME", "/tmp/envhome")
	if got, err := ResolveHome(""); err != nil || got != "/tmp/envhome" {
		t.Fatalf("env: got %q err %v", got, err)
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := Save(home, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Org != "mentorize-app" {
		t.Fatalf("org: got %q", cfg.Org)
	}
	if len(cfg.Repos) != 6 {
		t.Fatalf("repos: got %d", len(cfg.Repos))
	}
	if cfg.RepoByName("webapp") == nil || !cfg.RepoByName("webapp").Frontend {
		t.Fatal("webapp should be a frontend repo")
	}
	if cfg.RepoByName("mail-server") == nil || cfg.RepoByName("landing-page") == nil {
		t.Fatal("mail-server and landing-page belong to the default catalogue")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoadRejectsBadCatalogue(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	bad := "org: x\nrepos:\n  - name: a\n    agent: webapp\n  - name: a\n    agent: webapp\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected duplicate-repo error")
	}
}

func TestReviewQuorum(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if q := cfg.ReviewQuorum("webapp"); q != 3 {
		t.Fatalf("webapp quorum: got %d, want 3", q)
	}
	if q := cfg.ReviewQuorum("tenant-api"); q != 2 {
		t.Fatalf("tenant-api quorum: got %d, want 2", q)
	}
	roles := cfg.ReviewerRoles("webapp")
	want := map[string]bool{models.RoleSecurity: true, models.RoleTechLead: true, models.RoleAccessibility: true}
	for _, r := range roles {
		if !want[r] {
			t.Fatalf("unexpected reviewer role %q", r)
		}
	}
}

func TestDurationDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if cfg.ExecutorTimeout() != DefaultExecutorTimeout {
		t.Fatal("executor timeout default")
	}
	cfg.ExecutorTimeoutSec = 120
	if cfg.ExecutorTimeout().Seconds() != 120 {
		t.Fatal("executor timeout override")
	}
	if cfg.Parallel() != DefaultMaxParallel {
		t.Fatal("parallel default")
	}
}
