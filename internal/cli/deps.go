package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/cycle"
	"github.com/florianRadureau/dulien-orchestration/internal/ingest"
	"github.com/florianRadureau/dulien-orchestration/internal/journal"
	"github.com/florianRadureau/dulien-orchestration/internal/mentions"
	"github.com/florianRadureau/dulien-orchestration/internal/reviewer"
	"github.com/florianRadureau/dulien-orchestration/internal/roles"
	"github.com/florianRadureau/dulien-orchestration/internal/runtime"
	"github.com/florianRadureau/dulien-orchestration/internal/scheduler"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/internal/store/postgres"
	"github.com/florianRadureau/dulien-orchestration/internal/tracker"
)

// app bundles the wired dependencies behind the stage commands. dry-run
// swaps the tracker and the executor for in-memory fakes so a cycle can be
// exercised without GitHub or the claude CLI.
type app struct {
	Home    string
	Config  *config.Config
	Store   store.Store
	Tracker tracker.Gateway
	Runtime runtime.Runtime
	Roles   *roles.Registry
	Logger  *slog.Logger
}

func newApp(ctx context.Context, dryRun bool) (*app, error) {
	home := config.MustHomeFrom(ctx)
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}

	st, err := openStore(home, cfg)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()

	var gw tracker.Gateway
	var rt runtime.Runtime
	if dryRun {
		gw = tracker.NewFake()
		rt = &runtime.StubRuntime{}
	} else {
		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			_ = st.Close()
			return nil, errors.New("GITHUB_TOKEN is not set")
		}
		gw = tracker.NewGitHub(ctx, cfg.Org, token, logger)
		rt = runtime.ClaudeRuntime{
			Timeout:     cfg.ExecutorTimeout(),
			SandboxRoot: cfg.WorkRoot,
			Logger:      logger,
		}
	}

	return &app{
		Home:    home,
		Config:  cfg,
		Store:   st,
		Tracker: gw,
		Runtime: rt,
		Roles:   roles.NewFromConfig(cfg),
		Logger:  logger,
	}, nil
}

func openStore(home string, cfg *config.Config) (store.Store, error) {
	if cfg.DBDriver == "postgres" {
		return postgres.Open(cfg.DBURL)
	}
	return store.Open(home)
}

func (a *app) Close() {
	_ = a.Store.Close()
}

// driver assembles the full cycle pipeline.
func (a *app) driver() *cycle.Driver {
	return &cycle.Driver{
		Ingest: &ingest.Ingestor{
			Store:   a.Store,
			Tracker: a.Tracker,
			Runtime: a.Runtime,
			Roles:   a.Roles,
			Config:  a.Config,
			Logger:  a.Logger,
		},
		Schedule: &scheduler.Scheduler{
			Store:   a.Store,
			Tracker: a.Tracker,
			Runtime: a.Runtime,
			Roles:   a.Roles,
			Config:  a.Config,
			Logger:  a.Logger,
		},
		Mentions: &mentions.Router{
			Store:   a.Store,
			Tracker: a.Tracker,
			Roles:   a.Roles,
			Config:  a.Config,
			Logger:  a.Logger,
		},
		Review: &reviewer.Reviewer{
			Store:   a.Store,
			Tracker: a.Tracker,
			Runtime: a.Runtime,
			Roles:   a.Roles,
			Config:  a.Config,
			Logger:  a.Logger,
		},
		Store:   a.Store,
		Tracker: a.Tracker,
		Journal: &journal.Journal{Home: a.Home},
		Logger:  a.Logger,
	}
}
