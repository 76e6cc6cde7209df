package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/cycle"
)

func newCycleCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one full orchestration cycle (ingest, schedule, mentions, review, completion)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.driver().Run(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cycle complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory tracker and a stub executor (no GitHub, no claude CLI)")
	return cmd
}

// newStageCmd builds a command that runs a single pipeline stage in
// isolation, for debugging and operator intervention.
func newStageCmd(use, short string, pick func(d *cycle.Driver) cycle.Step) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := runStage(cmd.Context(), pick(a.driver())); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s complete\n", use)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory tracker and a stub executor")
	return cmd
}

func runStage(ctx context.Context, step cycle.Step) error {
	if step == nil {
		return fmt.Errorf("stage not wired")
	}
	return step.Run(ctx)
}

func newIngestCmd() *cobra.Command {
	return newStageCmd("ingest", "Analyze new epics and materialize their tasks",
		func(d *cycle.Driver) cycle.Step { return d.Ingest })
}

func newScheduleCmd() *cobra.Command {
	return newStageCmd("schedule", "Dispatch ready tasks to their agents",
		func(d *cycle.Driver) cycle.Step { return d.Schedule })
}

func newMentionsCmd() *cobra.Command {
	return newStageCmd("mentions", "Route role mentions from pull request comments",
		func(d *cycle.Driver) cycle.Step { return d.Mentions })
}

func newReviewCmd() *cobra.Command {
	return newStageCmd("review", "Request reviews and reconcile review quorums",
		func(d *cycle.Driver) cycle.Step { return d.Review })
}
