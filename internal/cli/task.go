package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and repair workflow tasks",
	}
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskResetCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks with status and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			db, err := openStore(home, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			doc, _, err := db.Load(cmd.Context())
			if err != nil {
				return err
			}

			epicIDs := make([]string, 0, len(doc.Epics))
			for id := range doc.Epics {
				epicIDs = append(epicIDs, id)
			}
			sort.Strings(epicIDs)

			out := cmd.OutOrStdout()
			for _, epicID := range epicIDs {
				epic := doc.Epics[epicID]
				_, _ = fmt.Fprintf(out, "%s:\n", epicID)
				for _, entry := range epic.Workflow {
					deps := "-"
					if len(entry.DependsOn) > 0 {
						deps = strings.Join(entry.DependsOn, ",")
					}
					_, _ = fmt.Fprintf(out, "  %-24s %-26s attempts=%d deps=%s\n",
						entry.TaskID, entry.EffectiveStatus(), entry.Attempts, deps)
				}
			}
			return nil
		},
	}
	return cmd
}

func newTaskResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <task_id>",
		Short: "Reset a failed task to pending and clear its attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			db, err := openStore(home, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			err = store.Update(cmd.Context(), db, func(doc *models.Document) error {
				entry := doc.FindEntry(taskID)
				if entry == nil {
					return fmt.Errorf("task %q not found", taskID)
				}
				if entry.EffectiveStatus() != models.StatusFailed {
					return fmt.Errorf("task %q is %s, only failed tasks can be reset", taskID, entry.EffectiveStatus())
				}
				entry.Status = models.StatusPending
				entry.Attempts = 0
				return nil
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s reset to pending\n", taskID)
			return nil
		},
	}
	return cmd
}
