package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/journal"
)

func newJournalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent cycle step outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			j := &journal.Journal{Home: home}

			entries, err := j.Tail(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Journal is empty")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s cycle=%d %-10s %-5s %.2fs",
					e.Time.Format("2006-01-02 15:04:05"), e.Cycle, e.Step, e.Outcome, e.Elapsed)
				if e.Detail != "" {
					line += " " + e.Detail
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show (0 = all)")
	return cmd
}
