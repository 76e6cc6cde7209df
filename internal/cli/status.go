package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and a workflow summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if st.Running {
				_, _ = fmt.Fprintf(out, "Dulien running (pid %d, addr %s)\n", st.PID, st.Addr)
			} else {
				_, _ = fmt.Fprintln(out, "Dulien not running")
			}

			cfg, err := config.Load(home)
			if err != nil {
				// No config yet; daemon state is all there is to report.
				return nil
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

			counts := make(map[string]int)
			tasks := 0
			for _, epic := range doc.Epics {
				for _, entry := range epic.Workflow {
					counts[entry.EffectiveStatus()]++
					tasks++
				}
			}
			_, _ = fmt.Fprintf(out, "Epics: %d, tasks: %d\n", len(doc.Epics), tasks)

			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				_, _ = fmt.Fprintf(out, "  %-26s %d\n", s, counts[s])
			}
			return nil
		},
	}
	return cmd
}
