package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "dulien",
		Short:        "Dulien — GitHub epic orchestration with Claude agents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override Dulien home directory (default: ~/.dulien, env: DULIEN_HOME)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newCycleCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newMentionsCmd())
	cmd.AddCommand(newReviewCmd())

	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newJournalCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
