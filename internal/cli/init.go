package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Dulien home (config scaffold + state store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			if _, err := os.Stat(config.Path(home)); err == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.Path(home))
			} else {
				if err := config.Save(home, config.Default()); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote config scaffold to %s (edit org and repos before running)\n", config.Path(home))
			}

			if err := store.EnsureSchema(home); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "State store ready under %s\n", home)
			return nil
		},
	}
	return cmd
}
