package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			// The executor shells out to the claude CLI.
			if _, err := exec.LookPath("claude"); err != nil {
				problems = append(problems, "missing dependency: claude (not found on PATH)")
			}
			// Agents push branches and open pull requests via git and gh.
			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}
			if _, err := exec.LookPath("gh"); err != nil {
				problems = append(problems, "missing dependency: gh (not found on PATH)")
			}
			if os.Getenv("GITHUB_TOKEN") == "" {
				problems = append(problems, "GITHUB_TOKEN is not set")
			}
			if _, err := config.Load(home); err != nil {
				problems = append(problems, err.Error())
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
