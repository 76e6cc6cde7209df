package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/florianRadureau/dulien-orchestration/internal/config"
	"github.com/florianRadureau/dulien-orchestration/internal/daemon"
)

func newWatchCmd() *cobra.Command {
	var (
		port        int
		foreground  bool
		intervalSec int
		pprofAddr   string
		enableOtel  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the orchestrator continuously (one cycle per interval)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			interval := time.Duration(intervalSec) * time.Second
			if intervalSec <= 0 {
				if cfg, err := config.Load(home); err == nil {
					interval = cfg.CycleInterval()
				} else {
					interval = config.DefaultCycleInterval
				}
			}

			opts := daemon.StartOptions{
				Home:       home,
				Port:       port,
				Interval:   interval,
				PprofAddr:  pprofAddr,
				EnableOtel: enableOtel,
			}

			if foreground {
				a, err := newApp(cmd.Context(), false)
				if err != nil {
					return err
				}
				defer a.Close()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watching (interval %s, port %d)\n", interval, port)
				return daemon.StartForeground(cmd.Context(), opts, a.driver(), a.Store)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Dulien started (pid %d)\n", pid)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 3584, "Port for the daemon HTTP endpoints (healthz, state, metrics)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "Cycle interval in seconds (0 = config default)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")

	return cmd
}
