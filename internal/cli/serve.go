package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdevsl/claudorc/internal/config"
	"github.com/agentdevsl/claudorc/internal/daemon"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		foreground bool
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the claudorc daemon (HTTP API + orchestrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			opts := daemon.Options{
				Home:       home,
				Port:       port,
				EnableOtel: enableOtel,
			}

			if foreground {
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "claudorc started (pid %d)\n", pid)
			if st, err := daemon.Status(cmd.Context(), home); err == nil && st.Running {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: http://%s\n", displayAddr(st.Addr))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port for the HTTP API (default from config, 3580)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")

	return cmd
}
