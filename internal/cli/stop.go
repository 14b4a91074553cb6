package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdevsl/claudorc/internal/config"
	"github.com/agentdevsl/claudorc/internal/daemon"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the claudorc daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			stopped, err := daemon.Stop(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !stopped {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "claudorc not running")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "claudorc stopped")
			return nil
		},
	}
	return cmd
}
