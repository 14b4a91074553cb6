package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdevsl/claudorc/internal/config"
	"github.com/agentdevsl/claudorc/pkg/client"
	"github.com/agentdevsl/claudorc/pkg/models"
)

func newTailCmd() *cobra.Command {
	var (
		from    int64
		rawJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tail <stream-id>",
		Short: "Follow a session's event stream (replays from --from, then live)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			settings, err := config.Load(config.MustHomeFrom(cmd.Context()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			sub, err := c.Subscribe(cmd.Context(), args[0], client.SubscribeOptions{
				From:         from,
				InitialDelay: settings.ReconnectInitialDelay(),
				MaxDelay:     settings.ReconnectMaxDelay(),
				Multiplier:   settings.Reconnect.Multiplier,

				OnEvent: func(ev models.StreamEvent) {
					if rawJSON {
						b, err := json.Marshal(ev)
						if err != nil {
							return
						}
						_, _ = fmt.Fprintln(out, string(b))
						return
					}
					_, _ = fmt.Fprintln(out, formatEvent(ev))
				},
				OnReconnect: func(from int64) {
					_, _ = fmt.Fprintf(errOut, "-- reconnected, resuming from offset %d --\n", from)
				},
				OnDisconnect: func(err error) {
					if err != nil {
						_, _ = fmt.Fprintf(errOut, "-- connection lost: %v --\n", err)
					}
				},
			})
			if err != nil {
				return err
			}

			select {
			case <-cmd.Context().Done():
				sub.Unsubscribe()
				return nil
			case <-sub.Done():
				return nil
			}
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "First offset to replay")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "Print raw event JSON, one object per line")
	return cmd
}

func formatEvent(ev models.StreamEvent) string {
	ts := ev.Timestamp.Local().Format(time.TimeOnly)
	line := fmt.Sprintf("%6d  %s  %-16s", ev.Offset, ts, ev.Type)
	if len(ev.Data) > 0 {
		line += "  " + string(ev.Data)
	}
	return line
}
