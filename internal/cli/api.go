package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agentdevsl/claudorc/internal/config"
	"github.com/agentdevsl/claudorc/internal/daemon"
	"github.com/agentdevsl/claudorc/pkg/client"
)

// apiClient resolves the running daemon's address and returns an API client
// for it. Commands that need the daemon fail fast when it is not running.
func apiClient(ctx context.Context) (*client.Client, error) {
	home := config.MustHomeFrom(ctx)
	st, err := daemon.Status(ctx, home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("claudorc is not running; start it with `claudorc serve`")
	}
	return client.New("http://"+displayAddr(st.Addr), os.Getenv("CLAUDORC_API_KEY")), nil
}

// displayAddr rewrites a wildcard bind address into one a client can dial.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "localhost:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
