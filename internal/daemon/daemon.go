// Package daemon assembles and runs the claudorc process: store, stream
// store, orchestrator, and HTTP API over one listener, with pid/addr files
// for status and stop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentdevsl/claudorc/internal/config"
	"github.com/agentdevsl/claudorc/internal/httpapi"
	"github.com/agentdevsl/claudorc/internal/orchestrator"
	"github.com/agentdevsl/claudorc/internal/otel"
	"github.com/agentdevsl/claudorc/internal/runner"
	"github.com/agentdevsl/claudorc/internal/session"
	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/internal/store/postgres"
	"github.com/agentdevsl/claudorc/internal/store/sqlite"
	"github.com/agentdevsl/claudorc/internal/stream"
	"github.com/agentdevsl/claudorc/internal/worktree"
)

// Options configures a daemon start. Zero values fall back to the loaded
// settings file and its defaults.
type Options struct {
	Home       string
	Port       int
	EnableOtel bool
}

// StatusInfo reports whether a daemon is running for a home directory.
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}

// StartForeground runs the daemon until ctx is cancelled or the listener
// fails. It reconciles interrupted runs before serving.
func StartForeground(ctx context.Context, opts Options) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	settings, err := config.Load(opts.Home)
	if err != nil {
		return err
	}
	if opts.Port != 0 {
		settings.Port = opts.Port
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", settings.Port)
	if err := checkPortAvailable(settings.Port); err != nil {
		return err
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	var st store.Store
	if settings.DB.Driver == "postgres" {
		st, err = postgres.Open(settings.DB.URL)
	} else {
		st, err = sqlite.Open(opts.Home)
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	srvOpts := httpapi.ServerOptions{
		Addr:   addr,
		APIKey: os.Getenv("CLAUDORC_API_KEY"),
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "claudorc")
		if err != nil {
			slog.Warn("otel init failed, metrics disabled", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
			_ = otel.InitMetrics(ctx)
		}
	}

	streams := stream.NewStore()
	sessions := session.NewService(st, streams)
	orch := orchestrator.New(st, sessions, worktree.GitProvider{Home: opts.Home}, buildRunner(settings), nil, orchestrator.Config{
		DefaultModel:     settings.DefaultModel,
		FallbackModel:    config.FallbackModel(),
		MaxTurns:         settings.MaxTurns,
		WarningThreshold: settings.WarningThreshold,
		MaxConcurrent:    settings.MaxConcurrentAgents,
		AllowedTools:     settings.AllowedTools,
	})

	// Close out runs a previous process left open before accepting starts.
	if err := orch.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile interrupted runs: %w", err)
	}

	app := httpapi.NewApp(srvOpts, st, streams, orch)
	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "runtime", settings.Runtime.Kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		orch.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func buildRunner(settings config.Settings) runner.Runner {
	if settings.Runtime.Kind == "subprocess" && settings.Runtime.Cmd != "" {
		return runner.SubprocessRunner{
			Command: settings.Runtime.Cmd,
			Args:    settings.Runtime.Args,
		}
	}
	return runner.StubRunner{
		Steps: []runner.StubStep{
			{Tool: "think", Chunk: "stub runtime simulated a turn", Tokens: 25},
		},
	}
}

// StartBackground re-execs the current binary as a detached foreground
// daemon and waits briefly for its pid file.
func StartBackground(ctx context.Context, opts Options) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("claudorc already running (pid %d)", st.PID)
	}

	stderr, err := os.OpenFile(logPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for the child's lifetime.

	args := []string{"serve", "--foreground", "--home", opts.Home}
	if opts.Port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

// Stop signals the running daemon with SIGTERM and waits for it to exit,
// escalating to SIGKILL after a grace period. Returns false if nothing was
// running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return false, err
	}
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and probes the process.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{}, nil
	}
	// kill(pid, 0) checks existence/permission on unix.
	if err := syscall.Kill(pid, 0); err != nil {
		_ = os.Remove(pidPath(home))
		return StatusInfo{}, nil
	}
	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
