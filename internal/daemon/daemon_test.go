package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestStatusNoPidFile(t *testing.T) {
	home := t.TempDir()
	st, err := Status(context.Background(), home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatal("expected not running with no pid file")
	}
}

func TestStatusStalePidFileIsCleaned(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(protectedDir(home), 0o755); err != nil {
		t.Fatal(err)
	}
	// A pid that cannot exist.
	if err := os.WriteFile(pidPath(home), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Status(context.Background(), home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatal("expected not running for a dead pid")
	}
	if _, err := os.Stat(pidPath(home)); !os.IsNotExist(err) {
		t.Error("stale pid file was not removed")
	}
}

func TestStatusLivePid(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(protectedDir(home), 0o755); err != nil {
		t.Fatal(err)
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(addrPath(home), []byte("0.0.0.0:3580\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Status(context.Background(), home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Running || st.PID != pid || st.Addr != "0.0.0.0:3580" {
		t.Errorf("status: %+v", st)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	home := t.TempDir()
	stopped, err := Stop(context.Background(), home)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped {
		t.Fatal("Stop reported success with nothing running")
	}
}

func TestPathsLiveUnderProtected(t *testing.T) {
	home := "/tmp/claudorc-home"
	for _, p := range []string{pidPath(home), addrPath(home), logPath(home)} {
		if filepath.Dir(p) != protectedDir(home) {
			t.Errorf("%s not under %s", p, protectedDir(home))
		}
	}
}
