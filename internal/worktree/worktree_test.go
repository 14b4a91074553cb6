package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/pkg/models"
)

func TestBranchName(t *testing.T) {
	t.Parallel()
	got := BranchName("my project", "abcdef0123456789")
	if got != "claudorc/my-project/abcdef01" {
		t.Errorf("BranchName: %q", got)
	}
	if short := BranchName("p", "abc"); short != "claudorc/p/abc" {
		t.Errorf("BranchName short id: %q", short)
	}
}

func TestPath(t *testing.T) {
	t.Parallel()
	got := Path("/home/u/.claudorc", "my project", "abcdef0123456789")
	want := filepath.Join("/home/u/.claudorc", "protected", "worktrees", "my_project-abcdef01")
	if got != want {
		t.Errorf("Path: %q, want %q", got, want)
	}
	if strings.Contains(got, " ") {
		t.Errorf("Path contains spaces: %q", got)
	}
}

func TestGitProvider_CreateRequiresRepoPath(t *testing.T) {
	t.Parallel()
	g := GitProvider{Home: t.TempDir()}
	if _, err := g.Create(context.Background(), store.Project{ProjectID: "p1"}, "t1"); err == nil {
		t.Fatal("expected error for project without path")
	}
}

func TestGitProvider_CreateIdempotent(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	g := GitProvider{Home: home}
	p := store.Project{ProjectID: "p1", Name: "proj", Path: "/tmp/does-not-matter"}

	// Pre-create the checkout dir; Create must return it without touching git.
	path := Path(home, p.Name, "task0001")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := g.Create(context.Background(), p, "task0001")
	if err != nil {
		t.Fatalf("Create existing: %v", err)
	}
	if w.Path != path || w.Branch != BranchName(p.Name, "task0001") || w.WorktreeID == "" {
		t.Fatalf("worktree: %+v", w)
	}
}

func TestGitProvider_RemoveMissingIsNoop(t *testing.T) {
	t.Parallel()
	g := GitProvider{Home: t.TempDir()}
	missing := models.Worktree{WorktreeID: "w1", Path: filepath.Join(t.TempDir(), "gone"), Branch: "b"}
	if err := g.Remove(context.Background(), missing); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if err := g.Remove(context.Background(), models.Worktree{}); err != nil {
		t.Fatalf("Remove empty: %v", err)
	}
}
