// Package worktree provisions isolated git worktrees for agent runs. Each
// task gets its own checkout on its own branch so concurrent agents never
// share a working directory.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/pkg/models"
)

// Provider creates and removes per-task working directories. Remove is the
// compensating action when provisioning later steps fail.
type Provider interface {
	Create(ctx context.Context, project store.Project, taskID string) (models.Worktree, error)
	Remove(ctx context.Context, w models.Worktree) error
}

// BranchName returns the branch for a task worktree: claudorc/<project>/<task8>.
// The task id is truncated to keep refs readable; ids are random hex so the
// 8-char prefix stays unique within one project's lifetime for all practical
// purposes.
func BranchName(projectName, taskID string) string {
	safe := strings.ReplaceAll(projectName, " ", "-")
	return fmt.Sprintf("claudorc/%s/%s", safe, shortID(taskID))
}

// Path returns the checkout location under home:
// <home>/protected/worktrees/<project>-<task8>.
func Path(home, projectName, taskID string) string {
	safe := strings.ReplaceAll(projectName, " ", "_")
	return filepath.Join(home, "protected", "worktrees", fmt.Sprintf("%s-%s", safe, shortID(taskID)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// GitProvider provisions worktrees with the git CLI: `git worktree add -b`
// against the project's repository path.
type GitProvider struct {
	Home string
}

// Create adds a worktree for the task. If the directory already exists the
// call is idempotent and returns the existing checkout.
func (g GitProvider) Create(ctx context.Context, project store.Project, taskID string) (models.Worktree, error) {
	if project.Path == "" {
		return models.Worktree{}, fmt.Errorf("project %s has no repository path", project.ProjectID)
	}
	branch := BranchName(project.Name, taskID)
	path := Path(g.Home, project.Name, taskID)
	w := models.Worktree{WorktreeID: store.NewID(), Path: path, Branch: branch}

	if _, err := os.Stat(path); err == nil {
		return w, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.Worktree{}, err
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = project.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return models.Worktree{}, fmt.Errorf("git worktree add: %w: %s", err, string(out))
	}
	return w, nil
}

// Remove deletes the worktree checkout and prunes git's registration of it.
// Removing a missing worktree is a no-op.
func (g GitProvider) Remove(ctx context.Context, w models.Worktree) error {
	if w.Path == "" {
		return nil
	}
	if _, err := os.Stat(w.Path); os.IsNotExist(err) {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", w.Path)
	cmd.Dir = filepath.Dir(w.Path)
	if out, err := cmd.CombinedOutput(); err != nil {
		// The checkout may not be a registered worktree (crash mid-add);
		// fall back to removing the directory.
		if rmErr := os.RemoveAll(w.Path); rmErr != nil {
			return fmt.Errorf("git worktree remove: %w: %s", err, string(out))
		}
	}
	return nil
}
