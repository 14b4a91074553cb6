package orchestrator

import (
	"context"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/pkg/models"
)

// Admission gates run starts on the project's concurrency ceiling. It is a
// pure read over the store: the count is re-derived at every check, never
// cached, so the gate reflects whatever the database holds at call time.
type Admission struct {
	store      store.Store
	defaultMax int
}

// NewAdmission builds the admission gate. defaultMax applies when a
// project does not set its own ceiling; <= 0 falls back to the process
// default.
func NewAdmission(st store.Store, defaultMax int) *Admission {
	if defaultMax <= 0 {
		defaultMax = models.DefaultMaxConcurrentAgents
	}
	return &Admission{store: st, defaultMax: defaultMax}
}

// RunningCount returns the number of agents in the project currently in a
// non-idle execution state (starting, planning, running).
func (a *Admission) RunningCount(ctx context.Context, projectID string) (int, error) {
	return a.store.CountRunningAgents(ctx, projectID)
}

// Check reports whether the project can admit one more run, along with the
// observed count and effective ceiling.
func (a *Admission) Check(ctx context.Context, project store.Project) (ok bool, running, max int, err error) {
	max = project.MaxConcurrentAgents
	if max <= 0 {
		max = a.defaultMax
	}
	running, err = a.store.CountRunningAgents(ctx, project.ProjectID)
	if err != nil {
		return false, 0, max, err
	}
	return running < max, running, max, nil
}
