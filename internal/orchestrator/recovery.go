package orchestrator

import "context"

// Action is the recovery decision for an execution failure.
type Action string

const (
	// ActionPause leaves the agent paused so an operator can inspect and
	// resume or stop it.
	ActionPause Action = "pause"
	// ActionFatal marks the agent errored; it stays that way until an
	// operator intervenes.
	ActionFatal Action = "fatal"
)

// RecoveryContext carries the run state available to a recovery decision.
type RecoveryContext struct {
	AgentID     string
	TaskID      string
	MaxTurns    int
	CurrentTurn int
}

// Policy decides what happens to an agent after an execution failure that
// the runner did not report as an ordinary error result.
type Policy interface {
	Handle(ctx context.Context, err error, rc RecoveryContext) Action
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, err error, rc RecoveryContext) Action

func (f PolicyFunc) Handle(ctx context.Context, err error, rc RecoveryContext) Action {
	return f(ctx, err, rc)
}

// PauseOnFailure is the default policy: every failure pauses the agent so
// its worktree and session survive for inspection.
func PauseOnFailure() Policy {
	return PolicyFunc(func(ctx context.Context, err error, rc RecoveryContext) Action {
		return ActionPause
	})
}
