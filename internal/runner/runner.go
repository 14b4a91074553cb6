// Package runner defines the execution runner contract: the component that
// drives one agent execution attempt (a bounded tool-use loop) and reports
// how it ended. The orchestrator invokes a Runner exactly once per start.
package runner

import (
	"context"

	"github.com/agentdevsl/claudorc/internal/turns"
)

// Run outcome statuses. The orchestrator maps each onto agent, task and
// run transitions; anything else is treated as an internal error.
const (
	StatusPlanning  = "planning"
	StatusCompleted = "completed"
	StatusTurnLimit = "turn_limit"
	StatusPaused    = "paused"
	StatusError     = "error"
)

// Hooks carries the step-event callbacks a run emits while executing.
// Each hook is optional; the orchestrator wires them onto the session's
// event stream. Hooks must not block for long: they run on the runner's
// goroutine.
type Hooks struct {
	OnChunk          func(text string)
	OnToolStart      func(tool string, input map[string]any)
	OnToolResult     func(tool string, output map[string]any)
	OnFileChange     func(path, op string)
	OnTokens         func(delta int64)
	OnTerminalOutput func(line string)
}

// Request describes one execution attempt.
type Request struct {
	AgentID      string
	SessionID    string
	Prompt       string
	Model        string
	Dir          string
	AllowedTools []string
	MaxTurns     int
	Limiter      *turns.Limiter
	Hooks        Hooks
}

// Result is the terminal report of one execution attempt. Status is one of
// the Status* constants; Plan and PlanOptions are set when the run ended in
// planning; Err carries the failure for StatusError.
type Result struct {
	Status      string
	TurnCount   int
	TokensUsed  int64
	Plan        string
	PlanOptions []string
	Err         error
}

// Runner executes one agent attempt. Implementations observe ctx for
// cooperative abort and consume the request's Limiter once per turn.
type Runner interface {
	Name() string
	Run(ctx context.Context, req Request) Result
}
