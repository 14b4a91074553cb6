package runner

import (
	"context"
	"time"
)

// StubStep is one scripted turn for the stub runner.
type StubStep struct {
	Tool   string
	Chunk  string
	Tokens int64
	File   string
}

// StubRunner is a deterministic local runner that walks a scripted set of
// turns, emitting plausible hook events without calling any external model
// or spawning subprocesses. Used by tests and by the stub runtime mode.
type StubRunner struct {
	Steps []StubStep
	// Final is returned after the script completes (or after the turn
	// ceiling stops the loop, in which case Status is overridden).
	Final Result
	// StepDelay inserts a pause per turn so cancellation paths can be
	// exercised; zero means no delay.
	StepDelay time.Duration
}

func (StubRunner) Name() string { return "stub" }

func (r StubRunner) Run(ctx context.Context, req Request) Result {
	var tokens int64
	turnCount := 0
	for _, step := range r.Steps {
		if ctx.Err() != nil {
			return Result{Status: StatusPaused, TurnCount: turnCount, TokensUsed: tokens}
		}
		if r.StepDelay > 0 {
			sleep(ctx, r.StepDelay)
		}

		if step.Tool != "" && req.Hooks.OnToolStart != nil {
			req.Hooks.OnToolStart(step.Tool, map[string]any{"agent": req.AgentID})
		}
		if step.Chunk != "" && req.Hooks.OnChunk != nil {
			req.Hooks.OnChunk(step.Chunk)
		}
		if step.File != "" && req.Hooks.OnFileChange != nil {
			req.Hooks.OnFileChange(step.File, "modify")
		}
		if step.Tool != "" && req.Hooks.OnToolResult != nil {
			req.Hooks.OnToolResult(step.Tool, map[string]any{"ok": true})
		}
		if step.Tokens > 0 {
			tokens += step.Tokens
			if req.Hooks.OnTokens != nil {
				req.Hooks.OnTokens(step.Tokens)
			}
		}

		turnCount++
		if req.Limiter != nil {
			if res := req.Limiter.Increment(); !res.CanContinue {
				return Result{Status: StatusTurnLimit, TurnCount: turnCount, TokensUsed: tokens}
			}
		}
	}

	out := r.Final
	if out.Status == "" {
		out.Status = StatusCompleted
	}
	out.TurnCount = turnCount
	out.TokensUsed = tokens
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
