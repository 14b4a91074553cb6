package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentdevsl/claudorc/internal/turns"
)

func TestStubRunner_ScriptCompletes(t *testing.T) {
	t.Parallel()

	var chunks, toolStarts, toolResults, fileChanges int
	var tokens int64
	r := StubRunner{
		Steps: []StubStep{
			{Tool: "read_file", Chunk: "looking at the code", Tokens: 100},
			{Tool: "edit_file", File: "main.go", Tokens: 250},
		},
	}
	res := r.Run(context.Background(), Request{
		AgentID: "a1",
		Limiter: turns.NewLimiter(10, 0.8, nil, nil),
		Hooks: Hooks{
			OnChunk:      func(string) { chunks++ },
			OnToolStart:  func(string, map[string]any) { toolStarts++ },
			OnToolResult: func(string, map[string]any) { toolResults++ },
			OnFileChange: func(string, string) { fileChanges++ },
			OnTokens:     func(d int64) { tokens += d },
		},
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status: %q", res.Status)
	}
	if res.TurnCount != 2 || res.TokensUsed != 350 {
		t.Fatalf("counters: %+v", res)
	}
	if chunks != 1 || toolStarts != 2 || toolResults != 2 || fileChanges != 1 || tokens != 350 {
		t.Fatalf("hooks: chunks=%d starts=%d results=%d files=%d tokens=%d",
			chunks, toolStarts, toolResults, fileChanges, tokens)
	}
}

func TestStubRunner_TurnCeilingStopsRun(t *testing.T) {
	t.Parallel()

	steps := make([]StubStep, 5)
	r := StubRunner{Steps: steps}
	res := r.Run(context.Background(), Request{
		Limiter: turns.NewLimiter(3, 0.8, nil, nil),
	})
	if res.Status != StatusTurnLimit {
		t.Fatalf("status: %q, want turn_limit", res.Status)
	}
	if res.TurnCount != 3 {
		t.Fatalf("turn count: %d, want 3", res.TurnCount)
	}
}

func TestStubRunner_FinalStatusPassthrough(t *testing.T) {
	t.Parallel()

	r := StubRunner{
		Steps: []StubStep{{Chunk: "thinking"}},
		Final: Result{Status: StatusPlanning, Plan: "step 1: refactor", PlanOptions: []string{"fast", "thorough"}},
	}
	res := r.Run(context.Background(), Request{})
	if res.Status != StatusPlanning || res.Plan != "step 1: refactor" || len(res.PlanOptions) != 2 {
		t.Fatalf("planning result: %+v", res)
	}
}

func TestStubRunner_CancelPauses(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := StubRunner{Steps: []StubStep{{}, {}}, StepDelay: time.Second}
	res := r.Run(ctx, Request{})
	if res.Status != StatusPaused {
		t.Fatalf("status after cancel: %q", res.Status)
	}
}

func TestSubprocessRunner_EmptyCommand(t *testing.T) {
	t.Parallel()
	res := SubprocessRunner{}.Run(context.Background(), Request{})
	if res.Status != StatusError || res.Err == nil {
		t.Fatalf("empty command: %+v", res)
	}
}

func TestSubprocessRunner_ScriptedRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	content := `#!/bin/sh
read line
echo '{"type":"chunk","data":{"text":"hello"}}'
echo '{"type":"tool:start","data":{"tool":"read_file"}}'
echo '{"type":"tokens","data":{"delta":42}}'
echo '{"type":"turn"}'
echo '{"type":"result","data":{"status":"completed"}}'
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	var chunk, tool string
	var tokens int64
	r := SubprocessRunner{Command: script, Timeout: 5 * time.Second}
	res := r.Run(context.Background(), Request{
		AgentID: "a1",
		Limiter: turns.NewLimiter(10, 0.8, nil, nil),
		Hooks: Hooks{
			OnChunk:     func(s string) { chunk = s },
			OnToolStart: func(name string, _ map[string]any) { tool = name },
			OnTokens:    func(d int64) { tokens += d },
		},
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status: %q (err %v)", res.Status, res.Err)
	}
	if res.TurnCount != 1 || res.TokensUsed != 42 {
		t.Fatalf("counters: %+v", res)
	}
	if chunk != "hello" || tool != "read_file" || tokens != 42 {
		t.Fatalf("hooks: chunk=%q tool=%q tokens=%d", chunk, tool, tokens)
	}
}

func TestSubprocessRunner_NoResultLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nread line\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	res := SubprocessRunner{Command: script, Timeout: 5 * time.Second}.Run(context.Background(), Request{})
	if res.Status != StatusError || res.Err == nil {
		t.Fatalf("missing result line should fail: %+v", res)
	}
}

func TestSubprocessRunner_PlanResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	content := `#!/bin/sh
read line
echo '{"type":"result","data":{"status":"planning","plan":"do the thing","plan_options":["a","b"]}}'
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	res := SubprocessRunner{Command: script, Timeout: 5 * time.Second}.Run(context.Background(), Request{})
	if res.Status != StatusPlanning || res.Plan != "do the thing" || len(res.PlanOptions) != 2 {
		t.Fatalf("plan result: %+v", res)
	}
}
