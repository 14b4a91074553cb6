package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// wireRequest is what the agent binary reads on stdin. Hooks and the
// limiter stay on this side of the pipe.
type wireRequest struct {
	AgentID      string   `json:"agent_id"`
	SessionID    string   `json:"session_id"`
	Prompt       string   `json:"prompt"`
	Model        string   `json:"model"`
	Dir          string   `json:"dir"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	MaxTurns     int      `json:"max_turns"`
}

// wireEvent is one NDJSON line on the agent binary's stdout. "turn" marks
// the end of one tool-use iteration; "result" is the final line.
type wireEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// SubprocessRunner runs a local agent binary: stdin = JSON request,
// stdout = NDJSON events per line. The binary reports turn boundaries with
// "turn" lines and finishes with a "result" line carrying the final status.
type SubprocessRunner struct {
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration // 0 = use context only
}

func (SubprocessRunner) Name() string { return "subprocess" }

func (r SubprocessRunner) Run(ctx context.Context, req Request) Result {
	if r.Command == "" {
		return Result{Status: StatusError, Err: errors.New("subprocess command is required")}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		"CLAUDORC_MODEL="+req.Model,
		"CLAUDORC_ALLOWED_TOOLS="+strings.Join(req.AllowedTools, ","),
	)

	reqJSON, err := json.Marshal(wireRequest{
		AgentID:      req.AgentID,
		SessionID:    req.SessionID,
		Prompt:       req.Prompt,
		Model:        req.Model,
		Dir:          req.Dir,
		AllowedTools: req.AllowedTools,
		MaxTurns:     req.MaxTurns,
	})
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusError, Err: err}
	}
	defer func() {
		if ctx.Err() != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("agent subprocess exited with error", "agent", req.AgentID, "err", err)
		}
	}()

	out := Result{Status: StatusError, Err: errors.New("agent subprocess ended without a result line")}
	var tokens int64
	turnCount := 0
	limited := false

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			if req.Hooks.OnTerminalOutput != nil {
				req.Hooks.OnTerminalOutput(line)
			}
			continue
		}

		switch ev.Type {
		case "chunk":
			if req.Hooks.OnChunk != nil {
				req.Hooks.OnChunk(stringField(ev.Data, "text"))
			}
		case "tool:start":
			if req.Hooks.OnToolStart != nil {
				req.Hooks.OnToolStart(stringField(ev.Data, "tool"), ev.Data)
			}
		case "tool:result":
			if req.Hooks.OnToolResult != nil {
				req.Hooks.OnToolResult(stringField(ev.Data, "tool"), ev.Data)
			}
		case "file:change":
			if req.Hooks.OnFileChange != nil {
				req.Hooks.OnFileChange(stringField(ev.Data, "path"), stringField(ev.Data, "op"))
			}
		case "tokens":
			delta := int64Field(ev.Data, "delta")
			tokens += delta
			if req.Hooks.OnTokens != nil {
				req.Hooks.OnTokens(delta)
			}
		case "terminal:output":
			if req.Hooks.OnTerminalOutput != nil {
				req.Hooks.OnTerminalOutput(stringField(ev.Data, "line"))
			}
		case "turn":
			turnCount++
			if req.Limiter != nil && !limited {
				if res := req.Limiter.Increment(); !res.CanContinue {
					// The binary is told to stop via kill on ctx, but a
					// cooperative binary watches max_turns itself; either
					// way the attempt is over.
					limited = true
				}
			}
		case "result":
			out = Result{
				Status:      stringField(ev.Data, "status"),
				Plan:        stringField(ev.Data, "plan"),
				PlanOptions: stringSliceField(ev.Data, "plan_options"),
			}
			if msg := stringField(ev.Data, "error"); msg != "" {
				out.Err = errors.New(msg)
			}
		default:
			slog.Debug("agent subprocess emitted unknown event", "type", ev.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{Status: StatusError, TurnCount: turnCount, TokensUsed: tokens, Err: err}
	}
	if ctx.Err() != nil && out.Status == StatusError && out.Err != nil {
		out = Result{Status: StatusPaused}
	}
	if limited {
		out.Status = StatusTurnLimit
		out.Err = nil
	}
	out.TurnCount = turnCount
	out.TokensUsed = tokens
	return out
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func int64Field(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func stringSliceField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
