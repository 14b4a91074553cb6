package client

import (
	"encoding/json"
	"fmt"

	"github.com/agentdevsl/claudorc/pkg/models"
)

// Typed payloads for the closed set of event types a session stream carries.
// Field names mirror the daemon's published JSON.

type ChunkPayload struct {
	AgentID string `json:"agent_id,omitempty"`
	Text    string `json:"text"`
}

type ToolStartPayload struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolResultPayload struct {
	Tool   string         `json:"tool"`
	Output map[string]any `json:"output,omitempty"`
}

type FileChangePayload struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

type TokensPayload struct {
	Delta int64 `json:"delta"`
}

type TerminalPayload struct {
	Line string `json:"line"`
}

type StateUpdatePayload struct {
	AgentID     string   `json:"agent_id"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	PlanOptions []string `json:"plan_options,omitempty"`
}

type AgentErrorPayload struct {
	AgentID  string `json:"agent_id"`
	Error    string `json:"error"`
	Recovery string `json:"recovery,omitempty"`
}

type TurnPayload struct {
	AgentID string `json:"agent_id"`
	Turn    int    `json:"turn"`
	Max     int    `json:"max"`
}

type ApprovalRejectedPayload struct {
	AgentID  string `json:"agent_id"`
	Feedback string `json:"feedback"`
}

// Handlers routes decoded events to per-type callbacks. A nil callback
// ignores that type. Payloads that fail decoding or validation are dropped
// and logged by the subscription; they never reach a callback and never end
// the subscription.
type Handlers struct {
	OnChunk            func(ev models.StreamEvent, p ChunkPayload)
	OnToolStart        func(ev models.StreamEvent, p ToolStartPayload)
	OnToolResult       func(ev models.StreamEvent, p ToolResultPayload)
	OnFileChange       func(ev models.StreamEvent, p FileChangePayload)
	OnTokens           func(ev models.StreamEvent, p TokensPayload)
	OnTerminalOutput   func(ev models.StreamEvent, p TerminalPayload)
	OnStateUpdate      func(ev models.StreamEvent, p StateUpdatePayload)
	OnAgentError       func(ev models.StreamEvent, p AgentErrorPayload)
	OnAgentWarning     func(ev models.StreamEvent, p TurnPayload)
	OnAgentTurnLimit   func(ev models.StreamEvent, p TurnPayload)
	OnApprovalRejected func(ev models.StreamEvent, p ApprovalRejectedPayload)

	// OnUnknown receives events whose type is outside the closed set.
	OnUnknown func(ev models.StreamEvent)
}

// route decodes and validates one event for its type, then calls the
// matching callback. It returns an error when the payload does not satisfy
// the type's schema.
func (h Handlers) route(ev models.StreamEvent) error {
	switch ev.Type {
	case models.EventChunk:
		var p ChunkPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if h.OnChunk != nil {
			h.OnChunk(ev, p)
		}
	case models.EventToolStart:
		var p ToolStartPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Tool == "" {
			return fmt.Errorf("tool:start without tool name")
		}
		if h.OnToolStart != nil {
			h.OnToolStart(ev, p)
		}
	case models.EventToolResult:
		var p ToolResultPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Tool == "" {
			return fmt.Errorf("tool:result without tool name")
		}
		if h.OnToolResult != nil {
			h.OnToolResult(ev, p)
		}
	case models.EventFileChange:
		var p FileChangePayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Path == "" {
			return fmt.Errorf("file:change without path")
		}
		if h.OnFileChange != nil {
			h.OnFileChange(ev, p)
		}
	case models.EventTokens:
		var p TokensPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Delta < 0 {
			return fmt.Errorf("tokens with negative delta %d", p.Delta)
		}
		if h.OnTokens != nil {
			h.OnTokens(ev, p)
		}
	case models.EventTerminalOutput:
		var p TerminalPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if h.OnTerminalOutput != nil {
			h.OnTerminalOutput(ev, p)
		}
	case models.EventStateUpdate:
		var p StateUpdatePayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Status == "" {
			return fmt.Errorf("state:update without status")
		}
		if h.OnStateUpdate != nil {
			h.OnStateUpdate(ev, p)
		}
	case models.EventAgentError:
		var p AgentErrorPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if p.Error == "" {
			return fmt.Errorf("agent:error without error message")
		}
		if h.OnAgentError != nil {
			h.OnAgentError(ev, p)
		}
	case models.EventAgentWarning:
		var p TurnPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if h.OnAgentWarning != nil {
			h.OnAgentWarning(ev, p)
		}
	case models.EventAgentTurnLimit:
		var p TurnPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if h.OnAgentTurnLimit != nil {
			h.OnAgentTurnLimit(ev, p)
		}
	case models.EventApprovalRejected:
		var p ApprovalRejectedPayload
		if err := decodePayload(ev.Data, &p); err != nil {
			return err
		}
		if h.OnApprovalRejected != nil {
			h.OnApprovalRejected(ev, p)
		}
	default:
		if h.OnUnknown != nil {
			h.OnUnknown(ev)
		}
	}
	return nil
}

func decodePayload(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, out)
}
