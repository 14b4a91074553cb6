// Package models provides shared types for the claudorc HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import (
	"encoding/json"
	"time"
)

// Project is a repository the orchestrator runs agents against.
type Project struct {
	ProjectID           string    `json:"project_id"`
	Name                string    `json:"name"`
	Path                string    `json:"path"`
	MaxConcurrentAgents int       `json:"max_concurrent_agents,omitempty"`
	DefaultModel        string    `json:"default_model,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
}

// Agent is a named worker bound to one project. Status follows the run
// lifecycle (idle, starting, planning, running, paused, completed, error).
type Agent struct {
	AgentID     string    `json:"agent_id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TaskID      *string   `json:"task_id,omitempty"`
	SessionID   *string   `json:"session_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	MaxTurns    int       `json:"max_turns,omitempty"`
	CurrentTurn int       `json:"current_turn,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Task is a unit of work. Column is the board position (backlog,
// in_progress, waiting_approval, verified, cancelled), independent of
// agent status.
type Task struct {
	TaskID       string    `json:"task_id"`
	ProjectID    string    `json:"project_id"`
	Title        string    `json:"title"`
	Prompt       string    `json:"prompt,omitempty"`
	Column       string    `json:"column"`
	AgentID      *string   `json:"agent_id,omitempty"`
	SessionID    *string   `json:"session_id,omitempty"`
	WorktreePath *string   `json:"worktree_path,omitempty"`
	BranchName   *string   `json:"branch_name,omitempty"`
	Plan         *string   `json:"plan,omitempty"`
	Model        *string   `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// AgentRun is the immutable-once-closed audit record of one execution attempt.
type AgentRun struct {
	RunID       string     `json:"run_id"`
	AgentID     string     `json:"agent_id"`
	TaskID      string     `json:"task_id"`
	ProjectID   string     `json:"project_id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	TurnsUsed   int        `json:"turns_used"`
	TokensUsed  int        `json:"tokens_used"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Session is the addressable channel through which an agent's run is observed.
type Session struct {
	SessionID string     `json:"session_id"`
	ProjectID string     `json:"project_id"`
	TaskID    string     `json:"task_id"`
	AgentID   string     `json:"agent_id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	URL       string     `json:"url,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Worktree is an isolated, branch-scoped copy of the repository assigned to
// a running task. The orchestrator only carries the reference.
type Worktree struct {
	WorktreeID string `json:"worktree_id"`
	Path       string `json:"path"`
	Branch     string `json:"branch"`
}

// StartResult is the response of POST /agents/{id}/start: the provisioned
// resources, returned before the run itself completes.
type StartResult struct {
	Agent    Agent    `json:"agent"`
	Task     Task     `json:"task"`
	Session  Session  `json:"session"`
	Worktree Worktree `json:"worktree"`
}

// StreamEvent is the wire envelope for one durable stream event.
type StreamEvent struct {
	Offset    int64           `json:"offset"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StreamMetadata is the /streams/{id} response (event count + creation time).
type StreamMetadata struct {
	StreamID   string    `json:"stream_id"`
	EventCount int64     `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
}
