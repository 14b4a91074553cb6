// Package store defines the persistence interface and shared models for
// projects, agents, tasks, agent runs, and sessions.
package store

import "time"

// Project is a repository the orchestrator runs agents against.
type Project struct {
	ProjectID           string
	Name                string
	Path                string
	MaxConcurrentAgents int    // 0 = use the process default
	DefaultModel        string // "" = use the process default
	CreatedAt           time.Time
}

// Agent is a named worker bound to one project. Mutated exclusively by the
// orchestrator; owned by its project (cascade-deleted with it).
type Agent struct {
	AgentID     string
	ProjectID   string
	Name        string
	Status      string
	TaskID      *string
	SessionID   *string
	Model       string // per-agent model override; "" = inherit
	MaxTurns    int    // 0 = use the process default
	CurrentTurn int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is a unit of work. Column is independent of agent status; a task owns
// at most one active agent/session/worktree at a time.
type Task struct {
	TaskID       string
	ProjectID    string
	Title        string
	Prompt       string
	Column       string
	AgentID      *string
	SessionID    *string
	WorktreePath *string
	BranchName   *string
	Plan         *string
	Model        *string // task-level model override
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AgentRun is the audit record of one execution attempt. Created when the
// attempt begins, closed exactly once, never mutated afterward. This is the
// ledger the orchestrator reconciles against after a restart.
type AgentRun struct {
	RunID       string
	AgentID     string
	TaskID      string
	ProjectID   string
	SessionID   string
	Status      string
	Error       *string
	TurnsUsed   int
	TokensUsed  int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Session is the addressable channel through which an agent's run is
// observed. Its status is independent of agent and task.
type Session struct {
	SessionID string
	ProjectID string
	TaskID    string
	AgentID   string
	Title     string
	Status    string
	CreatedAt time.Time
	ClosedAt  *time.Time
}
