package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for projects, agents, tasks, agent
// runs, and sessions. Implementations: *sqlite.Store and *postgres.Store.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, name, path string, maxConcurrentAgents int, defaultModel string) (Project, error)
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	DeleteProject(ctx context.Context, projectID string) error

	// Agents
	CreateAgent(ctx context.Context, projectID, name, model string, maxTurns int) (Agent, error)
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID, status string) error
	// SetAgentAssignment updates status and task/session references in one
	// statement; nil pointers clear the references.
	SetAgentAssignment(ctx context.Context, agentID, status string, taskID, sessionID *string) error
	SetAgentTurns(ctx context.Context, agentID string, currentTurn int) error
	// CountRunningAgents counts agents in starting/planning/running for a
	// project. Re-derived fresh at admission-check time, never cached.
	CountRunningAgents(ctx context.Context, projectID string) (int, error)

	// Tasks
	CreateTask(ctx context.Context, projectID, title, prompt string, model *string) (Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, projectID, column string, limit int) ([]Task, error)
	// NewestBacklogTask returns the most recently created backlog task for
	// the project, or nil if none exists.
	NewestBacklogTask(ctx context.Context, projectID string) (*Task, error)
	// ClaimTask moves a task backlog→in_progress and records the agent in a
	// single conditional update. Returns false if the task was not in
	// backlog (closes the availability-check/reservation race).
	ClaimTask(ctx context.Context, taskID, agentID string) (bool, error)
	MoveTask(ctx context.Context, taskID, column string) error
	SetTaskSession(ctx context.Context, taskID string, sessionID *string) error
	SetTaskWorktree(ctx context.Context, taskID string, worktreePath, branchName *string) error
	SetTaskPlan(ctx context.Context, taskID, plan string) error
	// RequeueTask returns a task to backlog and clears its assignment;
	// used as the compensating action when provisioning fails mid-start.
	RequeueTask(ctx context.Context, taskID string) error
	ClearTaskAssignment(ctx context.Context, taskID string) error

	// Agent runs
	CreateAgentRun(ctx context.Context, run AgentRun) (AgentRun, error)
	// CloseAgentRun sets the terminal status, completion time, counters and
	// optional error message. Closing an already-closed run is an error.
	CloseAgentRun(ctx context.Context, runID, status string, errMsg *string, turnsUsed, tokensUsed int) error
	GetAgentRun(ctx context.Context, runID string) (AgentRun, error)
	ListAgentRuns(ctx context.Context, agentID string, limit int) ([]AgentRun, error)
	// OpenAgentRuns returns runs with no completion time, for startup
	// reconciliation after a crash or restart.
	OpenAgentRuns(ctx context.Context) ([]AgentRun, error)

	// Sessions
	CreateSession(ctx context.Context, projectID, taskID, agentID, title string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context, projectID string) ([]Session, error)
	CloseSession(ctx context.Context, sessionID string) error

	Close() error
}
