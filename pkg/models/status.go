package models

// Agent statuses. idle is initial; completed and error are terminal for a
// given run (the agent returns to idle after completed).
const (
	AgentIdle      = "idle"
	AgentStarting  = "starting"
	AgentPlanning  = "planning"
	AgentRunning   = "running"
	AgentPaused    = "paused"
	AgentCompleted = "completed"
	AgentError     = "error"
)

// Task columns.
const (
	ColumnBacklog         = "backlog"
	ColumnInProgress      = "in_progress"
	ColumnWaitingApproval = "waiting_approval"
	ColumnVerified        = "verified"
	ColumnCancelled       = "cancelled"
)

// AgentRun statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPaused    = "paused"
	RunError     = "error"
)

// Session statuses.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// Event types published onto a session's stream by the orchestrator, plus
// pass-through step events originated by the execution runner.
const (
	EventStateUpdate      = "state:update"
	EventAgentError       = "agent:error"
	EventAgentWarning     = "agent:warning"
	EventAgentTurnLimit   = "agent:turn_limit"
	EventApprovalRejected = "approval:rejected"
	EventChunk            = "chunk"
	EventToolStart        = "tool:start"
	EventToolResult       = "tool:result"
	EventFileChange       = "file:change"
	EventTokens           = "tokens"
	EventTerminalInput    = "terminal:input"
	EventTerminalOutput   = "terminal:output"
	EventPresenceJoined   = "presence:joined"
	EventPresenceLeft     = "presence:left"
	EventPresenceCursor   = "presence:cursor"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultMaxConcurrentAgents = 3
	DefaultMaxTurns            = 50
	DefaultWarningThreshold    = 0.8
	DefaultStreamPageLimit     = 500
	DefaultSSEChannelBuffer    = 256
)
