package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies the synchronous precondition failures of start/stop/
// pause/resume. Execution-time failures never use these; they land on the
// run record and the session stream instead.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindAlreadyRunning  Kind = "ALREADY_RUNNING"
	KindNoAvailableTask Kind = "NO_AVAILABLE_TASK"
	KindLimitExceeded   Kind = "LIMIT_EXCEEDED"
	KindNotRunning      Kind = "NOT_RUNNING"
	KindExecutionError  Kind = "EXECUTION_ERROR"
)

// Error is a typed failure returned across the orchestrator's public
// contract. Running and Max are populated for KindLimitExceeded only.
type Error struct {
	Kind    Kind
	Message string
	Running int
	Max     int
}

func (e *Error) Error() string {
	if e.Kind == KindLimitExceeded {
		return fmt.Sprintf("%s: %s (%d/%d)", e.Kind, e.Message, e.Running, e.Max)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is an orchestrator Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}

// AsError extracts the typed orchestrator error, if any.
func AsError(err error) (*Error, bool) {
	var oe *Error
	ok := errors.As(err, &oe)
	return oe, ok
}

func errNotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func errAlreadyRunning(agentID, status string) *Error {
	return &Error{Kind: KindAlreadyRunning, Message: fmt.Sprintf("agent %s is %s, not idle", agentID, status)}
}

func errNoAvailableTask(projectID string) *Error {
	return &Error{Kind: KindNoAvailableTask, Message: fmt.Sprintf("no backlog task available in project %s", projectID)}
}

func errLimitExceeded(running, max int) *Error {
	return &Error{Kind: KindLimitExceeded, Message: "concurrent agent limit reached", Running: running, Max: max}
}

func errNotRunning(agentID string) *Error {
	return &Error{Kind: KindNotRunning, Message: fmt.Sprintf("agent %s has no active run", agentID)}
}

func errExecution(err error) *Error {
	return &Error{Kind: KindExecutionError, Message: err.Error()}
}
