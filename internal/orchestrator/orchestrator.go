// Package orchestrator drives the agent lifecycle: admission, task
// acquisition, worktree and session provisioning, asynchronous run
// supervision, and recovery. All synchronous preconditions come back as
// typed errors; failures after start() has returned land on the run
// record and the session stream instead.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdevsl/claudorc/internal/otel"
	"github.com/agentdevsl/claudorc/internal/runner"
	"github.com/agentdevsl/claudorc/internal/session"
	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/internal/turns"
	"github.com/agentdevsl/claudorc/internal/worktree"
	"github.com/agentdevsl/claudorc/pkg/models"
)

// Config carries the process-wide execution defaults. Zero values fall
// back to the models package defaults.
type Config struct {
	DefaultModel     string
	FallbackModel    string
	MaxTurns         int
	WarningThreshold float64
	MaxConcurrent    int
	AllowedTools     []string
}

func (c Config) normalized() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = models.DefaultMaxTurns
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		c.WarningThreshold = models.DefaultWarningThreshold
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = models.DefaultMaxConcurrentAgents
	}
	return c
}

// Orchestrator is the top-level lifecycle state machine. One instance per
// process; the cancellation registry it owns is the source of truth for
// "is this agent running".
type Orchestrator struct {
	store     store.Store
	sessions  *session.Service
	worktrees worktree.Provider
	runner    runner.Runner
	recovery  Policy
	admission *Admission
	cfg       Config

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	wg sync.WaitGroup
}

// New builds an orchestrator. recovery may be nil, in which case every
// execution failure pauses the agent.
func New(st store.Store, sessions *session.Service, wt worktree.Provider, r runner.Runner, recovery Policy, cfg Config) *Orchestrator {
	if recovery == nil {
		recovery = PauseOnFailure()
	}
	cfg = cfg.normalized()
	return &Orchestrator{
		store:     st,
		sessions:  sessions,
		worktrees: wt,
		runner:    r,
		recovery:  recovery,
		admission: NewAdmission(st, cfg.MaxConcurrent),
		cfg:       cfg,
		cancels:   make(map[string]context.CancelFunc),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockProject serializes the check-then-reserve window per project so two
// concurrent starts cannot both pass admission on the same last slot.
func (o *Orchestrator) lockProject(projectID string) func() {
	o.lockMu.Lock()
	mu, ok := o.locks[projectID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[projectID] = mu
	}
	o.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Start validates preconditions, reserves a task, provisions a worktree
// and session, records the run, and launches the runner asynchronously.
// It returns the provisioned snapshot as soon as provisioning completes;
// the caller never blocks on run completion.
func (o *Orchestrator) Start(ctx context.Context, agentID, taskID string) (models.StartResult, error) {
	agent, err := o.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return models.StartResult{}, errNotFound("agent", agentID)
	}
	if err != nil {
		return models.StartResult{}, err
	}
	if agent.Status != models.AgentIdle {
		return models.StartResult{}, errAlreadyRunning(agentID, agent.Status)
	}

	project, err := o.store.GetProject(ctx, agent.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return models.StartResult{}, errNotFound("project", agent.ProjectID)
	}
	if err != nil {
		return models.StartResult{}, err
	}

	unlock := o.lockProject(project.ProjectID)
	defer unlock()

	task, err := o.resolveTask(ctx, project.ProjectID, taskID)
	if err != nil {
		return models.StartResult{}, err
	}

	// Admission precedes every mutation: a start must not race past the
	// ceiling by reserving a task first.
	ok, running, max, err := o.admission.Check(ctx, project)
	if err != nil {
		return models.StartResult{}, err
	}
	if !ok {
		otel.RecordAdmissionRejection(ctx, project.ProjectID)
		return models.StartResult{}, errLimitExceeded(running, max)
	}

	claimed, err := o.store.ClaimTask(ctx, task.TaskID, agentID)
	if err != nil {
		return models.StartResult{}, err
	}
	if !claimed {
		return models.StartResult{}, errNoAvailableTask(project.ProjectID)
	}

	wt, err := o.worktrees.Create(ctx, project, task.TaskID)
	if err != nil {
		o.requeue(ctx, task.TaskID)
		return models.StartResult{}, errExecution(fmt.Errorf("provision worktree: %w", err))
	}

	sess, err := o.sessions.Open(ctx, project.ProjectID, task.TaskID, agentID, task.Title)
	if err != nil {
		_ = o.worktrees.Remove(ctx, wt)
		o.requeue(ctx, task.TaskID)
		return models.StartResult{}, errExecution(fmt.Errorf("open session: %w", err))
	}

	if err := o.persistAssignment(ctx, agentID, task.TaskID, sess.SessionID, wt); err != nil {
		_ = o.sessions.Close(ctx, sess.SessionID)
		_ = o.worktrees.Remove(ctx, wt)
		o.requeue(ctx, task.TaskID)
		return models.StartResult{}, errExecution(err)
	}

	o.sessions.Publish(sess.SessionID, models.EventStateUpdate, map[string]any{
		"agent_id": agentID,
		"status":   models.AgentStarting,
	})

	run, err := o.store.CreateAgentRun(ctx, store.AgentRun{
		AgentID:   agentID,
		TaskID:    task.TaskID,
		ProjectID: project.ProjectID,
		SessionID: sess.SessionID,
	})
	if err != nil {
		_ = o.sessions.Close(ctx, sess.SessionID)
		_ = o.worktrees.Remove(ctx, wt)
		o.requeue(ctx, task.TaskID)
		_ = o.store.SetAgentAssignment(ctx, agentID, models.AgentIdle, nil, nil)
		return models.StartResult{}, errExecution(fmt.Errorf("record run: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.registerCancel(agentID, cancel)

	if err := o.store.UpdateAgentStatus(ctx, agentID, models.AgentPlanning); err != nil {
		slog.Error("set agent planning failed", "agent", agentID, "err", err)
	}

	model := o.resolveModel(task, agent, project)
	maxTurns := agent.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.cfg.MaxTurns
	}

	otel.RecordRunStarted(ctx, project.ProjectID)
	slog.Info("agent run started",
		"agent", agentID, "task", task.TaskID, "session", sess.SessionID,
		"model", model, "max_turns", maxTurns)

	params := runParams{
		agentID:   agentID,
		taskID:    task.TaskID,
		sessionID: sess.SessionID,
		runID:     run.RunID,
		projectID: project.ProjectID,
		prompt:    task.Prompt,
		model:     model,
		dir:       wt.Path,
		maxTurns:  maxTurns,
		startedAt: run.StartedAt,
	}
	o.wg.Add(1)
	go o.executeRun(runCtx, params)

	return o.snapshot(ctx, agentID, task.TaskID, sess.SessionID, wt)
}

func (o *Orchestrator) resolveTask(ctx context.Context, projectID, taskID string) (store.Task, error) {
	if taskID != "" {
		task, err := o.store.GetTask(ctx, taskID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, errNoAvailableTask(projectID)
		}
		if err != nil {
			return store.Task{}, err
		}
		if task.ProjectID != projectID || task.Column != models.ColumnBacklog {
			return store.Task{}, errNoAvailableTask(projectID)
		}
		return task, nil
	}
	task, err := o.store.NewestBacklogTask(ctx, projectID)
	if err != nil {
		return store.Task{}, err
	}
	if task == nil {
		return store.Task{}, errNoAvailableTask(projectID)
	}
	return *task, nil
}

// resolveModel walks the override chain: task, agent, project, process
// default, hardcoded fallback. First non-empty wins.
func (o *Orchestrator) resolveModel(task store.Task, agent store.Agent, project store.Project) string {
	if task.Model != nil && *task.Model != "" {
		return *task.Model
	}
	if agent.Model != "" {
		return agent.Model
	}
	if project.DefaultModel != "" {
		return project.DefaultModel
	}
	if o.cfg.DefaultModel != "" {
		return o.cfg.DefaultModel
	}
	return o.cfg.FallbackModel
}

func (o *Orchestrator) persistAssignment(ctx context.Context, agentID, taskID, sessionID string, wt models.Worktree) error {
	if err := o.store.SetTaskSession(ctx, taskID, &sessionID); err != nil {
		return fmt.Errorf("link session to task: %w", err)
	}
	if err := o.store.SetTaskWorktree(ctx, taskID, &wt.Path, &wt.Branch); err != nil {
		return fmt.Errorf("link worktree to task: %w", err)
	}
	if err := o.store.SetAgentAssignment(ctx, agentID, models.AgentStarting, &taskID, &sessionID); err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}
	return nil
}

func (o *Orchestrator) requeue(ctx context.Context, taskID string) {
	if err := o.store.RequeueTask(ctx, taskID); err != nil {
		slog.Error("requeue task failed", "task", taskID, "err", err)
	}
}

func (o *Orchestrator) snapshot(ctx context.Context, agentID, taskID, sessionID string, wt models.Worktree) (models.StartResult, error) {
	agent, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return models.StartResult{}, err
	}
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return models.StartResult{}, err
	}
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return models.StartResult{}, err
	}
	return models.StartResult{
		Agent:    agent.API(),
		Task:     task.API(),
		Session:  sess.API(),
		Worktree: wt,
	}, nil
}

type runParams struct {
	agentID   string
	taskID    string
	sessionID string
	runID     string
	projectID string
	prompt    string
	model     string
	dir       string
	maxTurns  int
	startedAt time.Time
}

// executeRun supervises one detached runner invocation. Persistence inside
// uses a background context: the run context may already be cancelled by
// stop() when the final transitions are written.
func (o *Orchestrator) executeRun(ctx context.Context, p runParams) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.recoverFailure(p, fmt.Errorf("runner panic: %v", r), 0, 0)
		}
	}()

	limiter := turns.NewLimiter(p.maxTurns, o.cfg.WarningThreshold,
		func(count, max int) {
			o.sessions.Publish(p.sessionID, models.EventAgentWarning, map[string]any{
				"agent_id": p.agentID,
				"turn":     count,
				"max":      max,
			})
		},
		func(count, max int) {
			o.sessions.Publish(p.sessionID, models.EventAgentTurnLimit, map[string]any{
				"agent_id": p.agentID,
				"turn":     count,
				"max":      max,
			})
		},
	)

	res := o.runner.Run(ctx, runner.Request{
		AgentID:      p.agentID,
		SessionID:    p.sessionID,
		Prompt:       p.prompt,
		Model:        p.model,
		Dir:          p.dir,
		AllowedTools: o.cfg.AllowedTools,
		MaxTurns:     p.maxTurns,
		Limiter:      limiter,
		Hooks:        o.hooks(p),
	})
	o.interpret(p, res)
}

// hooks bridges runner step events onto the session's stream.
func (o *Orchestrator) hooks(p runParams) runner.Hooks {
	return runner.Hooks{
		OnChunk: func(text string) {
			o.sessions.Publish(p.sessionID, models.EventChunk, map[string]any{"text": text})
		},
		OnToolStart: func(tool string, input map[string]any) {
			o.sessions.Publish(p.sessionID, models.EventToolStart, map[string]any{"tool": tool, "input": input})
		},
		OnToolResult: func(tool string, output map[string]any) {
			o.sessions.Publish(p.sessionID, models.EventToolResult, map[string]any{"tool": tool, "output": output})
		},
		OnFileChange: func(path, op string) {
			o.sessions.Publish(p.sessionID, models.EventFileChange, map[string]any{"path": path, "op": op})
		},
		OnTokens: func(delta int64) {
			otel.RecordAgentTurn(context.Background(), p.agentID)
			o.sessions.Publish(p.sessionID, models.EventTokens, map[string]any{"delta": delta})
		},
		OnTerminalOutput: func(line string) {
			o.sessions.Publish(p.sessionID, models.EventTerminalOutput, map[string]any{"line": line})
		},
	}
}

// interpret maps a runner result onto run, agent, and task transitions.
// The mapping is exhaustive over the runner's vocabulary; anything else is
// an error, logged, never dropped.
func (o *Orchestrator) interpret(p runParams, res runner.Result) {
	ctx := context.Background()

	if err := o.store.SetAgentTurns(ctx, p.agentID, res.TurnCount); err != nil {
		slog.Error("persist turn count failed", "agent", p.agentID, "err", err)
	}

	switch res.Status {
	case runner.StatusPlanning:
		if !o.IsRunning(p.agentID) {
			// Stopped while the result was in flight; Stop already reset
			// the agent, so the run just closes.
			o.closeRun(ctx, p, models.RunPaused, nil, res)
			return
		}
		// The run stays open: the agent holds its task and session while
		// the plan awaits approval.
		if res.Plan != "" {
			if err := o.store.SetTaskPlan(ctx, p.taskID, res.Plan); err != nil {
				slog.Error("persist plan failed", "task", p.taskID, "err", err)
			}
		}
		o.setAgentStatus(ctx, p.agentID, models.AgentPlanning)
		o.sessions.Publish(p.sessionID, models.EventStateUpdate, map[string]any{
			"agent_id":     p.agentID,
			"status":       models.AgentPlanning,
			"plan_options": res.PlanOptions,
		})

	case runner.StatusCompleted:
		owned := o.releaseCancel(p.agentID)
		o.closeRun(ctx, p, models.RunCompleted, nil, res)
		if !owned {
			return
		}
		if err := o.store.SetAgentAssignment(ctx, p.agentID, models.AgentIdle, nil, nil); err != nil {
			slog.Error("clear agent assignment failed", "agent", p.agentID, "err", err)
		}
		o.moveTask(ctx, p.taskID, models.ColumnWaitingApproval)
		o.closeSession(ctx, p.sessionID)
		o.sessions.Publish(p.sessionID, models.EventStateUpdate, map[string]any{
			"agent_id": p.agentID,
			"status":   models.AgentCompleted,
		})

	case runner.StatusTurnLimit, runner.StatusPaused:
		owned := o.releaseCancel(p.agentID)
		o.closeRun(ctx, p, models.RunPaused, nil, res)
		if !owned {
			return
		}
		o.setAgentStatus(ctx, p.agentID, models.AgentPaused)
		o.moveTask(ctx, p.taskID, models.ColumnWaitingApproval)
		o.sessions.Publish(p.sessionID, models.EventStateUpdate, map[string]any{
			"agent_id": p.agentID,
			"status":   models.AgentPaused,
			"reason":   res.Status,
		})

	case runner.StatusError:
		msg := "execution failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		owned := o.releaseCancel(p.agentID)
		o.closeRun(ctx, p, models.RunError, &msg, res)
		if !owned {
			return
		}
		o.setAgentStatus(ctx, p.agentID, models.AgentError)
		o.closeSession(ctx, p.sessionID)
		o.sessions.Publish(p.sessionID, models.EventAgentError, map[string]any{
			"agent_id": p.agentID,
			"error":    msg,
		})

	default:
		slog.Error("unknown runner status, treating as error",
			"agent", p.agentID, "status", res.Status)
		msg := fmt.Sprintf("unknown runner status %q", res.Status)
		owned := o.releaseCancel(p.agentID)
		o.closeRun(ctx, p, models.RunError, &msg, res)
		if !owned {
			return
		}
		o.setAgentStatus(ctx, p.agentID, models.AgentError)
		o.closeSession(ctx, p.sessionID)
		o.sessions.Publish(p.sessionID, models.EventAgentError, map[string]any{
			"agent_id": p.agentID,
			"error":    msg,
		})
	}
}

// recoverFailure handles a failure the runner never turned into a result.
// The recovery policy decides whether the agent pauses or errors; the run
// always closes as error with the message.
func (o *Orchestrator) recoverFailure(p runParams, err error, turnCount int, tokens int64) {
	ctx := context.Background()
	agent, gerr := o.store.GetAgent(ctx, p.agentID)
	currentTurn := turnCount
	if gerr == nil {
		currentTurn = agent.CurrentTurn
	}
	action := o.recovery.Handle(ctx, err, RecoveryContext{
		AgentID:     p.agentID,
		TaskID:      p.taskID,
		MaxTurns:    p.maxTurns,
		CurrentTurn: currentTurn,
	})

	msg := err.Error()
	owned := o.releaseCancel(p.agentID)
	o.closeRun(ctx, p, models.RunError, &msg, runner.Result{TurnCount: turnCount, TokensUsed: tokens})
	if !owned {
		slog.Warn("agent run failed after stop", "agent", p.agentID, "err", err)
		return
	}

	status := models.AgentPaused
	if action == ActionFatal {
		status = models.AgentError
	}
	o.setAgentStatus(ctx, p.agentID, status)

	o.sessions.Publish(p.sessionID, models.EventAgentError, map[string]any{
		"agent_id": p.agentID,
		"error":    msg,
		"recovery": string(action),
	})
	slog.Error("agent run recovered", "agent", p.agentID, "action", action, "err", err)
}

func (o *Orchestrator) closeRun(ctx context.Context, p runParams, status string, errMsg *string, res runner.Result) {
	if err := o.store.CloseAgentRun(ctx, p.runID, status, errMsg, res.TurnCount, int(res.TokensUsed)); err != nil {
		slog.Error("close run failed", "run", p.runID, "err", err)
		return
	}
	otel.RecordRunClosed(ctx, p.projectID, status, time.Since(p.startedAt))
}

func (o *Orchestrator) setAgentStatus(ctx context.Context, agentID, status string) {
	if err := o.store.UpdateAgentStatus(ctx, agentID, status); err != nil {
		slog.Error("update agent status failed", "agent", agentID, "status", status, "err", err)
	}
}

func (o *Orchestrator) moveTask(ctx context.Context, taskID, column string) {
	if err := o.store.MoveTask(ctx, taskID, column); err != nil {
		slog.Error("move task failed", "task", taskID, "column", column, "err", err)
	}
}

func (o *Orchestrator) closeSession(ctx context.Context, sessionID string) {
	if err := o.sessions.Close(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("close session failed", "session", sessionID, "err", err)
	}
}

// Stop signals cancellation to the agent's run and resets the agent to
// idle with references cleared. It does not wait for the runner to observe
// the signal.
func (o *Orchestrator) Stop(ctx context.Context, agentID string) error {
	o.cancelMu.Lock()
	cancel, ok := o.cancels[agentID]
	if ok {
		delete(o.cancels, agentID)
	}
	o.cancelMu.Unlock()
	if !ok {
		return errNotRunning(agentID)
	}
	cancel()
	if err := o.store.SetAgentAssignment(ctx, agentID, models.AgentIdle, nil, nil); err != nil {
		return err
	}
	slog.Info("agent stopped", "agent", agentID)
	return nil
}

// Pause transitions the agent to paused without touching the cancellation
// handle; the runner keeps going until it observes the state itself.
func (o *Orchestrator) Pause(ctx context.Context, agentID string) error {
	if _, err := o.store.GetAgent(ctx, agentID); errors.Is(err, store.ErrNotFound) {
		return errNotFound("agent", agentID)
	} else if err != nil {
		return err
	}
	return o.store.UpdateAgentStatus(ctx, agentID, models.AgentPaused)
}

// Resume transitions the agent back to running. Feedback, when present, is
// published as an approval rejection so an attached runner can incorporate
// the correction without restarting.
func (o *Orchestrator) Resume(ctx context.Context, agentID, feedback string) error {
	agent, err := o.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("agent", agentID)
	}
	if err != nil {
		return err
	}
	if err := o.store.UpdateAgentStatus(ctx, agentID, models.AgentRunning); err != nil {
		return err
	}
	if feedback != "" && agent.SessionID != nil {
		o.sessions.Publish(*agent.SessionID, models.EventApprovalRejected, map[string]any{
			"agent_id": agentID,
			"feedback": feedback,
		})
	}
	return nil
}

// IsRunning reports whether the agent holds a cancellation handle.
func (o *Orchestrator) IsRunning(agentID string) bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	_, ok := o.cancels[agentID]
	return ok
}

func (o *Orchestrator) registerCancel(agentID string, cancel context.CancelFunc) {
	o.cancelMu.Lock()
	o.cancels[agentID] = cancel
	o.cancelMu.Unlock()
}

// releaseCancel removes and fires the agent's cancellation handle. It
// reports false when the handle was already gone, which means Stop settled
// the agent first and the run's end state must not overwrite it.
func (o *Orchestrator) releaseCancel(agentID string) bool {
	o.cancelMu.Lock()
	cancel, ok := o.cancels[agentID]
	if ok {
		delete(o.cancels, agentID)
	}
	o.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Reconcile closes runs left open by a previous process. Each interrupted
// run closes as error; the recovery policy decides whether its agent ends
// up paused or errored.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	open, err := o.store.OpenAgentRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range open {
		interrupted := errors.New("run interrupted by process restart")
		action := o.recovery.Handle(ctx, interrupted, RecoveryContext{
			AgentID: run.AgentID,
			TaskID:  run.TaskID,
		})
		msg := interrupted.Error()
		if err := o.store.CloseAgentRun(ctx, run.RunID, models.RunError, &msg, run.TurnsUsed, run.TokensUsed); err != nil {
			slog.Error("reconcile: close run failed", "run", run.RunID, "err", err)
			continue
		}
		status := models.AgentPaused
		if action == ActionFatal {
			status = models.AgentError
		}
		o.setAgentStatus(ctx, run.AgentID, status)
		slog.Warn("reconciled interrupted run", "run", run.RunID, "agent", run.AgentID, "action", action)
	}
	return nil
}

// Wait blocks until all supervised runner goroutines have finished. Used
// by daemon shutdown and tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
