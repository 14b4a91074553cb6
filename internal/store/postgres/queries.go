package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/pkg/models"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// Projects

func (s *Store) CreateProject(ctx context.Context, name, path string, maxConcurrentAgents int, defaultModel string) (store.Project, error) {
	p := store.Project{
		ProjectID:           store.NewID(),
		Name:                name,
		Path:                path,
		MaxConcurrentAgents: maxConcurrentAgents,
		DefaultModel:        defaultModel,
		CreatedAt:           time.Now().UTC(),
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO projects(project_id, name, path, max_concurrent_agents, default_model, created_at) VALUES($1, $2, $3, $4, $5, $6)`,
		p.ProjectID, p.Name, p.Path, p.MaxConcurrentAgents, p.DefaultModel, p.CreatedAt)
	return p, err
}

func (s *Store) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	var p store.Project
	err := s.Pool.QueryRow(ctx,
		`SELECT project_id, name, path, max_concurrent_agents, default_model, created_at FROM projects WHERE project_id = $1`,
		projectID).Scan(&p.ProjectID, &p.Name, &p.Path, &p.MaxConcurrentAgents, &p.DefaultModel, &p.CreatedAt)
	return p, notFound(err)
}

func (s *Store) ListProjects(ctx context.Context) ([]store.Project, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT project_id, name, path, max_concurrent_agents, default_model, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Project
	for rows.Next() {
		var p store.Project
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.Path, &p.MaxConcurrentAgents, &p.DefaultModel, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM projects WHERE project_id = $1`, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Agents

const agentColumns = `agent_id, project_id, name, status, task_id, session_id, model, max_turns, current_turn, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, projectID, name, model string, maxTurns int) (store.Agent, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return store.Agent{}, err
	}
	ts := time.Now().UTC()
	a := store.Agent{
		AgentID:   store.NewID(),
		ProjectID: projectID,
		Name:      name,
		Status:    models.AgentIdle,
		Model:     model,
		MaxTurns:  maxTurns,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO agents(agent_id, project_id, name, status, model, max_turns, current_turn, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		a.AgentID, a.ProjectID, a.Name, a.Status, a.Model, a.MaxTurns, ts, ts)
	return a, err
}

func scanAgent(row pgx.Row) (store.Agent, error) {
	var a store.Agent
	err := row.Scan(&a.AgentID, &a.ProjectID, &a.Name, &a.Status, &a.TaskID, &a.SessionID, &a.Model, &a.MaxTurns, &a.CurrentTurn, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (store.Agent, error) {
	a, err := scanAgent(s.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID))
	return a, notFound(err)
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]store.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE agents SET status = $1, updated_at = $2 WHERE agent_id = $3`, status, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAgentAssignment(ctx context.Context, agentID, status string, taskID, sessionID *string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE agents SET status = $1, task_id = $2, session_id = $3, updated_at = $4 WHERE agent_id = $5`,
		status, taskID, sessionID, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAgentTurns(ctx context.Context, agentID string, currentTurn int) error {
	_, err := s.Pool.Exec(ctx, `UPDATE agents SET current_turn = $1, updated_at = $2 WHERE agent_id = $3`, currentTurn, time.Now().UTC(), agentID)
	return err
}

func (s *Store) CountRunningAgents(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE project_id = $1 AND status IN ('starting', 'planning', 'running')`,
		projectID).Scan(&n)
	return n, err
}

// Tasks

const taskColumns = `task_id, project_id, title, prompt, column_name, agent_id, session_id, worktree_path, branch_name, plan, model, created_at, updated_at`

func scanTask(row pgx.Row) (store.Task, error) {
	var t store.Task
	err := row.Scan(&t.TaskID, &t.ProjectID, &t.Title, &t.Prompt, &t.Column, &t.AgentID, &t.SessionID, &t.WorktreePath, &t.BranchName, &t.Plan, &t.Model, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, projectID, title, prompt string, model *string) (store.Task, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return store.Task{}, err
	}
	ts := time.Now().UTC()
	t := store.Task{
		TaskID:    store.NewID(),
		ProjectID: projectID,
		Title:     title,
		Prompt:    prompt,
		Column:    models.ColumnBacklog,
		Model:     model,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO tasks(task_id, project_id, title, prompt, column_name, model, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.TaskID, t.ProjectID, t.Title, t.Prompt, t.Column, t.Model, ts, ts)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
	return t, notFound(err)
}

func (s *Store) ListTasks(ctx context.Context, projectID, column string, limit int) ([]store.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = $1`
	args := []any{projectID}
	if column != "" {
		q += ` AND column_name = $2`
		args = append(args, column)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		if column != "" {
			q += ` LIMIT $3`
		} else {
			q += ` LIMIT $2`
		}
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) NewestBacklogTask(ctx context.Context, projectID string) (*store.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND column_name = 'backlog' ORDER BY created_at DESC, task_id DESC LIMIT 1`,
		projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET column_name = 'in_progress', agent_id = $1, updated_at = $2 WHERE task_id = $3 AND column_name = 'backlog'`,
		agentID, time.Now().UTC(), taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MoveTask(ctx context.Context, taskID, column string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET column_name = $1, updated_at = $2 WHERE task_id = $3`, column, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetTaskSession(ctx context.Context, taskID string, sessionID *string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET session_id = $1, updated_at = $2 WHERE task_id = $3`, sessionID, time.Now().UTC(), taskID)
	return err
}

func (s *Store) SetTaskWorktree(ctx context.Context, taskID string, worktreePath, branchName *string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET worktree_path = $1, branch_name = $2, updated_at = $3 WHERE task_id = $4`, worktreePath, branchName, time.Now().UTC(), taskID)
	return err
}

func (s *Store) SetTaskPlan(ctx context.Context, taskID, plan string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET plan = $1, updated_at = $2 WHERE task_id = $3`, plan, time.Now().UTC(), taskID)
	return err
}

func (s *Store) RequeueTask(ctx context.Context, taskID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET column_name = 'backlog', agent_id = NULL, session_id = NULL, worktree_path = NULL, branch_name = NULL, updated_at = $1 WHERE task_id = $2`,
		time.Now().UTC(), taskID)
	return err
}

func (s *Store) ClearTaskAssignment(ctx context.Context, taskID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET agent_id = NULL, session_id = NULL, updated_at = $1 WHERE task_id = $2`, time.Now().UTC(), taskID)
	return err
}

// Agent runs

const runColumns = `run_id, agent_id, task_id, project_id, session_id, status, error, turns_used, tokens_used, started_at, completed_at`

func scanRun(row pgx.Row) (store.AgentRun, error) {
	var r store.AgentRun
	err := row.Scan(&r.RunID, &r.AgentID, &r.TaskID, &r.ProjectID, &r.SessionID, &r.Status, &r.Error, &r.TurnsUsed, &r.TokensUsed, &r.StartedAt, &r.CompletedAt)
	return r, err
}

func (s *Store) CreateAgentRun(ctx context.Context, run store.AgentRun) (store.AgentRun, error) {
	if run.RunID == "" {
		run.RunID = store.NewID()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO agent_runs(run_id, agent_id, task_id, project_id, session_id, status, turns_used, tokens_used, started_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.AgentID, run.TaskID, run.ProjectID, run.SessionID, run.Status, run.TurnsUsed, run.TokensUsed, run.StartedAt)
	return run, err
}

func (s *Store) CloseAgentRun(ctx context.Context, runID, status string, errMsg *string, turnsUsed, tokensUsed int) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE agent_runs SET status = $1, error = $2, turns_used = $3, tokens_used = $4, completed_at = $5 WHERE run_id = $6 AND completed_at IS NULL`,
		status, errMsg, turnsUsed, tokensUsed, time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("agent run already closed or missing")
	}
	return nil
}

func (s *Store) GetAgentRun(ctx context.Context, runID string) (store.AgentRun, error) {
	r, err := scanRun(s.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE run_id = $1`, runID))
	return r, notFound(err)
}

func (s *Store) ListAgentRuns(ctx context.Context, agentID string, limit int) ([]store.AgentRun, error) {
	q := `SELECT ` + runColumns + ` FROM agent_runs WHERE agent_id = $1 ORDER BY started_at DESC`
	args := []any{agentID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.AgentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) OpenAgentRuns(ctx context.Context) ([]store.AgentRun, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE completed_at IS NULL ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.AgentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, projectID, taskID, agentID, title string) (store.Session, error) {
	sess := store.Session{
		SessionID: store.NewID(),
		ProjectID: projectID,
		TaskID:    taskID,
		AgentID:   agentID,
		Title:     title,
		Status:    models.SessionActive,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sessions(session_id, project_id, task_id, agent_id, title, status, created_at) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		sess.SessionID, sess.ProjectID, sess.TaskID, sess.AgentID, sess.Title, sess.Status, sess.CreatedAt)
	return sess, err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var sess store.Session
	err := s.Pool.QueryRow(ctx,
		`SELECT session_id, project_id, task_id, agent_id, title, status, created_at, closed_at FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&sess.SessionID, &sess.ProjectID, &sess.TaskID, &sess.AgentID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.ClosedAt)
	return sess, notFound(err)
}

func (s *Store) ListSessions(ctx context.Context, projectID string) ([]store.Session, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT session_id, project_id, task_id, agent_id, title, status, created_at, closed_at FROM sessions WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Session
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(&sess.SessionID, &sess.ProjectID, &sess.TaskID, &sess.AgentID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET status = 'closed', closed_at = $1 WHERE session_id = $2 AND closed_at IS NULL`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
