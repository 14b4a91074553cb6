package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/pkg/models"
)

func now() int64 { return time.Now().UTC().Unix() }

func fromUnix(v int64) time.Time { return time.Unix(v, 0).UTC() }

func optString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func optTime(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := fromUnix(ni.Int64)
	return &t
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
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO projects(project_id, name, path, max_concurrent_agents, default_model, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.Path, p.MaxConcurrentAgents, p.DefaultModel, p.CreatedAt.Unix())
	return p, err
}

func (s *Store) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	var p store.Project
	var createdAt int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT project_id, name, path, max_concurrent_agents, default_model, created_at FROM projects WHERE project_id = ?`,
		projectID).Scan(&p.ProjectID, &p.Name, &p.Path, &p.MaxConcurrentAgents, &p.DefaultModel, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, store.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt = fromUnix(createdAt)
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]store.Project, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project_id, name, path, max_concurrent_agents, default_model, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Project
	for rows.Next() {
		var p store.Project
		var createdAt int64
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.Path, &p.MaxConcurrentAgents, &p.DefaultModel, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = fromUnix(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Agents

func (s *Store) CreateAgent(ctx context.Context, projectID, name, model string, maxTurns int) (store.Agent, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return store.Agent{}, err
	}
	ts := now()
	a := store.Agent{
		AgentID:   store.NewID(),
		ProjectID: projectID,
		Name:      name,
		Status:    models.AgentIdle,
		Model:     model,
		MaxTurns:  maxTurns,
		CreatedAt: fromUnix(ts),
		UpdatedAt: fromUnix(ts),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO agents(agent_id, project_id, name, status, model, max_turns, current_turn, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.AgentID, a.ProjectID, a.Name, a.Status, a.Model, a.MaxTurns, ts, ts)
	return a, err
}

const agentColumns = `agent_id, project_id, name, status, task_id, session_id, model, max_turns, current_turn, created_at, updated_at`

func scanAgentRow(rows interface{ Scan(dest ...any) error }) (*store.Agent, error) {
	var (
		a                    store.Agent
		taskID, sessionID    sql.NullString
		createdAt, updatedAt int64
	)
	err := rows.Scan(&a.AgentID, &a.ProjectID, &a.Name, &a.Status, &taskID, &sessionID, &a.Model, &a.MaxTurns, &a.CurrentTurn, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.TaskID = optString(taskID)
	a.SessionID = optString(sessionID)
	a.CreatedAt = fromUnix(createdAt)
	a.UpdatedAt = fromUnix(updatedAt)
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (store.Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Agent{}, store.ErrNotFound
	}
	if err != nil {
		return store.Agent{}, err
	}
	return *a, nil
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]store.Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Agent
	for rows.Next() {
		a, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`, status, now(), agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAgentAssignment(ctx context.Context, agentID, status string, taskID, sessionID *string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE agents SET status = ?, task_id = ?, session_id = ?, updated_at = ? WHERE agent_id = ?`,
		status, taskID, sessionID, now(), agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAgentTurns(ctx context.Context, agentID string, currentTurn int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE agents SET current_turn = ?, updated_at = ? WHERE agent_id = ?`, currentTurn, now(), agentID)
	return err
}

func (s *Store) CountRunningAgents(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE project_id = ? AND status IN ('starting', 'planning', 'running')`,
		projectID).Scan(&n)
	return n, err
}

// Tasks

func (s *Store) CreateTask(ctx context.Context, projectID, title, prompt string, model *string) (store.Task, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return store.Task{}, err
	}
	ts := now()
	t := store.Task{
		TaskID:    store.NewID(),
		ProjectID: projectID,
		Title:     title,
		Prompt:    prompt,
		Column:    models.ColumnBacklog,
		Model:     model,
		CreatedAt: fromUnix(ts),
		UpdatedAt: fromUnix(ts),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tasks(task_id, project_id, title, prompt, column_name, model, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.ProjectID, t.Title, t.Prompt, t.Column, t.Model, ts, ts)
	return t, err
}

const taskColumns = `task_id, project_id, title, prompt, column_name, agent_id, session_id, worktree_path, branch_name, plan, model, created_at, updated_at`

func scanTaskRow(rows interface{ Scan(dest ...any) error }) (*store.Task, error) {
	var (
		t                                                   store.Task
		agentID, sessionID, worktree, branch, plan, model   sql.NullString
		createdAt, updatedAt                                int64
	)
	err := rows.Scan(&t.TaskID, &t.ProjectID, &t.Title, &t.Prompt, &t.Column, &agentID, &sessionID, &worktree, &branch, &plan, &model, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.AgentID = optString(agentID)
	t.SessionID = optString(sessionID)
	t.WorktreePath = optString(worktree)
	t.BranchName = optString(branch)
	t.Plan = optString(plan)
	t.Model = optString(model)
	t.CreatedAt = fromUnix(createdAt)
	t.UpdatedAt = fromUnix(updatedAt)
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, store.ErrNotFound
	}
	if err != nil {
		return store.Task{}, err
	}
	return *t, nil
}

func (s *Store) ListTasks(ctx context.Context, projectID, column string, limit int) ([]store.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if column != "" {
		q += ` AND column_name = ?`
		args = append(args, column)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) NewestBacklogTask(ctx context.Context, projectID string) (*store.Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND column_name = 'backlog' ORDER BY created_at DESC, task_id DESC LIMIT 1`,
		projectID)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET column_name = 'in_progress', agent_id = ?, updated_at = ? WHERE task_id = ? AND column_name = 'backlog'`,
		agentID, now(), taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) MoveTask(ctx context.Context, taskID, column string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET column_name = ?, updated_at = ? WHERE task_id = ?`, column, now(), taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetTaskSession(ctx context.Context, taskID string, sessionID *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET session_id = ?, updated_at = ? WHERE task_id = ?`, sessionID, now(), taskID)
	return err
}

func (s *Store) SetTaskWorktree(ctx context.Context, taskID string, worktreePath, branchName *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET worktree_path = ?, branch_name = ?, updated_at = ? WHERE task_id = ?`, worktreePath, branchName, now(), taskID)
	return err
}

func (s *Store) SetTaskPlan(ctx context.Context, taskID, plan string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET plan = ?, updated_at = ? WHERE task_id = ?`, plan, now(), taskID)
	return err
}

func (s *Store) RequeueTask(ctx context.Context, taskID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET column_name = 'backlog', agent_id = NULL, session_id = NULL, worktree_path = NULL, branch_name = NULL, updated_at = ? WHERE task_id = ?`,
		now(), taskID)
	return err
}

func (s *Store) ClearTaskAssignment(ctx context.Context, taskID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET agent_id = NULL, session_id = NULL, updated_at = ? WHERE task_id = ?`, now(), taskID)
	return err
}

// Agent runs

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
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO agent_runs(run_id, agent_id, task_id, project_id, session_id, status, turns_used, tokens_used, started_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.AgentID, run.TaskID, run.ProjectID, run.SessionID, run.Status, run.TurnsUsed, run.TokensUsed, run.StartedAt.Unix())
	return run, err
}

func (s *Store) CloseAgentRun(ctx context.Context, runID, status string, errMsg *string, turnsUsed, tokensUsed int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, error = ?, turns_used = ?, tokens_used = ?, completed_at = ? WHERE run_id = ? AND completed_at IS NULL`,
		status, errMsg, turnsUsed, tokensUsed, now(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("agent run already closed or missing")
	}
	return nil
}

const runColumns = `run_id, agent_id, task_id, project_id, session_id, status, error, turns_used, tokens_used, started_at, completed_at`

func scanRunRow(rows interface{ Scan(dest ...any) error }) (*store.AgentRun, error) {
	var (
		r           store.AgentRun
		errMsg      sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := rows.Scan(&r.RunID, &r.AgentID, &r.TaskID, &r.ProjectID, &r.SessionID, &r.Status, &errMsg, &r.TurnsUsed, &r.TokensUsed, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.Error = optString(errMsg)
	r.StartedAt = fromUnix(startedAt)
	r.CompletedAt = optTime(completedAt)
	return &r, nil
}

func (s *Store) GetAgentRun(ctx context.Context, runID string) (store.AgentRun, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE run_id = ?`, runID)
	r, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AgentRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.AgentRun{}, err
	}
	return *r, nil
}

func (s *Store) ListAgentRuns(ctx context.Context, agentID string, limit int) ([]store.AgentRun, error) {
	q := `SELECT ` + runColumns + ` FROM agent_runs WHERE agent_id = ? ORDER BY started_at DESC`
	args := []any{agentID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.AgentRun
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) OpenAgentRuns(ctx context.Context) ([]store.AgentRun, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE completed_at IS NULL ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.AgentRun
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, projectID, taskID, agentID, title string) (store.Session, error) {
	ts := now()
	sess := store.Session{
		SessionID: store.NewID(),
		ProjectID: projectID,
		TaskID:    taskID,
		AgentID:   agentID,
		Title:     title,
		Status:    models.SessionActive,
		CreatedAt: fromUnix(ts),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions(session_id, project_id, task_id, agent_id, title, status, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.ProjectID, sess.TaskID, sess.AgentID, sess.Title, sess.Status, ts)
	return sess, err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var (
		sess      store.Session
		createdAt int64
		closedAt  sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT session_id, project_id, task_id, agent_id, title, status, created_at, closed_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&sess.SessionID, &sess.ProjectID, &sess.TaskID, &sess.AgentID, &sess.Title, &sess.Status, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, store.ErrNotFound
	}
	if err != nil {
		return sess, err
	}
	sess.CreatedAt = fromUnix(createdAt)
	sess.ClosedAt = optTime(closedAt)
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, projectID string) ([]store.Session, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT session_id, project_id, task_id, agent_id, title, status, created_at, closed_at FROM sessions WHERE project_id = ? ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Session
	for rows.Next() {
		var (
			sess      store.Session
			createdAt int64
			closedAt  sql.NullInt64
		)
		if err := rows.Scan(&sess.SessionID, &sess.ProjectID, &sess.TaskID, &sess.AgentID, &sess.Title, &sess.Status, &createdAt, &closedAt); err != nil {
			return nil, err
		}
		sess.CreatedAt = fromUnix(createdAt)
		sess.ClosedAt = optTime(closedAt)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET status = 'closed', closed_at = ? WHERE session_id = ? AND closed_at IS NULL`,
		now(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
