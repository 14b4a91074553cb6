// Package client provides a Go SDK for the claudorc HTTP API, including a
// reconnecting stream subscriber with offset-based resume.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agentdevsl/claudorc/pkg/models"
)

// Client calls the claudorc HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3580"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. apiKey is optional.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			if errBody.Kind != "" {
				return fmt.Errorf("api %s %s: %s: %s", method, path, errBody.Kind, errBody.Error)
			}
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, path string, maxConcurrent int, defaultModel string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects", map[string]any{
		"name":                  name,
		"path":                  path,
		"max_concurrent_agents": maxConcurrent,
		"default_model":         defaultModel,
	}, &out)
	return &out, err
}

// GetProject returns one project.
func (c *Client) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, &out)
	return &out, err
}

// DeleteProject deletes a project and everything it owns.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, nil)
}

// ListAgents returns the project's agents.
func (c *Client) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/agents", nil, &out)
	return out, err
}

// CreateAgent creates an agent in a project.
func (c *Client) CreateAgent(ctx context.Context, projectID, name, model string, maxTurns int) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/agents", map[string]any{
		"name":      name,
		"model":     model,
		"max_turns": maxTurns,
	}, &out)
	return &out, err
}

// GetAgent returns one agent plus whether it holds an active run.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*models.Agent, bool, error) {
	var out struct {
		Agent   models.Agent `json:"agent"`
		Running bool         `json:"running"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil, &out)
	return &out.Agent, out.Running, err
}

// ListRuns returns the agent's run history, newest first.
func (c *Client) ListRuns(ctx context.Context, agentID string, limit int) ([]models.AgentRun, error) {
	path := "/agents/" + url.PathEscape(agentID) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.AgentRun
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// StartAgent starts an agent. taskID is optional; empty picks the newest
// backlog task.
func (c *Client) StartAgent(ctx context.Context, agentID, taskID string) (*models.StartResult, error) {
	var out models.StartResult
	body := map[string]any{}
	if taskID != "" {
		body["task_id"] = taskID
	}
	err := c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/start", body, &out)
	return &out, err
}

// StopAgent aborts the agent's active run.
func (c *Client) StopAgent(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/stop", nil, nil)
}

// PauseAgent pauses the agent.
func (c *Client) PauseAgent(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/pause", nil, nil)
}

// ResumeAgent resumes the agent; feedback is optional correction text.
func (c *Client) ResumeAgent(ctx context.Context, agentID, feedback string) error {
	body := map[string]any{}
	if feedback != "" {
		body["feedback"] = feedback
	}
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/resume", body, nil)
}

// ListTasks returns tasks for a project, optionally filtered by column.
func (c *Client) ListTasks(ctx context.Context, projectID, column string, limit int) ([]models.Task, error) {
	q := url.Values{}
	if column != "" {
		q.Set("column", column)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/projects/" + url.PathEscape(projectID) + "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTask creates a backlog task.
func (c *Client) CreateTask(ctx context.Context, projectID, title, prompt string, model *string) (*models.Task, error) {
	body := map[string]any{"title": title, "prompt": prompt}
	if model != nil {
		body["model"] = *model
	}
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/tasks", body, &out)
	return &out, err
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &out)
	return &out, err
}

// MoveTask moves a task to another board column.
func (c *Client) MoveTask(ctx context.Context, taskID, column string) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/move", map[string]any{"column": column}, nil)
}

// GetSession returns one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var out models.Session
	err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out)
	return &out, err
}

// ListSessions returns the project's sessions.
func (c *Client) ListSessions(ctx context.Context, projectID string) ([]models.Session, error) {
	var out []models.Session
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/sessions", nil, &out)
	return out, err
}

// StreamMetadata returns event count and creation time for a stream.
func (c *Client) StreamMetadata(ctx context.Context, streamID string) (*models.StreamMetadata, error) {
	var out models.StreamMetadata
	err := c.doJSON(ctx, http.MethodGet, "/streams/"+url.PathEscape(streamID), nil, &out)
	return &out, err
}

// StreamEvents pages over stored stream history.
func (c *Client) StreamEvents(ctx context.Context, streamID string, from int64, limit int) ([]models.StreamEvent, int64, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(from, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events     []models.StreamEvent `json:"events"`
		NextOffset int64                `json:"next_offset"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/streams/"+url.PathEscape(streamID)+"/events?"+q.Encode(), nil, &out)
	return out.Events, out.NextOffset, err
}
