package store

import "github.com/agentdevsl/claudorc/pkg/models"

// API converters map store rows onto the wire types served by the HTTP
// layer and consumed by pkg/client.

func (p Project) API() models.Project {
	return models.Project{
		ProjectID:           p.ProjectID,
		Name:                p.Name,
		Path:                p.Path,
		MaxConcurrentAgents: p.MaxConcurrentAgents,
		DefaultModel:        p.DefaultModel,
		CreatedAt:           p.CreatedAt,
	}
}

func (a Agent) API() models.Agent {
	return models.Agent{
		AgentID:     a.AgentID,
		ProjectID:   a.ProjectID,
		Name:        a.Name,
		Status:      a.Status,
		TaskID:      a.TaskID,
		SessionID:   a.SessionID,
		Model:       a.Model,
		MaxTurns:    a.MaxTurns,
		CurrentTurn: a.CurrentTurn,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (t Task) API() models.Task {
	return models.Task{
		TaskID:       t.TaskID,
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		Prompt:       t.Prompt,
		Column:       t.Column,
		AgentID:      t.AgentID,
		SessionID:    t.SessionID,
		WorktreePath: t.WorktreePath,
		BranchName:   t.BranchName,
		Plan:         t.Plan,
		Model:        t.Model,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (r AgentRun) API() models.AgentRun {
	return models.AgentRun{
		RunID:       r.RunID,
		AgentID:     r.AgentID,
		TaskID:      r.TaskID,
		ProjectID:   r.ProjectID,
		SessionID:   r.SessionID,
		Status:      r.Status,
		Error:       r.Error,
		TurnsUsed:   r.TurnsUsed,
		TokensUsed:  r.TokensUsed,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func (s Session) API() models.Session {
	return models.Session{
		SessionID: s.SessionID,
		ProjectID: s.ProjectID,
		TaskID:    s.TaskID,
		AgentID:   s.AgentID,
		Title:     s.Title,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		ClosedAt:  s.ClosedAt,
	}
}
