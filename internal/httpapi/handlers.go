package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentdevsl/claudorc/pkg/models"
)

func (a *App) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.Store.ListProjects(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.API())
	}
	writeJSON(w, out)
}

func (a *App) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                string `json:"name"`
		Path                string `json:"path"`
		MaxConcurrentAgents int    `json:"max_concurrent_agents"`
		DefaultModel        string `json:"default_model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Name == "" || body.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "name and path required")
		return
	}
	p, err := a.Store.CreateProject(r.Context(), body.Name, body.Path, body.MaxConcurrentAgents, body.DefaultModel)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, p.API())
}

func (a *App) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.Store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, p.API())
}

func (a *App) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.Store.ListAgents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Agent, 0, len(agents))
	for _, ag := range agents {
		out = append(out, ag.API())
	}
	writeJSON(w, out)
}

func (a *App) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Model    string `json:"model"`
		MaxTurns int    `json:"max_turns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	ag, err := a.Store.CreateAgent(r.Context(), r.PathValue("id"), body.Name, body.Model, body.MaxTurns)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, ag.API())
}

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := a.Store.ListTasks(r.Context(), r.PathValue("id"), r.URL.Query().Get("column"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.API())
	}
	writeJSON(w, out)
}

func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title  string  `json:"title"`
		Prompt string  `json:"prompt"`
		Model  *string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title required")
		return
	}
	t, err := a.Store.CreateTask(r.Context(), r.PathValue("id"), body.Title, body.Prompt, body.Model)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, t.API())
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.Store.ListSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.API())
	}
	writeJSON(w, out)
}

func (a *App) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := a.Store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := ag.API()
	writeJSON(w, map[string]any{
		"agent":   out,
		"running": a.Orch.IsRunning(out.AgentID),
	})
}

func (a *App) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.Store.ListAgentRuns(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.AgentRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.API())
	}
	writeJSON(w, out)
}

func (a *App) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"task_id"`
	}
	// An empty body means "pick the newest backlog task".
	_ = json.NewDecoder(r.Body).Decode(&body)

	res, err := a.Orch.Start(r.Context(), r.PathValue("id"), body.TaskID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *App) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	if err := a.Orch.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	if err := a.Orch.Pause(r.Context(), r.PathValue("id")); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := a.Orch.Resume(r.Context(), r.PathValue("id"), body.Feedback); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, t.API())
}

func (a *App) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Column string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validColumn(body.Column) {
		writeJSONError(w, http.StatusBadRequest, "invalid column")
		return
	}
	if err := a.Store.MoveTask(r.Context(), r.PathValue("id"), body.Column); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func validColumn(column string) bool {
	switch column {
	case models.ColumnBacklog, models.ColumnInProgress, models.ColumnWaitingApproval,
		models.ColumnVerified, models.ColumnCancelled:
		return true
	}
	return false
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, s.API())
}
