package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/agentdevsl/claudorc/internal/orchestrator"
	"github.com/agentdevsl/claudorc/internal/runner"
	"github.com/agentdevsl/claudorc/internal/session"
	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/internal/store/sqlite"
	"github.com/agentdevsl/claudorc/internal/stream"
	"github.com/agentdevsl/claudorc/pkg/models"
)

type testWorktrees struct{}

func (testWorktrees) Create(ctx context.Context, project store.Project, taskID string) (models.Worktree, error) {
	return models.Worktree{WorktreeID: store.NewID(), Path: "/tmp/wt-" + taskID, Branch: "claudorc/" + taskID}, nil
}

func (testWorktrees) Remove(ctx context.Context, w models.Worktree) error { return nil }

type testEnv struct {
	app     *App
	srv     *httptest.Server
	store   *sqlite.Store
	streams *stream.Store
	orch    *orchestrator.Orchestrator
}

func newTestEnv(t *testing.T, r runner.Runner) *testEnv {
	t.Helper()
	st, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	streams := stream.NewStore()
	if r == nil {
		r = runner.StubRunner{Steps: []runner.StubStep{{Tool: "edit_file", Tokens: 5}}}
	}
	orch := orchestrator.New(st, session.NewService(st, streams), testWorktrees{}, r, nil, orchestrator.Config{})
	app := NewApp(ServerOptions{}, st, streams, orch)
	srv := httptest.NewServer(app.Server.Handler)
	t.Cleanup(srv.Close)
	return &testEnv{app: app, srv: srv, store: st, streams: streams, orch: orch}
}

func (e *testEnv) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of POST %s: %v", path, err)
		}
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of GET %s: %v", path, err)
		}
	}
	return resp
}

func (e *testEnv) seedProject(t *testing.T) (models.Project, models.Agent, models.Task) {
	t.Helper()
	var p models.Project
	e.post(t, "/projects", map[string]any{"name": "proj", "path": "/tmp/proj"}, &p)
	var ag models.Agent
	e.post(t, "/projects/"+p.ProjectID+"/agents", map[string]any{"name": "worker"}, &ag)
	var tk models.Task
	e.post(t, "/projects/"+p.ProjectID+"/tasks", map[string]any{"title": "fix bug", "prompt": "fix it"}, &tk)
	return p, ag, tk
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	var body map[string]any
	resp := e.get(t, "/health", &body)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
}

func TestProjectLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	var p models.Project
	resp := e.post(t, "/projects", map[string]any{"name": "p1", "path": "/tmp/p1"}, &p)
	if resp.StatusCode != http.StatusOK || p.ProjectID == "" {
		t.Fatalf("create project: %d %+v", resp.StatusCode, p)
	}

	var got models.Project
	e.get(t, "/projects/"+p.ProjectID, &got)
	if got.Name != "p1" {
		t.Fatalf("get project: %+v", got)
	}

	var list []models.Project
	e.get(t, "/projects", &list)
	if len(list) != 1 {
		t.Fatalf("list projects: %+v", list)
	}

	if resp := e.get(t, "/projects/missing", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get missing project: %d", resp.StatusCode)
	}

	if resp := e.post(t, "/projects", map[string]any{"name": ""}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create invalid project: %d", resp.StatusCode)
	}
}

func TestStartAgentEndToEnd(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	_, ag, tk := e.seedProject(t)

	var res models.StartResult
	resp := e.post(t, "/agents/"+ag.AgentID+"/start", nil, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}
	if res.Task.TaskID != tk.TaskID || res.Session.SessionID == "" {
		t.Fatalf("start result: %+v", res)
	}

	e.orch.Wait()

	var gotTask models.Task
	e.get(t, "/tasks/"+tk.TaskID, &gotTask)
	if gotTask.Column != models.ColumnWaitingApproval {
		t.Fatalf("task after run: %+v", gotTask)
	}

	var runs []models.AgentRun
	e.get(t, "/agents/"+ag.AgentID+"/runs", &runs)
	if len(runs) != 1 || runs[0].Status != models.RunCompleted {
		t.Fatalf("runs: %+v", runs)
	}
}

func TestStartErrorsMapToStatusCodes(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	p, ag, _ := e.seedProject(t)

	// Unknown agent: 404.
	if resp := e.post(t, "/agents/missing/start", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing agent: %d", resp.StatusCode)
	}

	// Saturated project: 429 with running/max in the body.
	busy, _ := e.store.CreateAgent(context.Background(), p.ProjectID, "busy", "", 0)
	for i := 0; i < models.DefaultMaxConcurrentAgents; i++ {
		extra, _ := e.store.CreateAgent(context.Background(), p.ProjectID, fmt.Sprintf("x%d", i), "", 0)
		_ = e.store.UpdateAgentStatus(context.Background(), extra.AgentID, models.AgentRunning)
	}
	var limitBody map[string]any
	resp := e.post(t, "/agents/"+busy.AgentID+"/start", nil, &limitBody)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("saturated start: %d %v", resp.StatusCode, limitBody)
	}
	if limitBody["kind"] != string(orchestrator.KindLimitExceeded) || limitBody["max"] == nil {
		t.Fatalf("limit body: %v", limitBody)
	}

	// Non-idle agent: 409.
	_ = e.store.UpdateAgentStatus(context.Background(), ag.AgentID, models.AgentRunning)
	if resp := e.post(t, "/agents/"+ag.AgentID+"/start", nil, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("already running: %d", resp.StatusCode)
	}

	// Stop with no handle: 409.
	if resp := e.post(t, "/agents/"+busy.AgentID+"/stop", nil, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop not running: %d", resp.StatusCode)
	}
}

func TestQueueIsNotImplemented(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	if resp := e.post(t, "/queue/enqueue", map[string]any{"task_id": "t"}, nil); resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("queue: %d", resp.StatusCode)
	}
	if resp := e.get(t, "/queue", nil); resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("queue: %d", resp.StatusCode)
	}
}

func TestStreamEndpoints(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	if resp := e.get(t, "/streams/unknown", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stream metadata: %d", resp.StatusCode)
	}
	if resp := e.get(t, "/streams/unknown/events", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stream events: %d", resp.StatusCode)
	}

	e.streams.CreateStream("s1")
	for i := 0; i < 5; i++ {
		if _, err := e.streams.Publish("s1", models.EventChunk, map[string]int{"n": i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var md models.StreamMetadata
	e.get(t, "/streams/s1", &md)
	if md.StreamID != "s1" || md.EventCount != 5 {
		t.Fatalf("metadata: %+v", md)
	}

	var page struct {
		Events     []models.StreamEvent `json:"events"`
		NextOffset int64                `json:"next_offset"`
	}
	e.get(t, "/streams/s1/events?from=2&limit=2", &page)
	if len(page.Events) != 2 || page.Events[0].Offset != 2 || page.NextOffset != 4 {
		t.Fatalf("page: %+v", page)
	}
}

func TestStreamWebSocket(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	e.streams.CreateStream("s1")
	for i := 0; i < 3; i++ {
		_, _ = e.streams.Publish("s1", models.EventChunk, map[string]int{"n": i})
	}

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/streams/s1/ws?from=1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	defer conn.Close()

	// Replay from offset 1, then live tail.
	for _, want := range []int64{1, 2} {
		var ev models.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Offset != want {
			t.Fatalf("offset: got %d, want %d", ev.Offset, want)
		}
	}
	_, _ = e.streams.Publish("s1", models.EventChunk, map[string]int{"n": 3})
	var live models.StreamEvent
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Offset != 3 {
		t.Fatalf("live offset: %d", live.Offset)
	}

	// Unknown stream fails before the upgrade.
	badURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/streams/nope/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(badURL, nil); err == nil {
		t.Fatal("dial to unknown stream should fail")
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stream ws: %d", resp.StatusCode)
	}
}

func TestStreamSSEReplay(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	e.streams.CreateStream("s1")
	for i := 0; i < 3; i++ {
		_, _ = e.streams.Publish("s1", models.EventChunk, map[string]int{"n": i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/streams/s1/sse", nil)
	req.Header.Set("Last-Event-ID", "0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	// Read until both replayed events (offsets 1 and 2) have arrived.
	buf := make([]byte, 4096)
	var seen string
	for !strings.Contains(seen, "id: 2") {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatalf("sse read: %v (seen %q)", err, seen)
		}
		seen += string(buf[:n])
	}
	if strings.Contains(seen, "id: 0\n") {
		t.Fatalf("offset 0 should not replay after Last-Event-ID 0: %q", seen)
	}

	// Every frame must be complete: an id line, an event line, and a data
	// line carrying one valid JSON document. No partial frames on the wire.
	var ids, datas int
	for _, line := range strings.Split(seen, "\n") {
		switch {
		case strings.HasPrefix(line, "id: "):
			ids++
		case strings.HasPrefix(line, "data: "):
			datas++
			if !json.Valid([]byte(strings.TrimPrefix(line, "data: "))) {
				t.Fatalf("malformed data line: %q", line)
			}
		}
	}
	if ids == 0 || ids != datas {
		t.Fatalf("unbalanced frames: %d id lines, %d data lines: %q", ids, datas, seen)
	}
}
