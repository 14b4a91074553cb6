// Package httpapi serves the claudorc REST API plus the stream transports
// (WebSocket and SSE) over one listener.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentdevsl/claudorc/internal/orchestrator"
	"github.com/agentdevsl/claudorc/internal/queue"
	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/internal/stream"
	"github.com/agentdevsl/claudorc/pkg/models"
)

// ServerOptions configures the HTTP server (listen addr, API key, metrics).
type ServerOptions struct {
	Addr           string
	APIKey         string       // if set, require X-API-Key header or query api_key
	MetricsHandler http.Handler // if set, used for /metrics (OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server and the components the handlers reach into.
type App struct {
	Server  *http.Server
	Store   store.Store
	Streams *stream.Store
	Orch    *orchestrator.Orchestrator
}

// NewApp wires all routes over the given store, stream store, and
// orchestrator, and returns the ready-to-listen app.
func NewApp(opts ServerOptions, st store.Store, streams *stream.Store, orch *orchestrator.Orchestrator) *App {
	app := &App{Store: st, Streams: streams, Orch: orch}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	// Projects
	mux.HandleFunc("GET /projects", app.handleListProjects)
	mux.HandleFunc("POST /projects", app.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}", app.handleGetProject)
	mux.HandleFunc("DELETE /projects/{id}", app.handleDeleteProject)
	mux.HandleFunc("GET /projects/{id}/agents", app.handleListAgents)
	mux.HandleFunc("POST /projects/{id}/agents", app.handleCreateAgent)
	mux.HandleFunc("GET /projects/{id}/tasks", app.handleListTasks)
	mux.HandleFunc("POST /projects/{id}/tasks", app.handleCreateTask)
	mux.HandleFunc("GET /projects/{id}/sessions", app.handleListSessions)

	// Agents
	mux.HandleFunc("GET /agents/{id}", app.handleGetAgent)
	mux.HandleFunc("GET /agents/{id}/runs", app.handleListRuns)
	mux.HandleFunc("POST /agents/{id}/start", app.handleStartAgent)
	mux.HandleFunc("POST /agents/{id}/stop", app.handleStopAgent)
	mux.HandleFunc("POST /agents/{id}/pause", app.handlePauseAgent)
	mux.HandleFunc("POST /agents/{id}/resume", app.handleResumeAgent)

	// Tasks and sessions
	mux.HandleFunc("GET /tasks/{id}", app.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/move", app.handleMoveTask)
	mux.HandleFunc("GET /sessions/{id}", app.handleGetSession)

	// Streams
	mux.HandleFunc("GET /streams/{id}", app.handleStreamMetadata)
	mux.HandleFunc("GET /streams/{id}/events", app.handleStreamEvents)
	mux.HandleFunc("GET /streams/{id}/ws", app.handleStreamWS)
	mux.HandleFunc("GET /streams/{id}/sse", app.handleStreamSSE)

	// Queue is a reserved contract; every verb answers 501.
	mux.HandleFunc("/queue/", app.handleQueue)
	mux.HandleFunc("/queue", app.handleQueue)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	handler = corsMiddleware(handler)
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "claudorc")
	}

	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Stream transports hold the response open; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return app
}

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read
// more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets permissive CORS headers so a local web UI on a
// different origin can talk to the daemon.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Debug("http request",
			"method", req.Method, "path", req.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeOrchestratorError maps the orchestrator's typed failures onto HTTP
// statuses. LIMIT_EXCEEDED carries the observed count and ceiling.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	if oe, ok := orchestrator.AsError(err); ok {
		body := map[string]any{"error": oe.Message, "kind": string(oe.Kind)}
		var code int
		switch oe.Kind {
		case orchestrator.KindNotFound:
			code = http.StatusNotFound
		case orchestrator.KindAlreadyRunning, orchestrator.KindNotRunning, orchestrator.KindNoAvailableTask:
			code = http.StatusConflict
		case orchestrator.KindLimitExceeded:
			code = http.StatusTooManyRequests
			body["running"] = oe.Running
			body["max"] = oe.Max
		default:
			code = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

// writeStoreError maps store lookups onto 404 vs 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func (a *App) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotImplemented, queue.ErrNotImplemented.Error())
}
