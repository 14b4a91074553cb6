package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdevsl/claudorc/internal/stream"
	"github.com/agentdevsl/claudorc/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon is a local tool; a browser UI runs on another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

func (a *App) handleStreamMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	md, err := a.Streams.GetStreamMetadata(id)
	if errors.Is(err, stream.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such stream")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, models.StreamMetadata{
		StreamID:   id,
		EventCount: md.EventCount,
		CreatedAt:  md.CreatedAt,
	})
}

// handleStreamEvents serves stored history only: bounded pagination for
// polling and export, no live tail.
func (a *App) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > models.DefaultStreamPageLimit {
		limit = models.DefaultStreamPageLimit
	}
	events, err := a.Streams.GetEvents(r.PathValue("id"), from, limit)
	if errors.Is(err, stream.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such stream")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.StreamEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, toWire(ev))
	}
	writeJSON(w, map[string]any{
		"events":      out,
		"next_offset": from + int64(len(out)),
	})
}

func toWire(ev stream.Event) models.StreamEvent {
	return models.StreamEvent{
		Offset:    ev.Offset,
		ID:        ev.ID,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
}

// handleStreamWS upgrades to a WebSocket and pushes the replay-then-live
// sequence from the `from` offset. The read side only watches for close.
func (a *App) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)

	events, cancel, err := a.Streams.Subscribe(r.Context(), id, from)
	if errors.Is(err, stream.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such stream")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "stream", id, "err", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: consume control frames and unblock on client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(toWire(ev)); err != nil {
				slog.Debug("websocket write failed", "stream", id, "err", err)
				return
			}
		}
	}
}

// handleStreamSSE serves the same sequence as the WebSocket path over
// Server-Sent Events. Resume uses Last-Event-ID (the last seen offset) or
// the `from` query parameter; event ids carry offsets so EventSource
// reconnects resume on its own.
func (a *App) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := r.PathValue("id")
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if offset, err := strconv.ParseInt(last, 10, 64); err == nil {
			from = offset + 1
		}
	}

	events, cancel, err := a.Streams.Subscribe(r.Context(), id, from)
	if errors.Is(err, stream.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such stream")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_, _ = fmt.Fprintf(w, ": connected stream=%s\n\n", id)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(toWire(ev))
			if err != nil {
				slog.Error("sse encode failed", "stream", id, "err", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: ", ev.Offset, ev.Type)
			_, _ = w.Write(payload)
			_, _ = fmt.Fprint(w, "\n\n")
			flusher.Flush()
		}
	}
}
