package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3580", "")
	if c.BaseURL != "http://localhost:3580" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:3580", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ok, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestErrorBodySurfacesKindAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"concurrency limit reached","kind":"LIMIT_EXCEEDED"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.StartAgent(context.Background(), "ag-1", "")
	if err == nil {
		t.Fatal("expected error from 429")
	}
	for _, want := range []string{"LIMIT_EXCEEDED", "concurrency limit reached"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "mykey")
	_, _ = c.Health(context.Background())
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestStartAgentOmitsEmptyTaskID(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.StartAgent(context.Background(), "ag-1", ""); err != nil {
		t.Fatalf("StartAgent: %v", err)
	}
	if _, ok := body["task_id"]; ok {
		t.Errorf("task_id should be omitted when empty: %v", body)
	}
}

func TestStreamEventsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streams/st-1/events" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("from"); got != "5" {
			t.Errorf("from: %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[{"offset":5,"id":"ev-5","type":"chunk","timestamp":"2026-01-01T00:00:00Z"}],"next_offset":6}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	events, next, err := c.StreamEvents(context.Background(), "st-1", 5, 10)
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if len(events) != 1 || events[0].Offset != 5 || next != 6 {
		t.Errorf("events=%v next=%d", events, next)
	}
}
