package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdevsl/claudorc/pkg/models"
)

// wsServer serves a fixed event log over /streams/{id}/ws and can be told
// to cut each connection after n events, forcing the client to reconnect.
type wsServer struct {
	t *testing.T

	mu         sync.Mutex
	events     []models.StreamEvent
	dropAfter  int // 0 means serve everything then close normally
	dials      int
	firstFroms []int64
}

func newWSServer(t *testing.T, count int) *wsServer {
	s := &wsServer{t: t}
	for i := 0; i < count; i++ {
		s.events = append(s.events, models.StreamEvent{
			Offset:    int64(i),
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      "chunk",
			Timestamp: time.Now().UTC(),
			Data:      json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return s
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *wsServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/streams/missing/ws" {
			http.Error(w, `{"error":"no such stream"}`, http.StatusNotFound)
			return
		}
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)

		s.mu.Lock()
		s.dials++
		s.firstFroms = append(s.firstFroms, from)
		events := s.events
		dropAfter := s.dropAfter
		s.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sent := 0
		for _, ev := range events {
			if ev.Offset < from {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			sent++
			if dropAfter > 0 && sent >= dropAfter {
				// Abrupt close, no close frame.
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
			time.Now().Add(time.Second))
	})
}

func collect(t *testing.T, got *[]int64, mu *sync.Mutex, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*got)
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("timed out: got %d events, want %d: %v", len(*got), want, *got)
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	ws := newWSServer(t, 5)
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	var mu sync.Mutex
	var got []int64
	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		OnEvent: func(ev models.StreamEvent) {
			mu.Lock()
			got = append(got, ev.Offset)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	collect(t, &got, &mu, 5, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	for i, off := range got {
		if off != int64(i) {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestSubscribeReconnectResumesFromLastOffset(t *testing.T) {
	ws := newWSServer(t, 6)
	ws.dropAfter = 2
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	var mu sync.Mutex
	var got []int64
	var reconnects []int64
	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		OnEvent: func(ev models.StreamEvent) {
			mu.Lock()
			got = append(got, ev.Offset)
			mu.Unlock()
		},
		OnReconnect: func(from int64) {
			mu.Lock()
			reconnects = append(reconnects, from)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	collect(t, &got, &mu, 6, 5*time.Second)
	mu.Lock()
	defer mu.Unlock()
	for i, off := range got {
		if off != int64(i) {
			t.Fatalf("gap or duplicate at %d: %v", i, got)
		}
	}
	if len(reconnects) == 0 {
		t.Fatal("expected at least one reconnect")
	}
	// Each reconnect must ask for the offset after the last delivered one.
	if reconnects[0] != 2 {
		t.Errorf("first resume offset: got %d want 2", reconnects[0])
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.dials < 2 {
		t.Errorf("dials: %d", ws.dials)
	}
}

func TestSubscribeDropsDuplicates(t *testing.T) {
	// Server ignores `from` and always replays from zero: the client must
	// still deliver each offset once.
	events := newWSServer(t, 4)
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		first := atomic.AddInt32(&dials, 1) == 1
		for i, ev := range events.events {
			_ = conn.WriteJSON(ev)
			if first && i == 1 {
				return // drop mid-way, client reconnects and gets a full replay
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []int64
	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		InitialDelay: 10 * time.Millisecond,
		OnEvent: func(ev models.StreamEvent) {
			mu.Lock()
			got = append(got, ev.Offset)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	collect(t, &got, &mu, 4, 5*time.Second)
	mu.Lock()
	defer mu.Unlock()
	seen := map[int64]bool{}
	for _, off := range got[:4] {
		if seen[off] {
			t.Fatalf("duplicate offset %d: %v", off, got)
		}
		seen[off] = true
	}
}

func TestSubscribeSkipsMalformedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Missing id and type: must be dropped, not delivered.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"offset":0}`))
		_ = conn.WriteJSON(models.StreamEvent{Offset: 0, ID: "ev-0", Type: "chunk", Timestamp: time.Now()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []int64
	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		OnEvent: func(ev models.StreamEvent) {
			mu.Lock()
			got = append(got, ev.Offset)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	collect(t, &got, &mu, 1, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("got %v, want exactly [0]", got)
	}
}

func TestSubscribeEndsOnNormalClose(t *testing.T) {
	ws := newWSServer(t, 2)
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	var mu sync.Mutex
	var got []int64
	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		OnEvent: func(ev models.StreamEvent) {
			mu.Lock()
			got = append(got, ev.Offset)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after normal close")
	}
	if sub.State() != StateDisconnected {
		t.Errorf("state: %s", sub.State())
	}
	if sub.LastOffset() != 1 {
		t.Errorf("last offset: %d", sub.LastOffset())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ws := newWSServer(t, 1000)
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	c := New(srv.URL, "")
	sub, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{
		OnEvent: func(models.StreamEvent) {},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
	if sub.State() != StateDisconnected {
		t.Errorf("state after unsubscribe: %s", sub.State())
	}
}

func TestBackOffFollowsConfiguredMultiplier(t *testing.T) {
	bo := newBackOff(SubscribeOptions{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   3,
	})
	bo.RandomizationFactor = 0 // deterministic for the assertion
	bo.Reset()

	want := []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		time.Second, // capped
		time.Second,
	}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Fatalf("delay %d: got %v, want %v", i, got, w)
		}
	}
}

func TestBackOffDefaults(t *testing.T) {
	bo := newBackOff(SubscribeOptions{})
	if bo.InitialInterval != 500*time.Millisecond || bo.MaxInterval != 30*time.Second || bo.Multiplier != 2.0 {
		t.Fatalf("defaults: initial=%v max=%v multiplier=%v", bo.InitialInterval, bo.MaxInterval, bo.Multiplier)
	}
}

func TestSubscribeRequiresOnEvent(t *testing.T) {
	c := New("http://localhost:0", "")
	if _, err := c.Subscribe(context.Background(), "st-1", SubscribeOptions{}); err == nil {
		t.Fatal("expected error without OnEvent")
	}
}
