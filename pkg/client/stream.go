package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/agentdevsl/claudorc/pkg/models"
)

// ConnState describes the subscription's connection lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// SubscribeOptions configures a stream subscription. OnEvent is required;
// the rest are optional.
type SubscribeOptions struct {
	// From is the first offset to deliver. Replay starts there; 0 replays
	// the whole stream.
	From int64

	// OnEvent receives every event in offset order, exactly once per offset.
	// Optional when Handlers is set.
	OnEvent func(ev models.StreamEvent)

	// Handlers routes events to typed per-type callbacks after schema
	// validation. Payloads failing validation are logged and dropped.
	Handlers *Handlers

	// OnConnect fires each time a connection is established.
	OnConnect func()

	// OnDisconnect fires when an established connection drops.
	OnDisconnect func(err error)

	// OnReconnect fires when a new connection resumes after events were
	// already delivered, with the offset resumed from.
	OnReconnect func(from int64)

	// OnStateChange observes every lifecycle transition.
	OnStateChange func(state ConnState)

	// InitialDelay, MaxDelay, and Multiplier shape the reconnect backoff:
	// delay = min(InitialDelay * Multiplier^(attempts-1), MaxDelay).
	// Zero values use 500ms, 30s, and 2.0.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Subscription is a live stream subscription. Unsubscribe is idempotent and
// safe to call from any goroutine.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      ConnState
	lastOffset int64
	delivered  bool
}

// State returns the current connection state.
func (s *Subscription) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOffset returns the highest offset delivered so far, or -1 before the
// first event.
func (s *Subscription) LastOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.delivered {
		return -1
	}
	return s.lastOffset
}

// Unsubscribe tears the connection down and stops any pending reconnect.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe opens a WebSocket subscription to a stream and keeps it alive
// with exponential-backoff reconnects. After a drop it resumes from the
// offset after the last delivered event, so a consumer sees every offset
// exactly once regardless of how many reconnects happen underneath.
func (c *Client) Subscribe(ctx context.Context, streamID string, opts SubscribeOptions) (*Subscription, error) {
	if opts.OnEvent == nil && opts.Handlers == nil {
		return nil, fmt.Errorf("subscribe %s: OnEvent or Handlers is required", streamID)
	}
	wsURL, err := c.streamWSURL(streamID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	go sub.run(ctx, wsURL, c.APIKey, opts)
	return sub, nil
}

func (c *Client) streamWSURL(streamID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("base url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/streams/" + url.PathEscape(streamID) + "/ws"
	return u.String(), nil
}

func (s *Subscription) setState(state ConnState, opts SubscribeOptions) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && opts.OnStateChange != nil {
		opts.OnStateChange(state)
	}
}

// nextFrom returns the offset to request on the next dial.
func (s *Subscription) nextFrom(initial int64) (from int64, resumed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.delivered {
		return initial, false
	}
	return s.lastOffset + 1, true
}

func (s *Subscription) run(ctx context.Context, wsURL, apiKey string, opts SubscribeOptions) {
	defer close(s.done)
	defer s.setState(StateDisconnected, opts)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	bo := newBackOff(opts)

	firstAttempt := true
	for {
		if ctx.Err() != nil {
			return
		}
		if firstAttempt {
			s.setState(StateConnecting, opts)
		} else {
			s.setState(StateReconnecting, opts)
		}

		from, resumed := s.nextFrom(opts.From)
		established, err := s.runConn(ctx, dialer, wsURL, apiKey, from, resumed, opts)
		if ctx.Err() != nil {
			return
		}
		if err == errStreamEnded {
			return
		}
		if established {
			// A successful connection resets the backoff clock.
			bo.Reset()
		}
		firstAttempt = false

		delay := bo.NextBackOff()
		slog.Debug("stream subscription dropped, reconnecting", "url", wsURL, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

var errStreamEnded = fmt.Errorf("stream ended")

// newBackOff builds the reconnect schedule
// delay = min(InitialDelay * Multiplier^(attempts-1), MaxDelay),
// filling unset knobs with 500ms, 30s, and 2.0.
func newBackOff(opts SubscribeOptions) *backoff.ExponentialBackOff {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 1 {
		opts.Multiplier = 2.0
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialDelay
	bo.MaxInterval = opts.MaxDelay
	bo.Multiplier = opts.Multiplier
	bo.MaxElapsedTime = 0 // retry until unsubscribed
	bo.Reset()
	return bo
}

// runConn dials once and pumps events until the connection drops or the
// server closes the stream. A healthy read resets the backoff clock.
func (s *Subscription) runConn(ctx context.Context, dialer *websocket.Dialer, wsURL, apiKey string, from int64, resumed bool, opts SubscribeOptions) (bool, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("X-API-Key", apiKey)
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL+"?from="+strconv.FormatInt(from, 10), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			// The stream may not exist yet (or was deleted); keep retrying,
			// the caller decides when to give up via Unsubscribe.
			return false, fmt.Errorf("dial: stream not found")
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.setState(StateConnected, opts)
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	if resumed && opts.OnReconnect != nil {
		opts.OnReconnect(from)
	}

	// Close the socket when the subscription is cancelled so ReadJSON
	// unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	connected := true
	disconnect := func(err error) {
		if connected && opts.OnDisconnect != nil && ctx.Err() == nil {
			opts.OnDisconnect(err)
		}
		connected = false
	}

	for {
		var ev models.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				disconnect(nil)
				return true, errStreamEnded
			}
			disconnect(err)
			return true, fmt.Errorf("read: %w", err)
		}
		if !validEvent(ev) {
			slog.Warn("dropping malformed stream event", "offset", ev.Offset, "type", ev.Type)
			continue
		}

		s.mu.Lock()
		if s.delivered && ev.Offset <= s.lastOffset {
			// Duplicate from an overlapping replay; already delivered.
			s.mu.Unlock()
			continue
		}
		s.lastOffset = ev.Offset
		s.delivered = true
		s.mu.Unlock()

		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		if opts.Handlers != nil {
			if err := opts.Handlers.route(ev); err != nil {
				slog.Warn("dropping invalid stream payload",
					"offset", ev.Offset, "type", ev.Type, "err", err)
			}
		}
	}
}

func validEvent(ev models.StreamEvent) bool {
	if ev.Offset < 0 || ev.Type == "" || ev.ID == "" {
		return false
	}
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		return false
	}
	return true
}
