// Package session manages the observable channel for an agent run: a
// persisted session row paired with a durable event stream keyed by the
// session id.
package session

import (
	"context"
	"log/slog"

	"github.com/agentdevsl/claudorc/internal/store"
	"github.com/agentdevsl/claudorc/internal/stream"
)

// Service creates, closes, and publishes onto sessions. The stream is
// created eagerly with the row so subscribers can attach before the first
// event arrives.
type Service struct {
	store   store.Store
	streams *stream.Store
}

// NewService builds a session service over the given persistence and
// stream stores.
func NewService(st store.Store, streams *stream.Store) *Service {
	return &Service{store: st, streams: streams}
}

// Open creates a session row and its stream. The returned session id is
// the stream id.
func (s *Service) Open(ctx context.Context, projectID, taskID, agentID, title string) (store.Session, error) {
	sess, err := s.store.CreateSession(ctx, projectID, taskID, agentID, title)
	if err != nil {
		return store.Session{}, err
	}
	s.streams.CreateStream(sess.SessionID)
	return sess, nil
}

// Publish appends one event to the session's stream. Publish failures are
// logged, not propagated: a malformed payload must not abort the run that
// produced it.
func (s *Service) Publish(sessionID, eventType string, data any) {
	if _, err := s.streams.Publish(sessionID, eventType, data); err != nil {
		slog.Error("session publish failed", "session", sessionID, "type", eventType, "err", err)
	}
}

// Close marks the session row closed. The stream and its stored events
// stay addressable for the rest of the process lifetime so late consumers
// can still replay.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	return s.store.CloseSession(ctx, sessionID)
}

// Streams exposes the underlying stream store for subscription paths.
func (s *Service) Streams() *stream.Store {
	return s.streams
}
