// Package stream implements the durable event stream: an in-process,
// append-only, offset-addressable event log per stream id with live
// subscriber fan-out and offset-based replay.
//
// Offsets are zero-based, assigned by the store at append time, strictly
// increasing with no gaps. Within one stream, the replay-then-live sequence
// observed by any subscriber is exactly the global append order.
package stream

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/agentdevsl/claudorc/internal/store"
)

// ErrNotFound is returned when a stream id has never been created. It
// distinguishes "no such stream" from "empty stream".
var ErrNotFound = errors.New("stream: not found")

// Event is one stored stream event.
type Event struct {
	Offset    int64           `json:"offset"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Metadata describes a stream (event count + creation time).
type Metadata struct {
	EventCount int64     `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func newEvent(offset int64, eventType string, data any) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{
		Offset:    offset,
		ID:        store.NewID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}
