package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdevsl/claudorc/internal/otel"
)

// Store holds all streams for the lifetime of the process. Streams are
// auto-created on first publish; there is no eviction.
type Store struct {
	mu      sync.RWMutex
	streams map[string]*state
}

type state struct {
	mu        sync.Mutex
	createdAt time.Time
	events    []Event
	subs      map[uint64]*subscriber
	nextSubID uint64
}

// subscriber owns a private queue so a slow or stuck consumer cannot delay
// or drop delivery to any other subscriber, and the replay-then-live
// sequence stays gapless.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool
}

func (sub *subscriber) enqueue(ev Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) take() ([]Event, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	batch := sub.queue
	sub.queue = nil
	return batch, sub.closed
}

// NewStore returns an empty stream store.
func NewStore() *Store {
	return &Store{streams: make(map[string]*state)}
}

// CreateStream creates a stream if it does not exist. Creating an existing
// stream id is a no-op, not an error.
func (s *Store) CreateStream(id string) {
	s.getOrCreate(id)
}

func (s *Store) getOrCreate(id string) *state {
	s.mu.RLock()
	st, ok := s.streams[id]
	s.mu.RUnlock()
	if ok {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[id]; ok {
		return st
	}
	st = &state{
		createdAt: time.Now().UTC(),
		subs:      make(map[uint64]*subscriber),
	}
	s.streams[id] = st
	return st
}

func (s *Store) lookup(id string) (*state, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return st, ok
}

// Publish appends an event with the next offset for the stream,
// auto-creating the stream if absent, then notifies every live subscriber.
// Append and offset assignment happen under the stream lock, so no two
// publishes to the same stream can share an offset and every subscriber
// queue receives events in append order.
func (s *Store) Publish(id, eventType string, data any) (Event, error) {
	st := s.getOrCreate(id)

	st.mu.Lock()
	ev, err := newEvent(int64(len(st.events)), eventType, data)
	if err != nil {
		st.mu.Unlock()
		slog.Error("stream publish: encode event failed", "stream", id, "type", eventType, "err", err)
		return Event{}, err
	}
	st.events = append(st.events, ev)
	for _, sub := range st.subs {
		sub.enqueue(ev)
	}
	st.mu.Unlock()

	otel.RecordStreamEvent(context.Background(), eventType)
	return ev, nil
}

// Subscribe returns a channel that first replays all stored events at or
// after fromOffset, then yields each subsequently published event in
// arrival order, with no duplicates and no omissions. It fails fast with
// ErrNotFound if the stream id has never been created. The returned cancel
// function deregisters the subscriber and closes the channel; cancelling
// (or ctx expiry) is required to avoid a leak.
func (s *Store) Subscribe(ctx context.Context, id string, fromOffset int64) (<-chan Event, func(), error) {
	st, ok := s.lookup(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	if fromOffset < 0 {
		fromOffset = 0
	}

	sub := &subscriber{wake: make(chan struct{}, 1)}

	st.mu.Lock()
	if fromOffset < int64(len(st.events)) {
		sub.queue = append(sub.queue, st.events[fromOffset:]...)
	}
	subID := st.nextSubID
	st.nextSubID++
	st.subs[subID] = sub
	st.mu.Unlock()

	otel.AddStreamSubscriber()

	out := make(chan Event)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, subID)
			st.mu.Unlock()
			sub.close()
			otel.RemoveStreamSubscriber()
		})
	}

	go func() {
		defer close(out)
		for {
			batch, closed := sub.take()
			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					cancel()
					return
				}
			}
			if closed {
				return
			}
			select {
			case <-sub.wake:
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return out, cancel, nil
}

// GetEvents returns stored history only (no blocking, no live tail), for
// polling and export paths. fromOffset is clamped to [0, count]; limit <= 0
// means no limit.
func (s *Store) GetEvents(id string, fromOffset int64, limit int) ([]Event, error) {
	st, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if fromOffset < 0 {
		fromOffset = 0
	}
	if fromOffset >= int64(len(st.events)) {
		return nil, nil
	}
	tail := st.events[fromOffset:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]Event, len(tail))
	copy(out, tail)
	return out, nil
}

// DeleteStream removes a stream and ends all of its live subscriptions.
// Deleting an unknown stream is a no-op.
func (s *Store) DeleteStream(id string) {
	s.mu.Lock()
	st, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	subs := st.subs
	st.subs = make(map[uint64]*subscriber)
	st.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// HasStream reports whether the stream id exists.
func (s *Store) HasStream(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// CurrentOffset returns the stored event count for the stream (the offset
// the next published event will receive).
func (s *Store) CurrentOffset(id string) (int64, error) {
	st, ok := s.lookup(id)
	if !ok {
		return 0, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.events)), nil
}

// GetStreamMetadata returns the stream's event count and creation time.
func (s *Store) GetStreamMetadata(id string) (Metadata, error) {
	st, ok := s.lookup(id)
	if !ok {
		return Metadata{}, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return Metadata{EventCount: int64(len(st.events)), CreatedAt: st.createdAt}, nil
}
