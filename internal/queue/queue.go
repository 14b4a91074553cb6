// Package queue reserves the contract for a prioritized work queue. The
// subsystem is a stub: every operation reports ErrNotImplemented, and the
// HTTP layer surfaces that as 501. Scheduling today is direct (newest
// backlog task first); this contract exists so callers bind to a stable
// shape before the real queue lands.
package queue

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by every queue operation.
var ErrNotImplemented = errors.New("queue: not implemented")

// Item is a queued unit of work.
type Item struct {
	TaskID   string `json:"task_id"`
	Priority int    `json:"priority"`
}

// Queue is the future prioritized scheduler contract.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context, projectID string) (Item, error)
	Len(ctx context.Context, projectID string) (int, error)
}

// Stub satisfies Queue and refuses every call.
type Stub struct{}

func (Stub) Enqueue(ctx context.Context, item Item) error { return ErrNotImplemented }

func (Stub) Dequeue(ctx context.Context, projectID string) (Item, error) {
	return Item{}, ErrNotImplemented
}

func (Stub) Len(ctx context.Context, projectID string) (int, error) { return 0, ErrNotImplemented }
