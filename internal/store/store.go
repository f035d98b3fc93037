// Package store keeps a bounded, ordered history of feed captures.
package store

import (
	"context"
	"sync"

	"gridcal/internal/model"
)

// DefaultRetention is the number of captures kept when none is configured;
// two is the minimum needed for change detection.
const DefaultRetention = 2

// Store is a bounded capture history. Latest returns captures oldest first.
type Store interface {
	Append(ctx context.Context, c model.Capture) error
	Latest(ctx context.Context, n int) ([]model.Capture, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu        sync.Mutex
	retention int
	captures  []model.Capture
}

// NewMemory creates an empty Memory store keeping at most retention captures.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{retention: retention}
}

func (m *Memory) Append(ctx context.Context, c model.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = rotate(append(m.captures, c), m.retention)
	return nil
}

func (m *Memory) Latest(ctx context.Context, n int) ([]model.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.captures, n), nil
}

// rotate drops the oldest captures beyond retention.
func rotate(cs []model.Capture, retention int) []model.Capture {
	if len(cs) <= retention {
		return cs
	}
	out := make([]model.Capture, retention)
	copy(out, cs[len(cs)-retention:])
	return out
}

// tail copies the last n captures.
func tail(cs []model.Capture, n int) []model.Capture {
	if n <= 0 || len(cs) == 0 {
		return []model.Capture{}
	}
	if n > len(cs) {
		n = len(cs)
	}
	out := make([]model.Capture, n)
	copy(out, cs[len(cs)-n:])
	return out
}
