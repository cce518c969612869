// Package inmemory provides a map-backed history store.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/papercomputeco/tether/pkg/history"
)

// Store implements history.Store using an in-memory map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*history.Record
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*history.Record),
	}
}

// Put stores a copy of r.
func (s *Store) Put(_ context.Context, r *history.Record) error {
	if r == nil {
		return errors.New("cannot store nil record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.records[r.ID] = &cp
	return nil
}

// Conversation returns the records of one conversation, oldest first.
func (s *Store) Conversation(_ context.Context, conversationID string) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*history.Record
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	if len(out) == 0 {
		return nil, history.NotFoundError{ConversationID: conversationID}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*history.Record, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ history.Store = (*Store)(nil)
