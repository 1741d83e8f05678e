package memory

import (
	"context"
	"sync"

	"entitle/internal/audit"
)

// Store keeps the ledger in memory for tests and development. Appends are
// ordered; nothing is ever updated or removed.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) List(_ context.Context, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, event := range s.events {
		if !filter.RequestID.IsNil() && event.RequestID != filter.RequestID {
			continue
		}
		if !filter.ActorID.IsNil() && event.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && event.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && event.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.Until.IsZero() && event.CreatedAt.After(filter.Until) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
