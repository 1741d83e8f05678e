// Package memory provides an in-process login-code store. Expiry is checked
// lazily on Take; development-only, codes do not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	id "entitle/pkg/domain"
	"entitle/pkg/platform/sentinel"

	"entitle/internal/authcode"
)

type entry struct {
	userID    id.UserID
	expiresAt time.Time
}

// Store keeps codes in a mutex-guarded map.
type Store struct {
	mu    sync.Mutex
	codes map[string]entry
	clock func() time.Time
}

// New builds an empty Store.
func New() *Store {
	return &Store{codes: make(map[string]entry), clock: time.Now}
}

// NewWithClock builds a Store with an injected clock for tests.
func NewWithClock(clock func() time.Time) *Store {
	return &Store{codes: make(map[string]entry), clock: clock}
}

var _ authcode.CodeStore = (*Store)(nil)

func (s *Store) Put(_ context.Context, code string, userID id.UserID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = entry{userID: userID, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *Store) Take(_ context.Context, code string) (id.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.codes[code]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	delete(s.codes, code)
	if s.clock().After(e.expiresAt) {
		return 0, sentinel.ErrExpired
	}
	return e.userID, nil
}
