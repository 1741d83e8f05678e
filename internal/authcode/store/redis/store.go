// Package redis backs the login-code store with Redis so codes survive a
// restart and replicas share one code space. GETDEL makes redemption atomic
// across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	id "entitle/pkg/domain"
	"entitle/pkg/platform/sentinel"

	"entitle/internal/authcode"
	"entitle/internal/platform/redis"
)

const keyPrefix = "authcode:"

// Store keeps codes as prefixed string keys with a server-side TTL.
type Store struct {
	client *redis.Client
}

// New builds the Redis-backed code store.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

var _ authcode.CodeStore = (*Store)(nil)

func (s *Store) Put(ctx context.Context, code string, userID id.UserID, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+code, int64(userID), ttl).Err(); err != nil {
		return fmt.Errorf("set login code: %w", err)
	}
	return nil
}

func (s *Store) Take(ctx context.Context, code string) (id.UserID, error) {
	raw, err := s.client.GetDel(ctx, keyPrefix+code).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get login code: %w", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse login code owner: %w", err)
	}
	return id.UserID(userID), nil
}
