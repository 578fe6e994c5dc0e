package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/course-checks/internal/platform/cache"
)

// RedisStore keeps page sessions in Redis (or Dragonfly) as JSON values.
// The TTL is refreshed on every save. Save is a WATCH/MULTI check-and-set on
// the session version, so replicas sharing one Redis never overwrite each
// other's changes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Create(ctx context.Context, s PageSession) (string, error) {
	s.ID = newID()
	s.Version = 1
	now := time.Now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	data, err := r.encode(&s, now)
	if err != nil {
		return "", err
	}
	ok, err := r.client.SetNX(ctx, redisKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("create session: id collision %s", s.ID)
	}
	return s.ID, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (PageSession, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PageSession{}, ErrNotFound
	}
	if err != nil {
		return PageSession{}, fmt.Errorf("get session: %w", err)
	}
	var s PageSession
	if err := json.Unmarshal(data, &s); err != nil {
		return PageSession{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s PageSession) error {
	key := redisKey(s.ID)
	expected := s.Version
	s.Version++
	data, err := r.encode(&s, time.Now())
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode session %s: %w", s.ID, err)
		}
		if cur.Version != expected {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return fmt.Errorf("save session: %w", err)
	}
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) encode(s *PageSession, now time.Time) ([]byte, error) {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(r.ttl)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func redisKey(id string) string {
	return cache.Key("session", id)
}
