package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in Redis so console replicas share one
// session space. Values are JSON with a server-side TTL; Redis evicting or
// mangling an entry therefore degrades to "no session", never to an error
// the UI has to care about.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

const defaultRedisKeyPrefix = "console:session:"

func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	const op = "auth.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrNilParameter)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	return &RedisStore{
		client:    client,
		ttl:       ttl,
		keyPrefix: defaultRedisKeyPrefix,
	}, nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	const op = "auth.RedisStore.Load"
	raw, err := r.client.Get(ctx, r.keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
		}
		return nil, fmt.Errorf("%s: redis get: %w", op, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// Corrupt entries read as absent. The key stays in place until
		// the next explicit Save or Delete for this ID.
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	const op = "auth.RedisStore.Save"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if s.ID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: marshal session: %w", op, err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+s.ID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: redis set: %w", op, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	const op = "auth.RedisStore.Delete"
	if err := r.client.Del(ctx, r.keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%s: redis del: %w", op, err)
	}
	return nil
}
