package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	require := require.New(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, ttl)
	require.NoError(err)
	return store, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := NewRedisStore(nil, time.Hour)
	assert.ErrorIs(err, ErrNilParameter)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = NewRedisStore(client, 0)
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("save-load-delete", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store, _ := testRedisStore(t, time.Hour)

		s := &Session{
			ID:          "s_1",
			AccessToken: "at",
			Expiry:      time.Now().Add(time.Hour).UTC(),
			Claims:      Claims{Subject: "sub", Email: "admin@example.com"},
		}
		require.NoError(store.Save(ctx, s))

		got, err := store.Load(ctx, "s_1")
		require.NoError(err)
		assert.Equal(s.AccessToken, got.AccessToken)
		assert.Equal(s.Claims.Subject, got.Claims.Subject)
		assert.True(s.Expiry.Equal(got.Expiry))

		require.NoError(store.Delete(ctx, "s_1"))
		_, err = store.Load(ctx, "s_1")
		assert.ErrorIs(err, ErrNoSession)
	})
	t.Run("ttl-eviction-reads-as-absent", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store, mr := testRedisStore(t, time.Minute)

		require.NoError(store.Save(ctx, &Session{ID: "s_1", AccessToken: "at"}))
		mr.FastForward(2 * time.Minute)

		_, err := store.Load(ctx, "s_1")
		assert.ErrorIs(err, ErrNoSession)
	})
	t.Run("corrupt-value-reads-as-absent", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store, mr := testRedisStore(t, time.Hour)

		require.NoError(mr.Set(defaultRedisKeyPrefix+"s_1", "not json"))
		_, err := store.Load(ctx, "s_1")
		assert.ErrorIs(err, ErrNoSession)
	})
	t.Run("save-invalid", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		store, _ := testRedisStore(t, time.Hour)
		assert.ErrorIs(store.Save(ctx, nil), ErrNilParameter)
		assert.ErrorIs(store.Save(ctx, &Session{}), ErrInvalidParameter)
	})
}
