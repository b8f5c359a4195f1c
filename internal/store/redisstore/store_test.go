package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/store/redisstore"
	"github.com/victornm/quizxp/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return makeStore(t, miniredis.RunT(t))
	})
}

func TestStore_IndexKeys(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	s := makeStore(t, rs)

	ref := store.Doc("users", "u1")
	require.NoError(t, s.Set(ctx, ref, store.Fields{"xp": 42, "username": "alice"}, false))

	assert.True(t, rs.Exists("test:doc:users/u1"))
	score, err := rs.ZScore("test:idx:users:xp", "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(42), score)
	assert.False(t, rs.Exists("test:idx:users:username"), "strings are not indexed")

	// Replacing the document without the field drops it from the index.
	require.NoError(t, s.Set(ctx, ref, store.Fields{"username": "alice"}, false))
	assert.False(t, rs.Exists("test:idx:users:xp"))
}

func TestStore_CreateKeepsCreateTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	rs := miniredis.RunT(t)
	s := redisstore.New(redisstore.Config{
		Redis:  newClient(t, rs),
		Prefix: "test",
		Clock:  func() time.Time { return now },
	})

	ref := store.Doc("users", "u1")
	require.NoError(t, s.Create(ctx, ref, store.Fields{"xp": 1}))

	now = now.Add(time.Hour)
	require.NoError(t, s.Set(ctx, ref, store.Fields{"xp": 2}, true))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC), d.CreateTime.UTC())
	assert.Equal(t, time.Date(2024, time.March, 4, 1, 0, 0, 0, time.UTC), d.UpdateTime.UTC())
}

func TestStore_TransactionConflictRetries(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	s := makeStore(t, rs)
	other := newClient(t, rs)
	ref := store.Doc("users", "u1")
	require.NoError(t, s.Set(ctx, ref, store.Fields{"xp": 1}, false))

	calls := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		calls++
		d, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}

		if calls == 1 {
			// A writer outside the transaction invalidates the watched key.
			if err := other.Set(ctx, "test:doc:users/u1", `{"fields":{"xp":100}}`, 0).Err(); err != nil {
				return err
			}
		}

		return tx.Set(ref, store.Fields{"xp": d.Int("xp") + 1}, true)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(101), d.Int("xp"))
}

func TestStore_TransactionExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	s := redisstore.New(redisstore.Config{Redis: newClient(t, rs), Prefix: "test", MaxAttempts: 2})
	other := newClient(t, rs)
	ref := store.Doc("users", "u1")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Get(ctx, ref); err != nil && !store.IsNotFound(err) {
			return err
		}
		if err := other.Set(ctx, "test:doc:users/u1", `{"fields":{"xp":100}}`, 0).Err(); err != nil {
			return err
		}
		return tx.Set(ref, store.Fields{"xp": 1}, true)
	})
	require.ErrorIs(t, err, store.ErrTxFailed)
}

func makeStore(t *testing.T, rs *miniredis.Miniredis) *redisstore.Store {
	return redisstore.New(redisstore.Config{
		Redis:  newClient(t, rs),
		Prefix: "test",
	})
}

func newClient(t *testing.T, rs *miniredis.Miniredis) redis.UniversalClient {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}
