package account_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/account"
	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/identity"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/store/redisstore"
)

type fixture struct {
	store      store.Store
	identities *identity.MemoryStore
	service    *account.Service
}

func makeFixture(t *testing.T) fixture {
	t.Helper()

	r := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	f := fixture{
		store:      redisstore.New(redisstore.Config{Redis: r, Prefix: "test"}),
		identities: identity.NewMemoryStore(),
	}
	f.service = account.NewService(account.Config{Store: f.store, Identities: f.identities})

	return f
}

func seedUser(t *testing.T, f fixture, uid, email string, friends, requests int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.identities.Create(ctx, identity.Identity{UID: uid, Email: email}))

	user := store.Doc(domain.CollectionUsers, uid)
	require.NoError(t, f.store.Set(ctx, user, store.Fields{"xp": 10, "username": uid}, false))

	for i := range friends {
		require.NoError(t, f.store.Set(ctx, store.Doc(user.Sub(domain.SubcollectionFriends), string(rune('a'+i))), store.Fields{"since": 1}, false))
	}

	for i := range requests {
		require.NoError(t, f.store.Set(ctx, store.Doc(user.Sub(domain.SubcollectionFriendRequests), string(rune('a'+i))), store.Fields{"from": "x"}, false))
	}
}

func TestService_DeleteUser(t *testing.T) {
	type outputs struct {
		report account.DeleteReport
		err    error
	}

	tests := map[string]struct {
		arrange func(t *testing.T, f fixture)
		key     string
		assert  func(t *testing.T, f fixture, out outputs)
	}{
		"Delete by email": {
			arrange: func(t *testing.T, f fixture) {
				seedUser(t, f, "u1", "alice@example.com", 3, 2)
				seedUser(t, f, "u2", "bob@example.com", 1, 0)
			},
			key: "alice@example.com",
			assert: func(t *testing.T, f fixture, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.report.Found)
				assert.Equal(t, "u1", out.report.UID)
				assert.Equal(t, map[string]int{"friends": 3, "friendRequests": 2}, out.report.Deleted)

				ctx := context.Background()
				_, err := f.store.Get(ctx, store.Doc(domain.CollectionUsers, "u1"))
				assert.True(t, store.IsNotFound(err))

				docs, err := f.store.Query(ctx, store.Query{Collection: "users/u1/friends"})
				require.NoError(t, err)
				assert.Empty(t, docs)

				_, err = f.identities.Get(ctx, "u1")
				assert.True(t, errors.Is(err, errors.CodeNotFound))

				// Other users are untouched.
				_, err = f.store.Get(ctx, store.Doc(domain.CollectionUsers, "u2"))
				assert.NoError(t, err)
				docs, err = f.store.Query(ctx, store.Query{Collection: "users/u2/friends"})
				require.NoError(t, err)
				assert.Len(t, docs, 1)
			},
		},

		"Delete by uid": {
			arrange: func(t *testing.T, f fixture) {
				seedUser(t, f, "u1", "alice@example.com", 0, 0)
			},
			key: "u1",
			assert: func(t *testing.T, f fixture, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.report.Found)
				assert.Equal(t, map[string]int{"friends": 0, "friendRequests": 0}, out.report.Deleted)
			},
		},

		"Unknown user is a no-op": {
			arrange: func(t *testing.T, f fixture) {
				seedUser(t, f, "u1", "alice@example.com", 1, 1)
			},
			key: "ghost@example.com",
			assert: func(t *testing.T, f fixture, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.report.Found)

				_, err := f.store.Get(context.Background(), store.Doc(domain.CollectionUsers, "u1"))
				assert.NoError(t, err)
			},
		},

		"Identity without user document": {
			arrange: func(t *testing.T, f fixture) {
				require.NoError(t, f.identities.Create(context.Background(), identity.Identity{UID: "u9", Email: "new@example.com"}))
			},
			key: "new@example.com",
			assert: func(t *testing.T, f fixture, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.report.Found)

				_, err := f.identities.Get(context.Background(), "u9")
				assert.True(t, errors.Is(err, errors.CodeNotFound))
			},
		},

		"Empty key": {
			arrange: func(t *testing.T, f fixture) {},
			key:     "",
			assert: func(t *testing.T, f fixture, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeFixture(t)
			tc.arrange(t, f)

			report, err := f.service.DeleteUser(context.Background(), tc.key)

			tc.assert(t, f, outputs{report: report, err: err})
		})
	}
}

func TestService_GrantAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("Keeps other claims", func(t *testing.T) {
		f := makeFixture(t)
		require.NoError(t, f.identities.Create(ctx, identity.Identity{UID: "u1", Claims: map[string]any{"beta": true}}))

		require.NoError(t, f.service.GrantAdmin(ctx, "u1"))

		id, err := f.identities.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"beta": true, "admin": true}, id.Claims)
	})

	t.Run("Idempotent", func(t *testing.T) {
		f := makeFixture(t)
		require.NoError(t, f.identities.Create(ctx, identity.Identity{UID: "u1"}))

		require.NoError(t, f.service.GrantAdmin(ctx, "u1"))
		require.NoError(t, f.service.GrantAdmin(ctx, "u1"))

		id, err := f.identities.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"admin": true}, id.Claims)
	})

	t.Run("Unknown uid", func(t *testing.T) {
		f := makeFixture(t)
		assert.True(t, errors.Is(f.service.GrantAdmin(ctx, "ghost"), errors.CodeNotFound))
	})

	t.Run("Missing uid", func(t *testing.T) {
		f := makeFixture(t)
		assert.True(t, errors.Is(f.service.GrantAdmin(ctx, ""), errors.CodeInvalidArgument))
	})
}
