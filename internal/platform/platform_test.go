package platform_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/identity"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/store"
)

func redisConfig(t *testing.T) platform.Config {
	t.Helper()

	var c platform.Config
	c.Store.Driver = platform.DriverRedis
	c.Redis.Store = platform.RedisConfig{Addrs: []string{miniredis.RunT(t).Addr()}, Prefix: "test"}
	return c
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		config func(t *testing.T) platform.Config
		assert func(t *testing.T, p *platform.Platform, err error)
	}{
		"Redis store with memory identities": {
			config: redisConfig,
			assert: func(t *testing.T, p *platform.Platform, err error) {
				require.NoError(t, err)
				assert.NotNil(t, p.Store)
				assert.IsType(t, &identity.MemoryStore{}, p.Identities)
				assert.NotNil(t, p.Redis)
				assert.Equal(t, "test", p.RedisPrefix)

				require.NoError(t, p.Store.Set(ctx, store.Doc("users", "u1"), store.Fields{"xp": 1}, false))
			},
		},

		"Separate pubsub redis": {
			config: func(t *testing.T) platform.Config {
				c := redisConfig(t)
				c.Redis.Pubsub = platform.RedisConfig{Addrs: []string{miniredis.RunT(t).Addr()}, Prefix: "pubsub"}
				return c
			},
			assert: func(t *testing.T, p *platform.Platform, err error) {
				require.NoError(t, err)
				assert.Equal(t, "pubsub", p.RedisPrefix)
			},
		},

		"Unknown driver": {
			config: func(t *testing.T) platform.Config {
				var c platform.Config
				c.Store.Driver = "sqlite"
				return c
			},
			assert: func(t *testing.T, p *platform.Platform, err error) {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.CodeInvalidArgument))

				_, err = platform.Get()
				assert.ErrorIs(t, err, platform.ErrNotInitialized)
			},
		},

		"Unreachable redis": {
			config: func(t *testing.T) platform.Config {
				c := redisConfig(t)
				c.Redis.Store.Addrs = []string{"127.0.0.1:1"}
				return c
			},
			assert: func(t *testing.T, p *platform.Platform, err error) {
				require.Error(t, err)
				assert.Nil(t, p)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(func() { require.NoError(t, platform.Close()) })

			p, err := platform.Init(ctx, tc.config(t))
			tc.assert(t, p, err)
		})
	}
}

func TestInit_Idempotent(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { _ = platform.Close() })

	_, err := platform.Get()
	require.ErrorIs(t, err, platform.ErrNotInitialized)

	first, err := platform.Init(ctx, redisConfig(t))
	require.NoError(t, err)

	// A second Init is ignored, even with a config that could not open.
	var broken platform.Config
	broken.Store.Driver = "sqlite"
	second, err := platform.Init(ctx, broken)
	require.NoError(t, err)
	assert.Same(t, first, second)

	got, err := platform.Get()
	require.NoError(t, err)
	assert.Same(t, first, got)

	require.NoError(t, platform.Close())
	_, err = platform.Get()
	assert.ErrorIs(t, err, platform.ErrNotInitialized)

	third, err := platform.Init(ctx, redisConfig(t))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}
