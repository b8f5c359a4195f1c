package xp_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/store/redisstore"
	"github.com/victornm/quizxp/internal/xp"
)

func TestService_Award(t *testing.T) {
	type outputs struct {
		res *xp.Result
		err error
	}

	tests := map[string]struct {
		arrange func(t *testing.T, s store.Store)
		attempt domain.Attempt
		assert  func(t *testing.T, s store.Store, out outputs)
	}{
		"hard attempt should add to existing xp": {
			arrange: func(t *testing.T, s store.Store) {
				createUser(t, s, "u1", store.Fields{"xp": 50, "username": "alice"})
			},
			attempt: domain.Attempt{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
			assert: func(t *testing.T, s store.Store, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, int64(104), out.res.Award.XP)
				assert.Equal(t, int64(154), out.res.Award.Total)
				assert.False(t, out.res.Duplicate)

				u := getUser(t, s, "u1")
				assert.Equal(t, int64(154), u.Int("xp"))
				assert.Equal(t, "alice", u.String("username"))
				assert.False(t, u.Time("lastXpAwardAt").IsZero())
			},
		},

		"missing user should start from zero": {
			arrange: func(t *testing.T, s store.Store) {},
			attempt: domain.Attempt{ID: "a1", UserID: "u1", Score: 0.5, Difficulty: domain.DifficultyEasy},
			assert: func(t *testing.T, s store.Store, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, int64(40), getUser(t, s, "u1").Int("xp"))
			},
		},

		"user without xp field should start from zero": {
			arrange: func(t *testing.T, s store.Store) {
				createUser(t, s, "u1", store.Fields{"username": "bob"})
			},
			attempt: domain.Attempt{ID: "a1", UserID: "u1", Score: 1},
			assert: func(t *testing.T, s store.Store, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, int64(100), getUser(t, s, "u1").Int("xp"))
			},
		},

		"already awarded attempt should not be credited again": {
			arrange: func(t *testing.T, s store.Store) {
				createUser(t, s, "u1", store.Fields{"xp": 154})
				require.NoError(t, s.Create(context.Background(), store.Doc(domain.CollectionXPAwards, "a1"), domain.Award{
					UserID: "u1",
					XP:     104,
					Total:  154,
				}.Fields()))
			},
			attempt: domain.Attempt{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
			assert: func(t *testing.T, s store.Store, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.res.Duplicate)
				assert.Equal(t, int64(104), out.res.Award.XP)
				assert.Equal(t, "a1", out.res.Award.AttemptID)
				assert.Equal(t, int64(154), getUser(t, s, "u1").Int("xp"))
			},
		},

		"attempt without user should be rejected": {
			arrange: func(t *testing.T, s store.Store) {},
			attempt: domain.Attempt{ID: "a1", Score: 1},
			assert: func(t *testing.T, s store.Store, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			s := makeStore(t)
			tt.arrange(t, s)

			res, err := xp.NewService(xp.Config{Store: s}).Award(context.Background(), tt.attempt)
			tt.assert(t, s, outputs{res: res, err: err})
		})
	}
}

func TestService_AwardConcurrently(t *testing.T) {
	tests := map[string]struct {
		attempts []domain.Attempt
		want     int64
	}{
		"two attempts of the same user should both count": {
			attempts: []domain.Attempt{
				{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
				{ID: "a2", UserID: "u1", Score: 0.5, Difficulty: domain.DifficultyEasy},
			},
			want: 50 + 104 + 40,
		},

		"many attempts of the same user should all count": {
			attempts: func() []domain.Attempt {
				var as []domain.Attempt
				for i := range 8 {
					as = append(as, domain.Attempt{ID: fmt.Sprintf("a%d", i), UserID: "u1", Score: 0.1})
				}
				return as
			}(),
			want: 50 + 8*10,
		},

		"the same attempt delivered twice should count once": {
			attempts: []domain.Attempt{
				{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
				{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
			},
			want: 154,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			s := makeStore(t)
			createUser(t, s, "u1", store.Fields{"xp": 50})
			svc := xp.NewService(xp.Config{Store: s})

			var eg errgroup.Group
			for _, a := range tt.attempts {
				eg.Go(func() error {
					_, err := svc.Award(context.Background(), a)
					return err
				})
			}
			require.NoError(t, eg.Wait())

			assert.Equal(t, tt.want, getUser(t, s, "u1").Int("xp"))
		})
	}
}

func TestService_AwardFailure(t *testing.T) {
	s := failingStore{Store: makeStore(t)}

	_, err := xp.NewService(xp.Config{Store: s}).Award(context.Background(), domain.Attempt{ID: "a1", UserID: "u1", Score: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeAborted))

	_, err = s.Get(context.Background(), store.Doc(domain.CollectionUsers, "u1"))
	assert.True(t, store.IsNotFound(err))
}

func TestService_HandleAttemptCreated(t *testing.T) {
	var (
		s  = makeStore(t)
		eb = event.NewBus()
		mu sync.Mutex

		awarded []domain.Award
	)

	eb.Subscribe(domain.EventNameXPAwarded, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		awarded = append(awarded, e.(domain.EventXPAwarded).Award)
		mu.Unlock()
		return nil
	})

	xp.NewService(xp.Config{Store: s, EventBus: eb})

	eb.Publish(context.Background(), domain.EventAttemptCreated{
		Attempt: domain.Attempt{ID: "a1", UserID: "u1", Score: 0.8, Difficulty: domain.DifficultyHard},
	})
	eb.Stop()

	require.Len(t, awarded, 1)
	assert.Equal(t, "a1", awarded[0].AttemptID)
	assert.Equal(t, int64(104), awarded[0].XP)
	assert.WithinDuration(t, time.Now(), awarded[0].AwardedAt, time.Minute)
	assert.Equal(t, int64(104), getUser(t, s, "u1").Int("xp"))
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)
	require.NoError(t, s.Create(ctx, store.Doc(domain.CollectionQuizAttempts, "a1"), domain.Attempt{
		UserID:     "u1",
		Score:      0.8,
		Difficulty: domain.DifficultyHard,
	}.Fields()))

	svc := xp.NewService(xp.Config{Store: s})

	res, err := svc.Reconcile(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = svc.Reconcile(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Equal(t, int64(104), getUser(t, s, "u1").Int("xp"))

	_, err = svc.Reconcile(ctx, "missing")
	assert.True(t, store.IsNotFound(err))
}

// failingStore never manages to commit a transaction.
type failingStore struct {
	store.Store
}

func (failingStore) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return fmt.Errorf("%w: 5 attempts", store.ErrTxFailed)
}

func createUser(t *testing.T, s store.Store, id string, f store.Fields) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), store.Doc(domain.CollectionUsers, id), f))
}

func getUser(t *testing.T, s store.Store, id string) *store.Document {
	t.Helper()

	d, err := s.Get(context.Background(), store.Doc(domain.CollectionUsers, id))
	require.NoError(t, err)
	return d
}

func makeStore(t *testing.T) store.Store {
	t.Helper()

	r := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	return redisstore.New(redisstore.Config{Redis: r, Prefix: "test", MaxAttempts: 20})
}
