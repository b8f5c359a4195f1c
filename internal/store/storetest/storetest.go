// Package storetest holds the behaviour every store.Store backend must share.
// Backend packages call Run from their own tests with a factory that returns
// an empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizxp/internal/store"
)

// Factory returns an empty store for one sub-test.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s store.Store){
		"get missing document returns not found":           testGetMissing,
		"create then get returns fields":                   testCreateGet,
		"create on existing document fails":                testCreateExisting,
		"concurrent creates have a single winner":          testConcurrentCreate,
		"set with merge keeps other fields":                testSetMerge,
		"set without merge replaces document":              testSetReplace,
		"server timestamp resolves to a time":              testServerTimestamp,
		"query orders by field and breaks ties by id":      testQueryOrder,
		"query ascending with limit":                       testQueryAsc,
		"query skips documents without the field":          testQueryMissingField,
		"query without order lists the whole collection":   testQueryAll,
		"transaction reads and writes atomically":          testTransaction,
		"concurrent transactions do not lose updates":      testConcurrentTransactions,
		"failed transaction function writes nothing":       testTransactionError,
		"batch delete removes documents and index entries": testBatchDelete,
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			tt(t, newStore(t))
		})
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), store.Doc("users", "nobody"))
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("weekly_quizzes", "2024-W10")

	require.NoError(t, s.Create(ctx, ref, store.Fields{
		"id":          "2024-W10",
		"questionIds": []string{"q1", "q2"},
		"status":      "active",
	}))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)

	var got struct {
		ID          string   `mapstructure:"id"`
		QuestionIDs []string `mapstructure:"questionIds"`
		Status      string   `mapstructure:"status"`
	}
	require.NoError(t, d.DataTo(&got))
	assert.Equal(t, "2024-W10", got.ID)
	assert.Equal(t, []string{"q1", "q2"}, got.QuestionIDs)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, ref, d.Ref)
}

func testCreateExisting(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("weekly_quizzes", "2024-W10")

	require.NoError(t, s.Create(ctx, ref, store.Fields{"status": "active"}))

	err := s.Create(ctx, ref, store.Fields{"status": "archived"})
	require.Error(t, err)
	assert.True(t, store.IsAlreadyExists(err))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "active", d.String("status"))
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("weekly_quizzes", "2024-W11")

	const n = 8
	var (
		mu   sync.Mutex
		wins int
		lost int
	)

	var eg errgroup.Group
	for i := range n {
		eg.Go(func() error {
			err := s.Create(ctx, ref, store.Fields{"writer": i})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case store.IsAlreadyExists(err):
				lost++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, lost)
}

func testSetMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("leaderboards_global", "weekly")

	require.NoError(t, s.Set(ctx, ref, store.Fields{"title": "Weekly", "leaders": []any{"a", "b"}}, false))
	require.NoError(t, s.Set(ctx, ref, store.Fields{"leaders": []any{"c"}}, true))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", d.String("title"))
	assert.Equal(t, []any{"c"}, d.Fields["leaders"])
}

func testSetReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("users", "u1")

	require.NoError(t, s.Set(ctx, ref, store.Fields{"xp": 10, "username": "alice"}, false))
	require.NoError(t, s.Set(ctx, ref, store.Fields{"xp": 20}, false))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(20), d.Int("xp"))
	assert.False(t, d.Exists("username"))
}

func testServerTimestamp(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("users", "u1")
	before := time.Now().Add(-time.Minute)

	require.NoError(t, s.Set(ctx, ref, store.Fields{"lastXpAwardAt": store.ServerTimestamp}, true))

	d, err := s.Get(ctx, ref)
	require.NoError(t, err)

	var got struct {
		LastXPAwardAt time.Time `mapstructure:"lastXpAwardAt"`
	}
	require.NoError(t, d.DataTo(&got))
	assert.True(t, got.LastXPAwardAt.After(before), "got %v", got.LastXPAwardAt)
	assert.Equal(t, got.LastXPAwardAt, d.Time("lastXpAwardAt"))
}

func testQueryOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "users", map[string]int{"d": 10, "c": 90, "a": 100, "b": 90})

	docs, err := s.Query(ctx, store.Query{Collection: "users", OrderBy: "xp", Direction: store.Desc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Collection: "users", OrderBy: "xp", Direction: store.Desc, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Collection: "users", OrderBy: "xp", Direction: store.Desc})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(docs))
}

func testQueryAsc(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"q3", "q1", "q2"} {
		require.NoError(t, s.Set(ctx, store.Doc("questions", id), store.Fields{
			"createdAt": base.Add(time.Duration(i) * time.Second),
		}, false))
	}

	docs, err := s.Query(ctx, store.Query{Collection: "questions", OrderBy: "createdAt", Direction: store.Asc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"q3", "q1"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Collection: "questions", OrderBy: "createdAt", Direction: store.Desc})
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "q1", "q3"}, ids(docs))
}

func testQueryMissingField(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "users", map[string]int{"a": 5})
	require.NoError(t, s.Set(ctx, store.Doc("users", "b"), store.Fields{"username": "bob"}, false))

	docs, err := s.Query(ctx, store.Query{Collection: "users", OrderBy: "xp", Direction: store.Desc})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(docs))
}

func testQueryAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"f3", "f1", "f2"} {
		require.NoError(t, s.Set(ctx, store.Doc("users/u1/friends", id), store.Fields{"since": "x"}, false))
	}
	require.NoError(t, s.Set(ctx, store.Doc("users/u2/friends", "f9"), store.Fields{"since": "x"}, false))

	docs, err := s.Query(ctx, store.Query{Collection: "users/u1/friends"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "f3"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Collection: "empty"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testTransaction(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := store.Doc("users", "u1")
	marker := store.Doc("xp_awards", "a1")
	seed(t, s, "users", map[string]int{"u1": 50})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.Get(ctx, user)
		if err != nil {
			return err
		}

		if _, err := tx.Get(ctx, marker); !store.IsNotFound(err) {
			return fmt.Errorf("expected marker to be absent, got %v", err)
		}

		if err := tx.Set(user, store.Fields{"xp": d.Int("xp") + 104}, true); err != nil {
			return err
		}
		return tx.Set(marker, store.Fields{"xp": 104}, false)
	})
	require.NoError(t, err)

	d, err := s.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(154), d.Int("xp"))

	_, err = s.Get(ctx, marker)
	require.NoError(t, err)
}

func testConcurrentTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := store.Doc("users", "u1")

	const n = 5
	var eg errgroup.Group
	for range n {
		eg.Go(func() error {
			return s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				var cur int64
				d, err := tx.Get(ctx, user)
				switch {
				case err == nil:
					cur = d.Int("xp")
				case !store.IsNotFound(err):
					return err
				}
				return tx.Set(user, store.Fields{"xp": cur + 10}, true)
			})
		})
	}

	require.NoError(t, eg.Wait())

	d, err := s.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(n*10), d.Int("xp"))
}

func testTransactionError(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := store.Doc("users", "u1")
	boom := fmt.Errorf("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Set(ref, store.Fields{"xp": 1}, true); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, ref)
	assert.True(t, store.IsNotFound(err))
}

func testBatchDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "users", map[string]int{"a": 3, "b": 2, "c": 1})

	require.NoError(t, s.BatchDelete(ctx, []store.Ref{
		store.Doc("users", "a"),
		store.Doc("users", "c"),
		store.Doc("users", "missing"),
	}))

	docs, err := s.Query(ctx, store.Query{Collection: "users", OrderBy: "xp", Direction: store.Desc})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Collection: "users"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(docs))

	require.NoError(t, s.BatchDelete(ctx, nil))
}

func seed(t *testing.T, s store.Store, collection string, xp map[string]int) {
	t.Helper()
	for id, v := range xp {
		require.NoError(t, s.Set(context.Background(), store.Doc(collection, id), store.Fields{"xp": v}, false))
	}
}

func ids(docs []*store.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Ref.ID
	}
	return out
}
