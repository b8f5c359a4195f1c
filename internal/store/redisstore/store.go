// Package redisstore implements store.Store on Redis.
//
// Layout, for a key prefix P:
//
//	P:doc:{collection}/{id}       JSON body {"fields", "createTime", "updateTime"}
//	P:col:{collection}            ZSET of ids, score 0 (lexical order)
//	P:idx:{collection}:{field}    ZSET of ids scored by a numeric or time field
//
// Every write runs under WATCH on the touched document keys and commits with
// MULTI/EXEC, so documents and their index entries change atomically and
// concurrent writers to the same document serialize through retries.
package redisstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizxp/internal/store"
)

type Config struct {
	Redis       redis.UniversalClient
	Prefix      string
	MaxAttempts int
	Clock       store.Clock
}

type Store struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	now         store.Clock
}

var _ store.Store = (*Store)(nil)

func New(c Config) *Store {
	s := &Store{
		redis:       c.Redis,
		prefix:      c.Prefix,
		maxAttempts: c.MaxAttempts,
		now:         c.Clock,
	}

	if s.prefix == "" {
		s.prefix = "equiz"
	}

	if s.now == nil {
		s.now = store.UTCNow
	}

	return s
}

type body struct {
	Fields     store.Fields `json:"fields"`
	CreateTime time.Time    `json:"createTime"`
	UpdateTime time.Time    `json:"updateTime"`
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	raw, err := s.redis.Get(ctx, s.docKey(ref)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, store.NotFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", ref, err)
	}

	return decodeDoc(ref, raw)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Document, error) {
	var (
		ids []string
		err error
	)

	if q.OrderBy == "" {
		ids, err = s.listIDs(ctx, q)
	} else {
		ids, err = s.rangeIDs(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: query %s: %w", q.Collection, err)
	}

	if len(ids) == 0 {
		return []*store.Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(store.Doc(q.Collection, id))
	}

	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: query %s: mget: %w", q.Collection, err)
	}

	docs := make([]*store.Document, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between the index read and the fetch.
			continue
		}

		d, err := decodeDoc(store.Doc(q.Collection, ids[i]), []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}

	return docs, nil
}

func (s *Store) listIDs(ctx context.Context, q store.Query) ([]string, error) {
	stop := int64(-1)
	if q.Limit > 0 {
		stop = int64(q.Limit) - 1
	}

	return s.redis.ZRange(ctx, s.colKey(q.Collection), 0, stop).Result()
}

// rangeIDs reads the field index. Redis orders equal scores by member, which
// is reversed for descending ranges, so members sharing the boundary score
// are re-read in full and everything is re-sorted with ids ascending.
func (s *Store) rangeIDs(ctx context.Context, q store.Query) ([]string, error) {
	key := s.idxKey(q.Collection, q.OrderBy)

	stop := int64(-1)
	if q.Limit > 0 {
		stop = int64(q.Limit) - 1
	}

	var (
		zs  []redis.Z
		err error
	)
	if q.Direction == store.Desc {
		zs, err = s.redis.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	} else {
		zs, err = s.redis.ZRangeWithScores(ctx, key, 0, stop).Result()
	}
	if err != nil {
		return nil, err
	}

	if q.Limit > 0 && len(zs) == q.Limit {
		boundary := zs[len(zs)-1].Score
		bound := formatScore(boundary)
		tied, err := s.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: bound, Max: bound}).Result()
		if err != nil {
			return nil, err
		}

		seen := make(map[string]struct{}, len(zs))
		for _, z := range zs {
			seen[z.Member.(string)] = struct{}{}
		}
		for _, z := range tied {
			if _, ok := seen[z.Member.(string)]; !ok {
				zs = append(zs, z)
			}
		}
	}

	sort.SliceStable(zs, func(i, j int) bool {
		if zs[i].Score != zs[j].Score {
			if q.Direction == store.Desc {
				return zs[i].Score > zs[j].Score
			}
			return zs[i].Score < zs[j].Score
		}
		return zs[i].Member.(string) < zs[j].Member.(string)
	})

	if q.Limit > 0 && len(zs) > q.Limit {
		zs = zs[:q.Limit]
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i] = z.Member.(string)
	}

	return ids, nil
}

func (s *Store) Create(ctx context.Context, ref store.Ref, fields store.Fields) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	return s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Get(ctx, ref)
		if err == nil {
			return store.AlreadyExists(ref)
		}

		if !store.IsNotFound(err) {
			return err
		}

		return tx.Set(ref, fields, false)
	})
}

func (s *Store) Set(ctx context.Context, ref store.Ref, fields store.Fields, merge bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	return s.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		return tx.Set(ref, fields, merge)
	})
}

func (s *Store) BatchDelete(ctx context.Context, refs []store.Ref) error {
	if len(refs) == 0 {
		return nil
	}

	return s.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func(ctx context.Context) error {
		err := s.redis.Watch(ctx, func(rtx *redis.Tx) error {
			t := &transaction{s: s, rtx: rtx, reads: make(map[store.Ref]*body)}
			if err := fn(ctx, t); err != nil {
				return err
			}
			return t.commit(ctx)
		})

		if stderrors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}

		return err
	})
}

func (s *Store) Close() error {
	return s.redis.Close()
}

func (s *Store) docKey(ref store.Ref) string {
	return fmt.Sprintf("%s:doc:%s", s.prefix, ref.Path())
}

func (s *Store) colKey(collection string) string {
	return fmt.Sprintf("%s:col:%s", s.prefix, collection)
}

func (s *Store) idxKey(collection, field string) string {
	return fmt.Sprintf("%s:idx:%s:%s", s.prefix, collection, field)
}

func decodeDoc(ref store.Ref, raw []byte) (*store.Document, error) {
	b, err := decodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", ref, err)
	}

	return &store.Document{
		Ref:        ref,
		Fields:     b.Fields,
		CreateTime: b.CreateTime,
		UpdateTime: b.UpdateTime,
	}, nil
}
