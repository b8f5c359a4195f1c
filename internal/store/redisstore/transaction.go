package redisstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizxp/internal/store"
)

type transaction struct {
	s     *Store
	rtx   *redis.Tx
	reads map[store.Ref]*body // nil body: read and absent
	buf   store.Buffer
}

func (t *transaction) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	b, err := t.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, store.NotFound(ref)
	}

	return &store.Document{
		Ref:        ref,
		Fields:     b.Fields,
		CreateTime: b.CreateTime,
		UpdateTime: b.UpdateTime,
	}, nil
}

func (t *transaction) Set(ref store.Ref, fields store.Fields, merge bool) error {
	return t.buf.Set(ref, fields, merge)
}

func (t *transaction) Delete(ref store.Ref) error {
	return t.buf.Delete(ref)
}

// load watches the document key before reading it so that a concurrent
// change aborts the EXEC.
func (t *transaction) load(ctx context.Context, ref store.Ref) (*body, error) {
	if b, ok := t.reads[ref]; ok {
		return b, nil
	}

	key := t.s.docKey(ref)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: watch %s: %w", ref, err)
	}

	raw, err := t.rtx.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		t.reads[ref] = nil
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", ref, err)
	}

	b, err := decodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", ref, err)
	}

	t.reads[ref] = b
	return b, nil
}

func (t *transaction) commit(ctx context.Context) error {
	refs := t.buf.Refs()
	if len(refs) == 0 {
		return nil
	}

	current := make(map[store.Ref]store.Fields, len(refs))
	for _, ref := range refs {
		b, err := t.load(ctx, ref)
		if err != nil {
			return err
		}
		if b != nil {
			current[ref] = b.Fields
		}
	}

	now := t.s.now()
	final, err := t.buf.Apply(current, now)
	if err != nil {
		return fmt.Errorf("redisstore: %w", err)
	}

	_, err = t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ref := range refs {
			if err := t.queue(ctx, pipe, ref, t.reads[ref], final[ref], now); err != nil {
				return err
			}
		}
		return nil
	})

	return err
}

func (t *transaction) queue(ctx context.Context, pipe redis.Pipeliner, ref store.Ref, old *body, fields store.Fields, now time.Time) error {
	docKey := t.s.docKey(ref)
	colKey := t.s.colKey(ref.Collection)

	var oldFields store.Fields
	if old != nil {
		oldFields = old.Fields
	}

	if fields == nil {
		pipe.Del(ctx, docKey)
		pipe.ZRem(ctx, colKey, ref.ID)
		for f := range oldFields {
			if _, ok := score(oldFields[f]); ok {
				pipe.ZRem(ctx, t.s.idxKey(ref.Collection, f), ref.ID)
			}
		}
		return nil
	}

	b := body{Fields: fields, CreateTime: now, UpdateTime: now}
	if old != nil {
		b.CreateTime = old.CreateTime
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", ref, err)
	}

	pipe.Set(ctx, docKey, raw, 0)
	pipe.ZAdd(ctx, colKey, redis.Z{Score: 0, Member: ref.ID})

	for f, v := range fields {
		if sc, ok := score(v); ok {
			pipe.ZAdd(ctx, t.s.idxKey(ref.Collection, f), redis.Z{Score: sc, Member: ref.ID})
		} else if _, had := score(oldFields[f]); had {
			pipe.ZRem(ctx, t.s.idxKey(ref.Collection, f), ref.ID)
		}
	}

	for f, v := range oldFields {
		if _, still := fields[f]; still {
			continue
		}
		if _, ok := score(v); ok {
			pipe.ZRem(ctx, t.s.idxKey(ref.Collection, f), ref.ID)
		}
	}

	return nil
}

// score maps an indexable field value to a sorted set score: numbers as is,
// stored times as microseconds since the epoch.
func score(v any) (float64, bool) {
	if n, ok := store.Number(v); ok {
		return n, !math.IsNaN(n)
	}

	if s, ok := v.(string); ok {
		if t, ok := store.Time(s); ok && len(s) == storedTimeLen {
			return float64(t.UnixMicro()), true
		}
	}

	return 0, false
}

// storedTimeLen is the length of a time formatted with store.TimeLayout in UTC.
const storedTimeLen = len("2006-01-02T15:04:05.000000000Z")

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func decodeBody(raw []byte) (*body, error) {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}

	if b.Fields == nil {
		b.Fields = store.Fields{}
	}

	return &b, nil
}
