package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/victornm/quizxp/internal/store"
)

type transaction struct {
	coll  *mongo.Collection
	reads map[store.Ref]store.Fields // nil value: read and absent
	buf   store.Buffer
}

// Get reads from the transaction snapshot. A document written by another
// transaction after the snapshot makes the commit fail with a write conflict.
func (t *transaction) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	d, err := get(ctx, t.coll, ref)
	switch {
	case err == nil:
		t.reads[ref] = d.Fields
	case store.IsNotFound(err):
		t.reads[ref] = nil
	}

	return d, err
}

func (t *transaction) Set(ref store.Ref, fields store.Fields, merge bool) error {
	return t.buf.Set(ref, fields, merge)
}

func (t *transaction) Delete(ref store.Ref) error {
	return t.buf.Delete(ref)
}

func (t *transaction) commit(ctx context.Context, now time.Time) error {
	refs := t.buf.Refs()
	if len(refs) == 0 {
		return nil
	}

	current := make(map[store.Ref]store.Fields, len(refs))
	for _, ref := range refs {
		fields, ok := t.reads[ref]
		if !ok {
			d, err := get(ctx, t.coll, ref)
			if err != nil && !store.IsNotFound(err) {
				return err
			}
			if d != nil {
				fields = d.Fields
			}
		}
		if fields != nil {
			current[ref] = fields
		}
	}

	final, err := t.buf.Apply(current, now)
	if err != nil {
		return fmt.Errorf("mongostore: %w", err)
	}

	for _, ref := range refs {
		fields := final[ref]
		if fields == nil {
			if _, err := t.coll.DeleteOne(ctx, bson.M{"_id": ref.Path()}); err != nil {
				return fmt.Errorf("mongostore: delete %s: %w", ref, translate(err))
			}
			continue
		}

		update := bson.M{
			"$set": bson.M{
				"collection": ref.Collection,
				"docId":      ref.ID,
				"data":       map[string]any(fields),
				"updateTime": now,
			},
			"$setOnInsert": bson.M{"createTime": now},
		}

		_, err := t.coll.UpdateOne(ctx, bson.M{"_id": ref.Path()}, update, options.Update().SetUpsert(true))
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		if err != nil {
			return fmt.Errorf("mongostore: set %s: %w", ref, translate(err))
		}
	}

	return nil
}
