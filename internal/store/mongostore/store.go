// Package mongostore implements store.Store on MongoDB.
//
// All documents share one collection; each record is keyed by its path and
// carries the collection name so that nested collections can be queried.
// Transactions need a replica set.
package mongostore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/victornm/quizxp/internal/store"
)

const collectionName = "documents"

type Config struct {
	Client      *mongo.Client
	Database    string
	MaxAttempts int
	Clock       store.Clock
}

type Store struct {
	client      *mongo.Client
	coll        *mongo.Collection
	maxAttempts int
	now         store.Clock
}

var _ store.Store = (*Store)(nil)

func New(c Config) *Store {
	s := &Store{
		client:      c.Client,
		coll:        c.Client.Database(c.Database).Collection(collectionName),
		maxAttempts: c.MaxAttempts,
		now:         c.Clock,
	}

	if s.now == nil {
		s.now = store.UTCNow
	}

	return s
}

type record struct {
	ID         string    `bson:"_id"`
	Collection string    `bson:"collection"`
	DocID      string    `bson:"docId"`
	Data       bson.M    `bson:"data"`
	CreateTime time.Time `bson:"createTime"`
	UpdateTime time.Time `bson:"updateTime"`
}

// EnsureIndexes creates the index that backs collection listing.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "docId", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create index: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	return get(ctx, s.coll, ref)
}

func get(ctx context.Context, coll *mongo.Collection, ref store.Ref) (*store.Document, error) {
	var r record
	err := coll.FindOne(ctx, bson.M{"_id": ref.Path()}).Decode(&r)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.NotFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("mongostore: get %s: %w", ref, translate(err))
	}

	return r.document(), nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Document, error) {
	filter := bson.M{"collection": q.Collection}
	opts := options.Find()

	if q.OrderBy == "" {
		opts.SetSort(bson.D{{Key: "docId", Value: 1}})
	} else {
		field := "data." + q.OrderBy
		dir := 1
		if q.Direction == store.Desc {
			dir = -1
		}
		filter[field] = bson.M{"$exists": true, "$ne": nil}
		opts.SetSort(bson.D{{Key: field, Value: dir}, {Key: "docId", Value: 1}})
	}

	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: query %s: %w", q.Collection, err)
	}

	var records []record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("mongostore: query %s: %w", q.Collection, err)
	}

	docs := make([]*store.Document, len(records))
	for i := range records {
		docs[i] = records[i].document()
	}

	return docs, nil
}

func (s *Store) Create(ctx context.Context, ref store.Ref, fields store.Fields) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	now := s.now()
	data, err := store.Resolve(fields, now)
	if err != nil {
		return err
	}

	_, err = s.coll.InsertOne(ctx, bson.M{
		"_id":        ref.Path(),
		"collection": ref.Collection,
		"docId":      ref.ID,
		"data":       map[string]any(data),
		"createTime": now,
		"updateTime": now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.AlreadyExists(ref)
	}

	if err != nil {
		return fmt.Errorf("mongostore: create %s: %w", ref, err)
	}

	return nil
}

// Set is a single document update and needs no transaction.
func (s *Store) Set(ctx context.Context, ref store.Ref, fields store.Fields, merge bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	now := s.now()
	data, err := store.Resolve(fields, now)
	if err != nil {
		return err
	}

	set := bson.M{
		"collection": ref.Collection,
		"docId":      ref.ID,
		"updateTime": now,
	}
	if merge {
		for k, v := range data {
			set["data."+k] = v
		}
	} else {
		set["data"] = map[string]any(data)
	}

	update := bson.M{"$set": set, "$setOnInsert": bson.M{"createTime": now}}

	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": ref.Path()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: set %s: %w", ref, translate(err))
	}

	return nil
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
		return s.attempt(ctx, fn)
	})
}

func (s *Store) attempt(ctx context.Context, fn store.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongostore: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(opts); err != nil {
		return fmt.Errorf("mongostore: start transaction: %w", err)
	}

	sc := mongo.NewSessionContext(ctx, sess)
	t := &transaction{coll: s.coll, reads: make(map[store.Ref]store.Fields)}

	if err := fn(sc, t); err != nil {
		return stderrors.Join(translate(err), abort(sess, ctx))
	}

	if err := t.commit(sc, s.now()); err != nil {
		return stderrors.Join(err, abort(sess, ctx))
	}

	if err := sess.CommitTransaction(sc); err != nil {
		return fmt.Errorf("mongostore: commit: %w", translate(err))
	}

	return nil
}

func abort(sess mongo.Session, ctx context.Context) error {
	if err := sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("mongostore: abort: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// translate maps transient transaction errors onto store.ErrConflict.
func translate(err error) error {
	var se mongo.ServerError
	if stderrors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(112)) {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}

	return err
}

func (r *record) document() *store.Document {
	return &store.Document{
		Ref:        store.Ref{Collection: r.Collection, ID: r.DocID},
		Fields:     normalize(r.Data),
		CreateTime: r.CreateTime.UTC(),
		UpdateTime: r.UpdateTime.UTC(),
	}
}

// normalize turns decoded BSON values into the plain shapes the other
// backends return.
func normalize(m bson.M) store.Fields {
	out := make(store.Fields, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}

	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(normalize(t))
	case bson.D:
		return map[string]any(normalize(t.Map()))
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}

	return v
}
