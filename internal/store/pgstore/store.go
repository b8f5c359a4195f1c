// Package pgstore implements store.Store on a single Postgres table of jsonb
// documents (see internal/migrations).
package pgstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizxp/internal/store"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Config struct {
	DB          *pgxpool.Pool
	MaxAttempts int
	Clock       store.Clock
}

type Store struct {
	db          *pgxpool.Pool
	maxAttempts int
	now         store.Clock
}

var _ store.Store = (*Store)(nil)

func New(c Config) *Store {
	s := &Store{
		db:          c.DB,
		maxAttempts: c.MaxAttempts,
		now:         c.Clock,
	}

	if s.now == nil {
		s.now = store.UTCNow
	}

	return s
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	return get(ctx, s.db, ref, false)
}

func get(ctx context.Context, q querier, ref store.Ref, forUpdate bool) (*store.Document, error) {
	stmt := `SELECT data, create_time, update_time FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		stmt += ` FOR UPDATE`
	}

	d := &store.Document{Ref: ref}
	err := q.QueryRow(ctx, stmt, ref.Collection, ref.ID).Scan(&d.Fields, &d.CreateTime, &d.UpdateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("pgstore: get %s: %w", ref, translate(err))
	}

	if d.Fields == nil {
		d.Fields = store.Fields{}
	}

	return d, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Document, error) {
	stmt := `SELECT id, data, create_time, update_time FROM documents WHERE collection = $1`
	args := []any{q.Collection}

	if q.OrderBy == "" {
		stmt += ` ORDER BY id ASC`
	} else {
		dir := "ASC"
		if q.Direction == store.Desc {
			dir = "DESC"
		}
		stmt += fmt.Sprintf(` AND data ? $2 AND data->$2 <> 'null'::jsonb ORDER BY data->$2 %s, id ASC`, dir)
		args = append(args, q.OrderBy)
	}

	if q.Limit > 0 {
		stmt += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query %s: %w", q.Collection, err)
	}

	docs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*store.Document, error) {
		d := &store.Document{Ref: store.Ref{Collection: q.Collection}}
		if err := r.Scan(&d.Ref.ID, &d.Fields, &d.CreateTime, &d.UpdateTime); err != nil {
			return nil, err
		}
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: query %s: %w", q.Collection, err)
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

	const stmt = `
INSERT INTO documents (collection, id, data, create_time, update_time)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (collection, id) DO NOTHING;`

	tag, err := s.db.Exec(ctx, stmt, ref.Collection, ref.ID, data, now)
	if err != nil {
		return fmt.Errorf("pgstore: create %s: %w", ref, translate(err))
	}

	if tag.RowsAffected() == 0 {
		return store.AlreadyExists(ref)
	}

	return nil
}

func (s *Store) Set(ctx context.Context, ref store.Ref, fields store.Fields, merge bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	now := s.now()
	data, err := store.Resolve(fields, now)
	if err != nil {
		return err
	}

	if err := upsert(ctx, s.db, ref, data, merge, now); err != nil {
		return fmt.Errorf("pgstore: set %s: %w", ref, err)
	}

	return nil
}

func upsert(ctx context.Context, q querier, ref store.Ref, data store.Fields, merge bool, now time.Time) error {
	update := `data = EXCLUDED.data`
	if merge {
		update = `data = documents.data || EXCLUDED.data`
	}

	stmt := `
INSERT INTO documents (collection, id, data, create_time, update_time)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (collection, id) DO UPDATE SET ` + update + `, update_time = EXCLUDED.update_time;`

	_, err := q.Exec(ctx, stmt, ref.Collection, ref.ID, data, now)
	return translate(err)
}

func (s *Store) BatchDelete(ctx context.Context, refs []store.Ref) error {
	if len(refs) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return err
		}
		b.Queue(`DELETE FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("pgstore: batch delete: %w", translate(err))
		}
		return nil
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			t := &transaction{tx: tx}
			if err := fn(ctx, t); err != nil {
				return err
			}
			return t.commit(ctx, s.now())
		})
	})
}

// inTx runs fn in a serializable transaction. Serialization failures surface
// as store.ErrConflict so that store.Retry re-runs the whole attempt.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("pgstore: begin transaction: %w", translate(err))
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", translate(err))
	}

	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// translate maps retryable Postgres errors onto store.ErrConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}

	return err
}
