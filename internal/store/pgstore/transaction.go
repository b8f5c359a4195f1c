package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/quizxp/internal/store"
)

type transaction struct {
	tx  pgx.Tx
	buf store.Buffer
}

// Get locks the row for the rest of the transaction. Absent rows cannot be
// locked; a concurrent insert is caught by the serializable isolation level
// or the primary key and retried.
func (t *transaction) Get(ctx context.Context, ref store.Ref) (*store.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	return get(ctx, t.tx, ref, true)
}

func (t *transaction) Set(ref store.Ref, fields store.Fields, merge bool) error {
	return t.buf.Set(ref, fields, merge)
}

func (t *transaction) Delete(ref store.Ref) error {
	return t.buf.Delete(ref)
}

func (t *transaction) commit(ctx context.Context, now time.Time) error {
	for _, w := range t.buf.Writes() {
		if w.Delete {
			if _, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Ref.Collection, w.Ref.ID); err != nil {
				return fmt.Errorf("pgstore: delete %s: %w", w.Ref, translate(err))
			}
			continue
		}

		data, err := store.Resolve(w.Fields, now)
		if err != nil {
			return err
		}

		if err := upsert(ctx, t.tx, w.Ref, data, w.Merge, now); err != nil {
			return fmt.Errorf("pgstore: set %s: %w", w.Ref, err)
		}
	}

	return nil
}
