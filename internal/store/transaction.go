package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = 250 * time.Millisecond
)

// Attempt runs one try of a transaction. It returns ErrConflict (possibly
// wrapped) when the commit lost an optimistic race and should be retried.
type Attempt func(ctx context.Context) error

// Retry runs attempt until it succeeds, fails with a non-conflict error or
// maxAttempts is reached. Backends build RunTransaction on it.
func Retry(ctx context.Context, maxAttempts int, attempt Attempt) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var last error
	for i := range maxAttempts {
		if i > 0 {
			if err := sleep(ctx, backoff(i)); err != nil {
				return err
			}
		}

		err := attempt(ctx)
		if err == nil {
			return nil
		}

		if !stderrors.Is(err, ErrConflict) {
			return err
		}

		last = err
		slog.DebugContext(ctx, "store: transaction conflict, retrying", "attempt", i+1, "error", err)
	}

	return fmt.Errorf("%w: %d attempts: %w", ErrTxFailed, maxAttempts, last)
}

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}

	// Full jitter keeps concurrent losers from colliding again.
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Write is a buffered transactional write.
type Write struct {
	Ref    Ref
	Fields Fields
	Merge  bool
	Delete bool
}

// Buffer collects the writes of one transaction attempt in order. Later
// writes to the same reference are applied on top of earlier ones.
type Buffer struct {
	writes []Write
}

func (b *Buffer) Set(ref Ref, fields Fields, merge bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	b.writes = append(b.writes, Write{Ref: ref, Fields: fields, Merge: merge})
	return nil
}

func (b *Buffer) Delete(ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	b.writes = append(b.writes, Write{Ref: ref, Delete: true})
	return nil
}

// Writes returns the buffered writes.
func (b *Buffer) Writes() []Write {
	return b.writes
}

// Refs returns the distinct references written, in first-write order.
func (b *Buffer) Refs() []Ref {
	seen := make(map[Ref]struct{}, len(b.writes))
	refs := make([]Ref, 0, len(b.writes))
	for _, w := range b.writes {
		if _, ok := seen[w.Ref]; ok {
			continue
		}
		seen[w.Ref] = struct{}{}
		refs = append(refs, w.Ref)
	}

	return refs
}

// Apply folds the buffered writes onto the current state of each reference.
// current maps a reference to its fields before the transaction (nil when
// absent). The result maps each written reference to its final fields, nil
// meaning deleted.
func (b *Buffer) Apply(current map[Ref]Fields, now time.Time) (map[Ref]Fields, error) {
	out := make(map[Ref]Fields, len(b.writes))
	for _, w := range b.writes {
		base, ok := out[w.Ref]
		if !ok {
			base = current[w.Ref]
		}

		if w.Delete {
			out[w.Ref] = nil
			continue
		}

		resolved, err := Resolve(w.Fields, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.Ref.Path(), err)
		}

		out[w.Ref] = Merge(base, resolved, w.Merge)
	}

	return out, nil
}
