// Package store defines the document store the quiz core coordinates through.
//
// Documents live at (collection, id) references and hold a flat map of fields.
// Collections may be nested by path ("users/u1/friends"). Every backend offers
// the same primitives: point reads, ordered range queries, conditional create,
// merge/replace writes, optimistic transactions with internal retry and batch
// deletes. Backends live in sub-packages.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/victornm/quizxp/internal/errors"
)

// DefaultMaxAttempts bounds how many times a transaction function runs before
// the transaction is reported as failed.
const DefaultMaxAttempts = 5

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New(errors.CodeNotFound, errors.WithMessagef("document not found"))

	// ErrAlreadyExists is returned by Create when the target already exists.
	ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("document already exists"))

	// ErrTxFailed is returned when a transaction could not commit within its attempts.
	ErrTxFailed = errors.New(errors.CodeAborted, errors.WithMessagef("transaction failed after retries"))

	// ErrConflict is returned by backends when a commit lost an optimistic race.
	// RunTransaction retries it; callers never see it.
	ErrConflict = errors.New(errors.CodeAborted, errors.WithMessagef("transaction conflict"))
)

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a reference.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Path returns "collection/id".
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Sub returns the path of a collection nested under the document.
func (r Ref) Sub(collection string) string {
	return r.Path() + "/" + collection
}

func (r Ref) String() string {
	return r.Path()
}

// Validate rejects references that cannot be stored.
func (r Ref) Validate() error {
	if r.Collection == "" || r.ID == "" || strings.Contains(r.ID, "/") {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid document reference: %q", r.Path()))
	}

	return nil
}

// Direction of an ordered query.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects documents of one collection.
//
// With OrderBy set, only documents holding that field are returned, sorted by
// the field in Direction with ties broken by document id ascending. Without
// OrderBy all documents are returned sorted by id. Limit <= 0 means no limit.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Tx is the view of the store inside a transaction. Reads observe a
// consistent snapshot; writes are buffered and applied at commit, where
// ServerTimestamp resolves to the commit time.
type Tx interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	Set(ref Ref, fields Fields, merge bool) error
	Delete(ref Ref) error
}

// TxFunc is the body of a transaction. It may run several times.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the durable document store client.
type Store interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)

	// Create writes the document only if nothing exists at ref, failing with
	// ErrAlreadyExists otherwise.
	Create(ctx context.Context, ref Ref, fields Fields) error

	// Set writes fields to ref. With merge, top-level fields are merged into the
	// existing document, each given field fully replaced; otherwise the
	// document is replaced.
	Set(ctx context.Context, ref Ref, fields Fields, merge bool) error

	// RunTransaction runs fn and commits its writes atomically, retrying on
	// write conflicts. ErrTxFailed is returned once attempts are exhausted.
	RunTransaction(ctx context.Context, fn TxFunc) error

	BatchDelete(ctx context.Context, refs []Ref) error

	Close() error
}

// Clock is the time source backends use for ServerTimestamp.
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// NotFound wraps ErrNotFound with the reference.
func NotFound(ref Ref) error {
	return fmt.Errorf("%w: %s", ErrNotFound, ref.Path())
}

// AlreadyExists wraps ErrAlreadyExists with the reference.
func AlreadyExists(ref Ref) error {
	return fmt.Errorf("%w: %s", ErrAlreadyExists, ref.Path())
}

// IsNotFound reports whether err means the document is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.CodeNotFound)
}

// IsAlreadyExists reports whether err is a lost conditional create.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, errors.CodeAlreadyExists)
}
