package identity

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const codeUniqueViolation = "23505"

// PostgresStore keeps identities in the identities table (see
// internal/migrations).
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, uid string) (*Identity, error) {
	return s.one(ctx, uid, `SELECT uid, COALESCE(email, ''), claims, created_at FROM identities WHERE uid = $1`, uid)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	email = NormalizeEmail(email)
	return s.one(ctx, email, `SELECT uid, COALESCE(email, ''), claims, created_at FROM identities WHERE email = $1`, email)
}

func (s *PostgresStore) one(ctx context.Context, key, stmt string, arg any) (*Identity, error) {
	var id Identity
	err := s.db.QueryRow(ctx, stmt, arg).Scan(&id.UID, &id.Email, &id.Claims, &id.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}

	if err != nil {
		return nil, fmt.Errorf("identity: get %s: %w", key, err)
	}

	return &id, nil
}

func (s *PostgresStore) Create(ctx context.Context, id Identity) error {
	const stmt = `
INSERT INTO identities (uid, email, claims, created_at)
VALUES ($1, NULLIF($2, ''), $3, COALESCE($4::timestamptz, now()));`

	claims := id.Claims
	if claims == nil {
		claims = map[string]any{}
	}

	var createdAt any
	if !id.CreatedAt.IsZero() {
		createdAt = id.CreatedAt
	}

	_, err := s.db.Exec(ctx, stmt, id.UID, NormalizeEmail(id.Email), claims, createdAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return alreadyExists(id.UID)
	}

	if err != nil {
		return fmt.Errorf("identity: create %s: %w", id.UID, err)
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, uid string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("identity: delete %s: %w", uid, err)
	}

	if tag.RowsAffected() == 0 {
		return notFound(uid)
	}

	return nil
}

func (s *PostgresStore) SetClaims(ctx context.Context, uid string, claims map[string]any) error {
	if claims == nil {
		claims = map[string]any{}
	}

	tag, err := s.db.Exec(ctx, `UPDATE identities SET claims = $2 WHERE uid = $1`, uid, claims)
	if err != nil {
		return fmt.Errorf("identity: set claims %s: %w", uid, err)
	}

	if tag.RowsAffected() == 0 {
		return notFound(uid)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
