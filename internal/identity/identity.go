// Package identity is the privileged identity directory behind user accounts.
// It is consumed by administrative operations only.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/victornm/quizxp/internal/errors"
)

type Identity struct {
	UID       string         `json:"uid"`
	Email     string         `json:"email,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Store interface {
	Get(ctx context.Context, uid string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	Create(ctx context.Context, id Identity) error
	Delete(ctx context.Context, uid string) error

	// SetClaims replaces the custom claims of uid.
	SetClaims(ctx context.Context, uid string, claims map[string]any) error

	Close() error
}

func notFound(key string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("identity not found: %s", key))
}

func alreadyExists(key string) error {
	return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("identity already exists: %s", key))
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Lookup resolves an identity by email when key looks like one, by uid
// otherwise.
func Lookup(ctx context.Context, s Store, key string) (*Identity, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("email or uid required"))
	}

	if strings.Contains(key, "@") {
		return s.GetByEmail(ctx, key)
	}

	return s.Get(ctx, key)
}
