// Package account implements the privileged administrative operations on a
// single user: account deletion and admin grants.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/identity"
	"github.com/victornm/quizxp/internal/store"
)

// ClaimAdmin is the custom claim granting admin capabilities.
const ClaimAdmin = "admin"

// Subcollections are the nested collections removed with a user.
var Subcollections = []string{domain.SubcollectionFriends, domain.SubcollectionFriendRequests}

type Config struct {
	Store      store.Store
	Identities identity.Store
}

type Service struct {
	store      store.Store
	identities identity.Store
}

func NewService(c Config) *Service {
	return &Service{
		store:      c.Store,
		identities: c.Identities,
	}
}

type DeleteReport struct {
	UID   string
	Email string

	// Found is false when no identity matched; nothing was deleted then.
	Found bool

	// Deleted counts removed documents per subcollection.
	Deleted map[string]int
}

// DeleteUser removes the identity matching emailOrUID with its user document
// and subcollections. An unknown user is reported in the result and is not an
// error.
func (s *Service) DeleteUser(ctx context.Context, emailOrUID string) (DeleteReport, error) {
	id, err := identity.Lookup(ctx, s.identities, emailOrUID)
	if errors.Is(err, errors.CodeNotFound) {
		slog.InfoContext(ctx, "account: no user found", "key", emailOrUID)
		return DeleteReport{}, nil
	}

	if err != nil {
		return DeleteReport{}, fmt.Errorf("account: lookup %s: %w", emailOrUID, err)
	}

	r := DeleteReport{
		UID:     id.UID,
		Email:   id.Email,
		Found:   true,
		Deleted: make(map[string]int, len(Subcollections)),
	}

	user := store.Doc(domain.CollectionUsers, id.UID)
	if err := s.store.BatchDelete(ctx, []store.Ref{user}); err != nil {
		return r, fmt.Errorf("account: delete %s: %w", user, err)
	}

	for _, sub := range Subcollections {
		n, err := s.deleteCollection(ctx, user.Sub(sub))
		if err != nil {
			return r, fmt.Errorf("account: delete %s: %w", user.Sub(sub), err)
		}

		r.Deleted[sub] = n
		slog.InfoContext(ctx, "account: deleted subcollection", "uid", id.UID, "collection", sub, "count", n)
	}

	if err := s.identities.Delete(ctx, id.UID); err != nil && !errors.Is(err, errors.CodeNotFound) {
		return r, fmt.Errorf("account: delete identity %s: %w", id.UID, err)
	}

	slog.InfoContext(ctx, "account: user deleted", "uid", id.UID)
	return r, nil
}

func (s *Service) deleteCollection(ctx context.Context, collection string) (int, error) {
	docs, err := s.store.Query(ctx, store.Query{Collection: collection})
	if err != nil {
		return 0, err
	}

	refs := make([]store.Ref, len(docs))
	for i, d := range docs {
		refs[i] = d.Ref
	}

	if err := s.store.BatchDelete(ctx, refs); err != nil {
		return 0, err
	}

	return len(refs), nil
}

// GrantAdmin sets the admin claim on uid, keeping its other claims. The user
// sees it after their next token refresh.
func (s *Service) GrantAdmin(ctx context.Context, uid string) error {
	if uid == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("uid required"))
	}

	id, err := s.identities.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("account: grant admin %s: %w", uid, err)
	}

	claims := maps.Clone(id.Claims)
	if claims == nil {
		claims = make(map[string]any, 1)
	}
	claims[ClaimAdmin] = true

	if err := s.identities.SetClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("account: grant admin %s: %w", uid, err)
	}

	slog.InfoContext(ctx, "account: admin claim set", "uid", uid)
	return nil
}
