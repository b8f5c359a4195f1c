// Package attempt records finished quiz attempts.
package attempt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/store"
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
}

type Service struct {
	eb    *event.Bus
	store store.Store
}

func NewService(c Config) *Service {
	return &Service{
		eb:    c.EventBus,
		store: c.Store,
	}
}

type RecordRequest struct {
	// AttemptID makes the request idempotent. A new id is generated when empty.
	AttemptID  string
	UserID     string
	QuizID     string
	Score      float64
	Difficulty domain.Difficulty
}

// Record stores an attempt and announces it. Attempts are immutable: recording
// an existing id keeps the stored record and announces it again, so a retry
// after a partial failure still leads to the award.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*domain.Attempt, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	if req.Score < 0 || req.Score > 1 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("score must be within [0, 1], got %v", req.Score))
	}

	switch req.Difficulty {
	case "", domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
	default:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown difficulty: %q", req.Difficulty))
	}

	a := domain.Attempt{
		ID:         req.AttemptID,
		UserID:     req.UserID,
		QuizID:     req.QuizID,
		Score:      req.Score,
		Difficulty: req.Difficulty,
	}

	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("attempt: generate id: %w", err)
		}
		a.ID = id.String()
	}

	if a.Difficulty == "" {
		a.Difficulty = domain.DifficultyMedium
	}

	ref := store.Doc(domain.CollectionQuizAttempts, a.ID)
	err := s.store.Create(ctx, ref, a.Fields())
	if store.IsAlreadyExists(err) {
		// A previous call may have stored it and failed before publishing.
		slog.InfoContext(ctx, "attempt: already recorded, announcing again", "attempt", a.ID)

		stored, err := s.Get(ctx, a.ID)
		if err != nil {
			return nil, err
		}

		s.eb.Publish(ctx, domain.EventAttemptCreated{Attempt: *stored})
		return stored, nil
	}

	if err != nil {
		return nil, fmt.Errorf("attempt: record %s: %w", a.ID, err)
	}

	d, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("attempt: reload %s: %w", a.ID, err)
	}
	a.CreatedAt = d.Time("createdAt")

	s.eb.Publish(ctx, domain.EventAttemptCreated{Attempt: a})
	return &a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	d, err := s.store.Get(ctx, store.Doc(domain.CollectionQuizAttempts, id))
	if err != nil {
		return nil, fmt.Errorf("attempt: get %s: %w", id, err)
	}

	var a domain.Attempt
	if err := d.DataTo(&a); err != nil {
		return nil, err
	}
	a.ID = id

	return &a, nil
}
