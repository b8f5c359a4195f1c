package xp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
}

type Service struct {
	eb    *event.Bus
	store store.Store
}

// NewService subscribes the service to attempt creation when a bus is given.
func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameAttemptCreated, s.Handle)
	}

	return s
}

// Handle awards the attempt carried by an attempt.created event.
func (s *Service) Handle(ctx context.Context, e event.Event) error {
	var a domain.Attempt
	switch e := e.(type) {
	case domain.EventAttemptCreated:
		a = e.Attempt
	case *domain.EventAttemptCreated:
		a = e.Attempt
	default:
		return fmt.Errorf("xp: unexpected event %s", e.Name())
	}

	_, err := s.Award(ctx, a)
	return err
}

// Reconcile awards a stored attempt. Attempts already credited are left alone,
// so it is safe for replaying lost events.
func (s *Service) Reconcile(ctx context.Context, attemptID string) (*Result, error) {
	d, err := s.store.Get(ctx, store.Doc(domain.CollectionQuizAttempts, attemptID))
	if err != nil {
		return nil, fmt.Errorf("xp: reconcile %s: %w", attemptID, err)
	}

	var a domain.Attempt
	if err := d.DataTo(&a); err != nil {
		return nil, err
	}
	a.ID = attemptID

	return s.Award(ctx, a)
}

// Result of an award.
type Result struct {
	Award domain.Award
	// Duplicate is set when the attempt had been credited before; Award is
	// then the original award.
	Duplicate bool
}

// Award adds the attempt's XP to its user in one transaction, together with
// a per-attempt record that makes redelivered attempts no-ops. A missing user
// or xp field counts as 0. lastXpAwardAt is the commit time.
func (s *Service) Award(ctx context.Context, a domain.Attempt) (*Result, error) {
	if a.ID == "" || a.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("attempt id and user id are required"))
	}

	var (
		delta    = Compute(a.Score, a.Difficulty)
		userRef  = store.Doc(domain.CollectionUsers, a.UserID)
		awardRef = store.Doc(domain.CollectionXPAwards, a.ID)
		res      Result
	)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		res = Result{}

		prev, err := tx.Get(ctx, awardRef)
		if err == nil {
			res.Duplicate = true
			if err := prev.DataTo(&res.Award); err != nil {
				return err
			}
			res.Award.AttemptID = a.ID
			return nil
		}

		if !store.IsNotFound(err) {
			return err
		}

		var current int64
		user, err := tx.Get(ctx, userRef)
		switch {
		case err == nil:
			current = user.Int("xp")
		case !store.IsNotFound(err):
			return err
		}

		res.Award = domain.Award{
			AttemptID: a.ID,
			UserID:    a.UserID,
			XP:        delta,
			Total:     current + delta,
		}

		if err := tx.Set(userRef, store.Fields{
			"xp":            res.Award.Total,
			"lastXpAwardAt": store.ServerTimestamp,
		}, true); err != nil {
			return err
		}

		return tx.Set(awardRef, res.Award.Fields(), false)
	})
	if err != nil {
		telemetry.XPAwardFailures.Inc()
		slog.ErrorContext(ctx, "xp: award failed",
			"attempt", a.ID,
			"user", a.UserID,
			"xp", delta,
			"error", err,
		)
		return nil, fmt.Errorf("xp: award %s: %w", a.ID, err)
	}

	if res.Duplicate {
		slog.InfoContext(ctx, "xp: attempt already awarded", "attempt", a.ID, "user", a.UserID)
		return &res, nil
	}

	if d, err := s.store.Get(ctx, awardRef); err == nil {
		res.Award.AwardedAt = d.Time("awardedAt")
	}

	telemetry.XPAwarded.Add(float64(delta))
	slog.InfoContext(ctx, "xp: awarded", "attempt", a.ID, "user", a.UserID, "xp", delta, "total", res.Award.Total)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventXPAwarded{Award: res.Award})
	}

	return &res, nil
}
