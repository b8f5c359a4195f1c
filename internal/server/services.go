package server

import (
	"context"
	"time"

	"github.com/victornm/quizxp/internal/account"
	"github.com/victornm/quizxp/internal/attempt"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/job"
	"github.com/victornm/quizxp/internal/leaderboard"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/quiz"
	"github.com/victornm/quizxp/internal/xp"
)

// Services are the core services over one platform. The server and the
// admin CLI share them.
type Services struct {
	Quiz        *quiz.Service
	Leaderboard *leaderboard.Service
	XP          *xp.Service
	Attempt     *attempt.Service
	Account     *account.Service

	// Jobs holds the scheduled job bodies by name.
	Jobs *job.Registry
}

// NewEventBus returns the in-process bus. With Redis available, events whose
// handlers fail are kept in the dead-letter queue for reconciliation.
func NewEventBus(c Config, p *platform.Platform) (*event.Bus, *event.DeadLetterQueue) {
	if p.Redis == nil {
		return event.NewBus(), nil
	}

	dlq := event.NewDeadLetterQueue(event.DeadLetterConfig{
		Redis: p.Redis,
		Key:   c.XP.Events.Deadletter,
	})

	return event.NewBus(event.WithErrorHandler(dlq.ErrorHandler())), dlq
}

func NewServices(c Config, p *platform.Platform, eb *event.Bus) *Services {
	s := &Services{}

	s.Quiz = quiz.NewService(quiz.Config{
		Store:      p.Store,
		EventBus:   eb,
		Size:       c.Jobs.Quiz.Size,
		Candidates: c.Jobs.Quiz.Candidates,
	})

	s.Leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        eb,
		Store:           p.Store,
		Limit:           c.Jobs.Leaderboard.Limit,
		Redis:           p.Redis,
		Prefix:          p.RedisPrefix,
		RefreshInterval: c.Jobs.Leaderboard.Refresh,
	})

	s.XP = xp.NewService(xp.Config{
		EventBus: eb,
		Store:    p.Store,
	})

	s.Attempt = attempt.NewService(attempt.Config{
		EventBus: eb,
		Store:    p.Store,
	})

	s.Account = account.NewService(account.Config{
		Store:      p.Store,
		Identities: p.Identities,
	})

	s.Jobs = job.NewRegistry()
	s.Jobs.Register(job.NamePublishQuiz, func(ctx context.Context, at time.Time) error {
		_, err := s.Quiz.Publish(ctx, at)
		return err
	})
	s.Jobs.Register(job.NameAggregateLeaderboards, func(ctx context.Context, at time.Time) error {
		_, err := s.Leaderboard.Aggregate(ctx, at)
		return err
	})

	return s
}
