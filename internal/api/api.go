// Package api exposes the quiz core over HTTP and gRPC and fans domain events
// out to Redis pubsub channels.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/quizxp/internal/attempt"
	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/job"
	"github.com/victornm/quizxp/internal/leaderboard"
	"github.com/victornm/quizxp/internal/ocr"
	"github.com/victornm/quizxp/internal/quiz"
	"github.com/victornm/quizxp/internal/xp"
)

type Config struct {
	GRPC     *grpc.Server
	HTTP     gin.IRouter
	EventBus *event.Bus

	Quiz        *quiz.Service
	Leaderboard *leaderboard.Service
	Attempt     *attempt.Service
	XP          *xp.Service
	Jobs        *job.Registry
	OCR         ocr.Engine

	// Redis is optional. Without it no pubsub notifications are sent.
	Redis        Redis
	PubsubPrefix string

	Clock func() time.Time
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs   *quiz.Service
	ls   *leaderboard.Service
	as   *attempt.Service
	xs   *xp.Service
	jobs *job.Registry

	redis  Redis
	prefix string
	now    func() time.Time
}

func New(c Config) *API {
	a := &API{
		qs:     c.Quiz,
		ls:     c.Leaderboard,
		as:     c.Attempt,
		xs:     c.XP,
		jobs:   c.Jobs,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		now:    c.Clock,
	}

	if a.now == nil {
		a.now = time.Now
	}

	// HTTP APIs
	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
		if c.OCR != nil {
			ocr.NewHandler(c.OCR).Register(c.HTTP)
		}
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterTriggerServiceServer(c.GRPC, a)
	}

	// Register event handlers
	if c.EventBus != nil && c.Redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})

		c.EventBus.Subscribe(domain.EventNameXPAwarded, func(ctx context.Context, e event.Event) error {
			return a.PublishXPAwarded(ctx, e.(domain.EventXPAwarded))
		})
	}

	return a
}
