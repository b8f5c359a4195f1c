// Package leaderboard maintains the derived leaderboard snapshots.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/period"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/telemetry"
)

const DefaultLimit = 100

type Config struct {
	EventBus *event.Bus
	Store    store.Store

	// Limit is the number of leaders kept in a snapshot.
	Limit int

	// With Redis and RefreshInterval set, XP awards trigger an extra
	// aggregation at most once per interval across all instances.
	Redis           redis.UniversalClient
	Prefix          string
	RefreshInterval time.Duration
}

type Service struct {
	eb      *event.Bus
	store   store.Store
	limit   int
	redis   redis.UniversalClient
	prefix  string
	refresh time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:      c.EventBus,
		store:   c.Store,
		limit:   c.Limit,
		redis:   c.Redis,
		prefix:  c.Prefix,
		refresh: c.RefreshInterval,
	}

	if s.limit <= 0 {
		s.limit = DefaultLimit
	}

	if s.eb != nil && s.redis != nil && s.refresh > 0 {
		s.eb.Subscribe(domain.EventNameXPAwarded, func(ctx context.Context, e event.Event) error {
			return s.scheduleAggregate(ctx)
		})
	}

	return s
}

// Aggregate recomputes both snapshots from the top users by xp. Ties are
// ordered by user id. The snapshots are written in one transaction, merged
// into their documents so that only leaders, updatedAt and week change.
func (s *Service) Aggregate(ctx context.Context, at time.Time) ([]domain.Leaderboard, error) {
	boards, err := s.aggregate(ctx, at)
	if err != nil {
		telemetry.LeaderboardAggregations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("leaderboard: aggregate: %w", err)
	}

	telemetry.LeaderboardAggregations.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "leaderboard: aggregated", "week", boards[0].Week, "leaders", len(boards[0].Leaders))

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboards: boards})
	}

	return boards, nil
}

func (s *Service) aggregate(ctx context.Context, at time.Time) ([]domain.Leaderboard, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: domain.CollectionUsers,
		OrderBy:    "xp",
		Direction:  store.Desc,
		Limit:      s.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}

	leaders := make([]domain.LeaderboardEntry, len(docs))
	for i, d := range docs {
		leaders[i] = domain.LeaderboardEntry{
			ID:       d.Ref.ID,
			XP:       d.Int("xp"),
			Username: d.String("username"),
		}
	}

	boards := []domain.Leaderboard{
		{Board: domain.BoardWeekly, Week: period.Key(at), Leaders: leaders, UpdatedAt: at.UTC()},
		{Board: domain.BoardAllTime, Leaders: leaders, UpdatedAt: at.UTC()},
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, b := range boards {
			if err := tx.Set(store.Doc(domain.CollectionLeaderboards, b.Board), b.Fields(), true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write snapshots: %w", err)
	}

	return boards, nil
}

// GetSnapshot returns the last computed snapshot of board.
func (s *Service) GetSnapshot(ctx context.Context, board string) (*domain.Leaderboard, error) {
	if board != domain.BoardWeekly && board != domain.BoardAllTime {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown leaderboard: %q", board))
	}

	d, err := s.store.Get(ctx, store.Doc(domain.CollectionLeaderboards, board))
	if store.IsNotFound(err) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not computed yet: %s", board))
	}

	if err != nil {
		return nil, fmt.Errorf("leaderboard: get %s: %w", board, err)
	}

	l := &domain.Leaderboard{Board: board}
	if err := d.DataTo(l); err != nil {
		return nil, err
	}

	return l, nil
}

// scheduleAggregate re-aggregates unless another instance did within the
// refresh interval.
func (s *Service) scheduleAggregate(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.refreshKey(), time.Now().UnixMilli(), s.refresh).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx: %w", err)
	}

	if !ok {
		return nil
	}

	_, err = s.Aggregate(ctx, time.Now())
	return err
}

func (s *Service) refreshKey() string {
	return fmt.Sprintf("%s:leaderboard:refresh", s.prefix)
}
