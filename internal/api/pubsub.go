package api

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizxp/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	// Ranking is a user's place on one leaderboard.
	Ranking struct {
		Board string `json:"board"`
		Week  string `json:"week,omitempty"`
		Rank  int    `json:"rank"`
		XP    int64  `json:"xp"`
	}

	XPAwarded struct {
		AttemptID string `json:"attempt_id"`
		XP        int64  `json:"xp"`
		Total     int64  `json:"total"`
	}
)

// PublishLeaderboardUpdated tells every leader their rankings, one message
// per user across all updated boards.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	rankings := make(map[string][]Ranking)
	for _, l := range e.Leaderboards {
		for i, entry := range l.Leaders {
			rankings[entry.ID] = append(rankings[entry.ID], Ranking{
				Board: l.Board,
				Week:  l.Week,
				Rank:  i + 1,
				XP:    entry.XP,
			})
		}
	}

	users := make([]string, 0, len(rankings))
	for user := range rankings {
		users = append(users, user)
	}
	slices.Sort(users)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, user := range users {
		eg.Go(func() error {
			return a.publishNotification(ctx, user, e.Name(), rankings[user])
		})
	}

	return eg.Wait()
}

func (a *API) PublishXPAwarded(ctx context.Context, e domain.EventXPAwarded) error {
	return a.publishNotification(ctx, e.Award.UserID, e.Name(), XPAwarded{
		AttemptID: e.Award.AttemptID,
		XP:        e.Award.XP,
		Total:     e.Award.Total,
	})
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", event, err)
	}

	return a.redis.Publish(ctx, UserChannel(a.prefix, user), b).Err()
}

// UserChannel is the pubsub channel carrying a user's notifications.
func UserChannel(prefix, user string) string {
	return fmt.Sprintf("%s:user:%s", prefix, user)
}
