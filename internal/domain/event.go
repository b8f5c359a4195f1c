package domain

const (
	EventNameAttemptCreated     = "attempt.created"
	EventNameXPAwarded          = "xp.awarded"
	EventNameQuizPublished      = "quiz.published"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAttemptCreated struct {
	Attempt Attempt `json:"attempt"`
}

func (EventAttemptCreated) Name() string { return EventNameAttemptCreated }

type EventXPAwarded struct {
	Award Award `json:"award"`
}

func (EventXPAwarded) Name() string { return EventNameXPAwarded }

type EventQuizPublished struct {
	Quiz Quiz `json:"quiz"`
}

func (EventQuizPublished) Name() string { return EventNameQuizPublished }

type EventLeaderboardUpdated struct {
	Leaderboards []Leaderboard `json:"leaderboards"`
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
