package domain

import (
	"time"

	"github.com/victornm/quizxp/internal/store"
)

// Collections of the document store.
const (
	CollectionQuestions     = "questions"
	CollectionWeeklyQuizzes = "weekly_quizzes"
	CollectionUsers         = "users"
	CollectionQuizAttempts  = "quiz_attempts"
	CollectionLeaderboards  = "leaderboards_global"
	CollectionXPAwards      = "xp_awards"

	SubcollectionFriends        = "friends"
	SubcollectionFriendRequests = "friendRequests"
)

// Leaderboard snapshot documents.
const (
	BoardWeekly  = "weekly"
	BoardAllTime = "all_time"
)

type QuizStatus string

const (
	QuizStatusActive   QuizStatus = "active"
	QuizStatusArchived QuizStatus = "archived"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Quiz is the question set published for one week. Its id is the week key.
type Quiz struct {
	ID          string     `mapstructure:"id" json:"id"`
	QuestionIDs []string   `mapstructure:"questionIds" json:"questionIds"`
	CreatedAt   time.Time  `mapstructure:"createdAt" json:"createdAt"`
	Status      QuizStatus `mapstructure:"status" json:"status"`
}

// Fields returns the document written on publish. createdAt is left to the
// store clock.
func (q Quiz) Fields() store.Fields {
	return store.Fields{
		"id":          q.ID,
		"questionIds": q.QuestionIDs,
		"createdAt":   store.ServerTimestamp,
		"status":      string(q.Status),
	}
}

// Question is a candidate for weekly quizzes. Questions are managed outside
// this service and only read here.
type Question struct {
	ID        string    `mapstructure:"-" json:"id"`
	Text      string    `mapstructure:"text" json:"text"`
	Options   []string  `mapstructure:"options" json:"options,omitempty"`
	CreatedAt time.Time `mapstructure:"createdAt" json:"createdAt"`
}

func (q Question) Fields() store.Fields {
	return store.Fields{
		"text":      q.Text,
		"options":   q.Options,
		"createdAt": q.CreatedAt,
	}
}

// User is the part of a user profile the XP flow touches.
type User struct {
	ID            string    `mapstructure:"-" json:"id"`
	XP            int64     `mapstructure:"xp" json:"xp"`
	LastXPAwardAt time.Time `mapstructure:"lastXpAwardAt" json:"lastXpAwardAt"`
	Username      string    `mapstructure:"username" json:"username,omitempty"`
}

// Attempt is an immutable record of a finished quiz. Its creation triggers
// exactly one XP award.
type Attempt struct {
	ID         string     `mapstructure:"-" json:"id"`
	UserID     string     `mapstructure:"userId" json:"userId"`
	QuizID     string     `mapstructure:"quizId" json:"quizId,omitempty"`
	Score      float64    `mapstructure:"score" json:"score"`
	Difficulty Difficulty `mapstructure:"difficulty" json:"difficulty,omitempty"`
	CreatedAt  time.Time  `mapstructure:"createdAt" json:"createdAt"`
}

func (a Attempt) Fields() store.Fields {
	f := store.Fields{
		"userId":     a.UserID,
		"score":      a.Score,
		"difficulty": string(a.Difficulty),
		"createdAt":  store.ServerTimestamp,
	}

	if a.QuizID != "" {
		f["quizId"] = a.QuizID
	}

	return f
}

// Leaderboard is a derived snapshot of the top users.
type Leaderboard struct {
	Board     string             `mapstructure:"-" json:"board"`
	Week      string             `mapstructure:"week" json:"week,omitempty"`
	Leaders   []LeaderboardEntry `mapstructure:"leaders" json:"leaders"`
	UpdatedAt time.Time          `mapstructure:"updatedAt" json:"updatedAt"`
}

type LeaderboardEntry struct {
	ID       string `mapstructure:"id" json:"id"`
	XP       int64  `mapstructure:"xp" json:"xp"`
	Username string `mapstructure:"username" json:"username,omitempty"`
}

// Fields returns the snapshot write. Callers merge it into the container so
// that leaders and updatedAt are replaced and other fields are kept.
func (l Leaderboard) Fields() store.Fields {
	leaders := make([]map[string]any, len(l.Leaders))
	for i, e := range l.Leaders {
		leaders[i] = map[string]any{"id": e.ID, "xp": e.XP}
		if e.Username != "" {
			leaders[i]["username"] = e.Username
		}
	}

	f := store.Fields{
		"leaders":   leaders,
		"updatedAt": store.ServerTimestamp,
	}

	if l.Week != "" {
		f["week"] = l.Week
	}

	return f
}

// Award records that an attempt has been credited. It doubles as the
// idempotency key of the award.
type Award struct {
	AttemptID string    `mapstructure:"-" json:"attemptId"`
	UserID    string    `mapstructure:"userId" json:"userId"`
	XP        int64     `mapstructure:"xp" json:"xp"`
	Total     int64     `mapstructure:"total" json:"total"`
	AwardedAt time.Time `mapstructure:"awardedAt" json:"awardedAt"`
}

func (a Award) Fields() store.Fields {
	return store.Fields{
		"userId":    a.UserID,
		"xp":        a.XP,
		"total":     a.Total,
		"awardedAt": store.ServerTimestamp,
	}
}
