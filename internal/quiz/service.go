// Package quiz publishes the weekly question set.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/quizxp/internal/domain"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/job"
	"github.com/victornm/quizxp/internal/period"
	"github.com/victornm/quizxp/internal/store"
)

const (
	DefaultSize       = 15
	DefaultCandidates = 50
)

// Selector picks at most n question ids from candidates, newest first.
type Selector func(candidates []domain.Question, n int) []string

// FirstN takes the n newest candidates.
func FirstN(candidates []domain.Question, n int) []string {
	if len(candidates) < n {
		n = len(candidates)
	}

	ids := make([]string, n)
	for i := range ids {
		ids[i] = candidates[i].ID
	}

	return ids
}

type Config struct {
	Store    store.Store
	EventBus *event.Bus

	// Size is the number of questions of a quiz.
	Size int
	// Candidates is how many of the newest questions are considered.
	Candidates int
	Selector   Selector
}

type Service struct {
	store      store.Store
	eb         *event.Bus
	runner     *job.Runner
	size       int
	candidates int
	selector   Selector
}

func NewService(c Config) *Service {
	s := &Service{
		store:      c.Store,
		eb:         c.EventBus,
		size:       c.Size,
		candidates: c.Candidates,
		selector:   c.Selector,
		runner: job.NewRunner(job.Config{
			Name:       job.NamePublishQuiz,
			Store:      c.Store,
			Collection: domain.CollectionWeeklyQuizzes,
		}),
	}

	if s.size <= 0 {
		s.size = DefaultSize
	}

	if s.candidates < s.size {
		s.candidates = max(DefaultCandidates, s.size)
	}

	if s.selector == nil {
		s.selector = FirstN
	}

	return s
}

// Publish creates the quiz of the week containing at unless it exists. With
// fewer candidates than the quiz size the short list is published.
func (s *Service) Publish(ctx context.Context, at time.Time) (job.Outcome, error) {
	key := period.Key(at)

	var published domain.Quiz
	outcome, err := s.runner.RunOnce(ctx, key, func(ctx context.Context) (store.Fields, error) {
		candidates, err := s.latestQuestions(ctx)
		if err != nil {
			return nil, err
		}

		published = domain.Quiz{
			ID:          key,
			QuestionIDs: s.selector(candidates, s.size),
			Status:      domain.QuizStatusActive,
		}

		if len(published.QuestionIDs) < s.size {
			slog.WarnContext(ctx, "quiz: publishing short quiz",
				"week", key,
				"questions", len(published.QuestionIDs),
				"size", s.size,
			)
		}

		return published.Fields(), nil
	})
	if err != nil {
		return outcome, fmt.Errorf("quiz: publish %s: %w", key, err)
	}

	if outcome == job.Executed && s.eb != nil {
		s.eb.Publish(ctx, domain.EventQuizPublished{Quiz: published})
	}

	return outcome, nil
}

func (s *Service) latestQuestions(ctx context.Context) ([]domain.Question, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: domain.CollectionQuestions,
		OrderBy:    "createdAt",
		Direction:  store.Desc,
		Limit:      s.candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	questions := make([]domain.Question, len(docs))
	for i, d := range docs {
		if err := d.DataTo(&questions[i]); err != nil {
			return nil, err
		}
		questions[i].ID = d.Ref.ID
	}

	return questions, nil
}

// Get returns the quiz published for the week key.
func (s *Service) Get(ctx context.Context, week string) (*domain.Quiz, error) {
	if _, err := period.Start(week); err != nil {
		return nil, err
	}

	d, err := s.store.Get(ctx, store.Doc(domain.CollectionWeeklyQuizzes, week))
	if store.IsNotFound(err) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no quiz published for %s", week))
	}

	if err != nil {
		return nil, fmt.Errorf("quiz: get %s: %w", week, err)
	}

	var q domain.Quiz
	if err := d.DataTo(&q); err != nil {
		return nil, err
	}

	return &q, nil
}
