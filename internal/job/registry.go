package job

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/victornm/quizxp/internal/errors"
)

// Names of the scheduled jobs.
const (
	NamePublishQuiz           = "publish_quiz"
	NameAggregateLeaderboards = "aggregate_leaderboards"
)

// Func is a job body, run for the tick at.
type Func func(ctx context.Context, at time.Time) error

// Registry maps job names to their bodies so that the scheduler, the APIs
// and the CLI trigger the same code.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Func)}
}

func (r *Registry) Register(name string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[name] = f
}

// Get returns the body of name or a NotFound error.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.jobs[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("unknown job %q", name))
	}

	return f, nil
}

func (r *Registry) Run(ctx context.Context, name string, at time.Time) error {
	f, err := r.Get(name)
	if err != nil {
		return err
	}

	if err := f(ctx, at); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
