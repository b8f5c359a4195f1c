// Package job guards scheduled effects so that each (job, period) pair
// materializes at most once, however often the job is triggered.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/telemetry"
)

// Outcome of a guarded run.
type Outcome string

const (
	// Executed means this run produced the effect and wrote the sentinel.
	Executed Outcome = telemetry.JobExecuted
	// Skipped means the sentinel already existed; the effect did not run.
	Skipped Outcome = telemetry.JobSkipped
	// LostRace means the effect ran but a concurrent run wrote the sentinel
	// first. Its result was discarded.
	LostRace Outcome = telemetry.JobLostRace
)

// Effect computes the content of the sentinel document. It must not write
// the guarded state itself.
type Effect func(ctx context.Context) (store.Fields, error)

type Config struct {
	Name       string
	Store      store.Store
	Collection string
}

// Runner runs effects at most once per period key. The sentinel of period K
// is the document {Collection}/{K}; it is also the effect's result.
type Runner struct {
	name       string
	store      store.Store
	collection string
}

func NewRunner(c Config) *Runner {
	return &Runner{
		name:       c.Name,
		store:      c.Store,
		collection: c.Collection,
	}
}

// RunOnce checks for the sentinel of key, runs effect if it is absent and
// persists the result through a conditional create. A failing effect writes
// nothing and is reported so that the next trigger retries it.
func (r *Runner) RunOnce(ctx context.Context, key string, effect Effect) (Outcome, error) {
	ref := store.Doc(r.collection, key)

	_, err := r.store.Get(ctx, ref)
	if err == nil {
		slog.InfoContext(ctx, "job: already done", "job", r.name, "key", key)
		return r.done(Skipped), nil
	}

	if !store.IsNotFound(err) {
		return r.fail(fmt.Errorf("job: %s: check %s: %w", r.name, key, err))
	}

	fields, err := effect(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("job: %s: effect %s: %w", r.name, key, err))
	}

	err = r.store.Create(ctx, ref, fields)
	if store.IsAlreadyExists(err) {
		slog.InfoContext(ctx, "job: lost race, another run completed", "job", r.name, "key", key)
		return r.done(LostRace), nil
	}

	if err != nil {
		return r.fail(fmt.Errorf("job: %s: persist %s: %w", r.name, key, err))
	}

	slog.InfoContext(ctx, "job: executed", "job", r.name, "key", key)
	return r.done(Executed), nil
}

func (r *Runner) done(o Outcome) Outcome {
	telemetry.JobRuns.WithLabelValues(r.name, string(o)).Inc()
	return o
}

func (r *Runner) fail(err error) (Outcome, error) {
	telemetry.JobRuns.WithLabelValues(r.name, telemetry.JobFailed).Inc()
	return "", err
}
