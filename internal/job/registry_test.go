package job_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/job"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	r := job.NewRegistry()

	var got time.Time
	r.Register(job.NamePublishQuiz, func(_ context.Context, t time.Time) error {
		got = t
		return nil
	})
	r.Register(job.NameAggregateLeaderboards, func(context.Context, time.Time) error {
		return stderrors.New("store down")
	})

	assert.Equal(t, []string{job.NameAggregateLeaderboards, job.NamePublishQuiz}, r.Names())

	require.NoError(t, r.Run(ctx, job.NamePublishQuiz, at))
	assert.Equal(t, at, got)

	err := r.Run(ctx, job.NameAggregateLeaderboards, at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")

	err = r.Run(ctx, "vacuum", at)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
