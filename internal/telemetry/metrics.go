package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job run results.
const (
	JobExecuted = "executed"
	JobSkipped  = "skipped"
	JobLostRace = "lost_race"
	JobFailed   = "failed"
)

var (
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equiz_job_runs_total",
		Help: "Runs of period guarded jobs by outcome.",
	}, []string{"job", "result"})

	XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equiz_xp_awarded_total",
		Help: "XP credited to users.",
	})

	XPAwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equiz_xp_award_failures_total",
		Help: "Attempts whose XP award could not be committed.",
	})

	LeaderboardAggregations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equiz_leaderboard_aggregations_total",
		Help: "Leaderboard aggregation runs by result.",
	}, []string{"result"})

	ScheduledFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equiz_scheduled_failures_total",
		Help: "Scheduled job firings that returned an error.",
	}, []string{"job"})

	EventFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equiz_event_failures_total",
		Help: "Event handler failures by event name.",
	}, []string{"event"})
)
