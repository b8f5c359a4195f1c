package server

import (
	"time"

	"github.com/victornm/quizxp/internal/leaderboard"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/quiz"
	"github.com/victornm/quizxp/internal/schedule"
	"github.com/victornm/quizxp/internal/store"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Store struct {
		Driver      string
		MaxAttempts int
	}

	Redis struct {
		Store  platform.RedisConfig
		Pubsub platform.RedisConfig
	}

	Postgres struct {
		Store platform.PostgresConfig
	}

	Mongo platform.MongoConfig

	OCR struct {
		URL     string
		Timeout time.Duration
		Retries int
	}

	Jobs struct {
		// Disabled leaves scheduling to an external trigger.
		Disabled bool

		Quiz struct {
			Size       int
			Candidates int
			Every      time.Duration
			Anchor     time.Time
		}

		Leaderboard struct {
			Limit int
			Every time.Duration
			// Refresh re-aggregates on XP awards, at most once per interval.
			Refresh time.Duration
			Anchor  time.Time
		}
	}

	XP struct {
		Events struct {
			Deadletter string
		}
	}
}

// DefaultConfig returns the values used for keys absent from the config file.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"

	c.Store.Driver = platform.DriverRedis
	c.Store.MaxAttempts = store.DefaultMaxAttempts
	c.Redis.Store.Prefix = "equiz"
	c.Redis.Pubsub.Prefix = "equiz"
	c.Mongo.Database = "equiz"

	c.OCR.Timeout = 30 * time.Second
	c.OCR.Retries = 2

	weekly, daily := schedule.Weekly(), schedule.Daily()
	c.Jobs.Quiz.Size = quiz.DefaultSize
	c.Jobs.Quiz.Candidates = quiz.DefaultCandidates
	c.Jobs.Quiz.Every = weekly.Every
	c.Jobs.Quiz.Anchor = weekly.Anchor
	c.Jobs.Leaderboard.Limit = leaderboard.DefaultLimit
	c.Jobs.Leaderboard.Every = daily.Every
	c.Jobs.Leaderboard.Anchor = daily.Anchor

	c.XP.Events.Deadletter = "equiz:deadletter"

	return c
}

// Platform returns the connection settings of the process-wide platform.
func (c Config) Platform() platform.Config {
	return platform.Config{
		Store:    c.Store,
		Redis:    c.Redis,
		Postgres: c.Postgres,
		Mongo:    c.Mongo,
	}
}
