package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizxp/internal/api"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/job"
	"github.com/victornm/quizxp/internal/ocr"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/schedule"
	"github.com/victornm/quizxp/internal/telemetry"
)

type Server struct {
	c Config

	eb  *event.Bus
	dlq *event.DeadLetterQueue

	platform *platform.Platform
	service  *Services

	scheduler *schedule.Scheduler
	ctx       context.Context
	stop      context.CancelFunc
	done      chan struct{}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(ctx context.Context, c Config) (*Server, error) {
	s := &Server{c: c, done: make(chan struct{})}
	s.ctx, s.stop = context.WithCancel(context.Background())

	var err error
	s.platform, err = platform.Init(ctx, c.Platform())
	if err != nil {
		return nil, fmt.Errorf("server: init platform: %w", err)
	}

	s.eb, s.dlq = NewEventBus(c, s.platform)
	s.service = NewServices(c, s.platform, s.eb)
	s.warnDeadLetters(ctx)

	if err := s.initScheduler(); err != nil {
		return nil, fmt.Errorf("server: init scheduler: %w", err)
	}

	s.initAPI()
	return s, nil
}

// warnDeadLetters reports events left unhandled by a previous run. They are
// replayed with equizctl.
func (s *Server) warnDeadLetters(ctx context.Context) {
	if s.dlq == nil {
		return
	}

	n, err := s.dlq.Len(ctx)
	if err != nil {
		slog.WarnContext(ctx, "server: count dead letters failed", "error", err)
		return
	}

	if n > 0 {
		slog.WarnContext(ctx, "server: dead letters pending", "count", n)
	}
}

func (s *Server) initScheduler() error {
	s.scheduler = schedule.New(schedule.Config{})
	if s.c.Jobs.Disabled {
		slog.Info("server: scheduler disabled, waiting for external triggers")
		return nil
	}

	jobs := []struct {
		name  string
		every time.Duration
		at    time.Time
	}{
		{job.NamePublishQuiz, s.c.Jobs.Quiz.Every, s.c.Jobs.Quiz.Anchor},
		{job.NameAggregateLeaderboards, s.c.Jobs.Leaderboard.Every, s.c.Jobs.Leaderboard.Anchor},
	}

	for _, j := range jobs {
		run, err := s.service.Jobs.Get(j.name)
		if err != nil {
			return err
		}

		if err := s.scheduler.Add(schedule.Job{
			Name:     j.name,
			Schedule: schedule.Schedule{Every: j.every, Anchor: j.at},
			Run:      run,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	var engine ocr.Engine
	if s.c.OCR.URL != "" {
		engine = ocr.NewHTTPEngine(ocr.Config{
			URL:     s.c.OCR.URL,
			Timeout: s.c.OCR.Timeout,
			Retries: s.c.OCR.Retries,
		})
	} else {
		slog.Warn("server: ocr url not set, /ocr disabled")
	}

	api.New(api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Quiz:         s.service.Quiz,
		Leaderboard:  s.service.Leaderboard,
		Attempt:      s.service.Attempt,
		XP:           s.service.XP,
		Jobs:         s.service.Jobs,
		OCR:          engine,
		Redis:        s.platform.Redis,
		PubsubPrefix: s.platform.RedisPrefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves until Shutdown.
func (s *Server) Start() {
	ctx := s.ctx
	defer close(s.done)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: scheduler started", "jobs", s.service.Jobs.Names())
		s.scheduler.Run(ctx)
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.stop()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Scheduled runs still in flight may publish events.
	select {
	case <-s.done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "server: timed out waiting for scheduled runs")
	}

	s.eb.Stop()

	if err := platform.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close platform failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
