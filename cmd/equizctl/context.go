package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/victornm/quizxp/internal/config"
	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/event"
	"github.com/victornm/quizxp/internal/platform"
	"github.com/victornm/quizxp/internal/server"
	"github.com/victornm/quizxp/internal/telemetry"
)

type commandContext struct {
	configPath string

	configOnce sync.Once
	config     server.Config
	configErr  error

	mu       sync.Mutex
	bus      *event.Bus
	dlq      *event.DeadLetterQueue
	services *server.Services
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (server.Config, error) {
	c.configOnce.Do(func() {
		cfg := server.DefaultConfig()

		path := strings.TrimSpace(c.configPath)
		if path == "" {
			c.configErr = errors.New(errors.CodeInvalidArgument, errors.WithMessagef("config path not set"))
			return
		}

		if err := config.Load(path, &cfg); err != nil {
			c.configErr = err
			return
		}

		telemetry.SetupLogger(cfg.Log.Level)
		c.config = cfg
	})

	return c.config, c.configErr
}

// open initializes the platform on first use and returns the services over it.
func (c *commandContext) open(ctx context.Context) (*server.Services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.services != nil {
		return c.services, nil
	}

	p, err := platform.Init(ctx, cfg.Platform())
	if err != nil {
		return nil, err
	}

	c.bus, c.dlq = server.NewEventBus(cfg, p)
	c.services = server.NewServices(cfg, p, c.bus)
	return c.services, nil
}

func (c *commandContext) deadLetters(ctx context.Context) (*event.DeadLetterQueue, error) {
	if _, err := c.open(ctx); err != nil {
		return nil, err
	}

	if c.dlq == nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("dead letters need redis"))
	}

	return c.dlq, nil
}

// close stops the bus and releases the platform if a command opened them.
func (c *commandContext) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.services == nil {
		return
	}

	c.bus.Stop()

	if err := platform.Close(); err != nil {
		slog.Error("equizctl: close platform failed", "error", err)
	}

	c.bus, c.dlq, c.services = nil, nil, nil
}

// parseAt reads a tick flag: RFC 3339 or empty for now.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid time %q, want RFC 3339", s))
	}

	return t, nil
}
