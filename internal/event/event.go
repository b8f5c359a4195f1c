package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/victornm/quizxp/internal/telemetry"
)

const (
	defaultPoolSize = 10000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// ErrorHandler is told about every handler that failed or panicked, after the
// failure has been logged.
type ErrorHandler func(ctx context.Context, e Event, err error)

type Option func(b *Bus)

func WithPoolSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.pool = make(chan struct{}, n)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) {
		b.onError = h
	}
}

// Bus is an in-memory event bus. Delivery is asynchronous and unordered;
// handlers must tolerate redelivery.
type Bus struct {
	pool     chan struct{}
	timeout  time.Duration
	onError  ErrorHandler
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		timeout:  defaultTimeout,
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer func() {
			if r := recover(); r != nil {
				b.fail(ctx, e, fmt.Errorf("handler panic: %v, stack: %s", r, debug.Stack()))
			}

			cancel()
			<-b.pool
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			b.fail(ctx, e, err)
		}
	}()
}

func (b *Bus) fail(ctx context.Context, e Event, err error) {
	slog.ErrorContext(ctx, "event: handle event failed",
		"event", e.Name(),
		"error", err,
	)
	telemetry.EventFailures.WithLabelValues(e.Name()).Inc()

	if b.onError != nil {
		b.onError(ctx, e, err)
	}
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
