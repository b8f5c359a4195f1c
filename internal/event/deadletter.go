package event

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeadLetter is an event whose handling failed, kept for reconciliation.
type DeadLetter struct {
	ID       string          `json:"id"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failedAt"`
}

// Decode unmarshals the payload into the event type it was published as.
func (d DeadLetter) Decode(v Event) error {
	if d.Event != v.Name() {
		return fmt.Errorf("event: dead letter %s holds %q, not %q", d.ID, d.Event, v.Name())
	}

	return json.Unmarshal(d.Payload, v)
}

type DeadLetterConfig struct {
	Redis redis.UniversalClient
	Key   string
}

// DeadLetterQueue is a FIFO of failed events kept in a Redis list.
type DeadLetterQueue struct {
	redis redis.UniversalClient
	key   string
	now   func() time.Time
}

func NewDeadLetterQueue(c DeadLetterConfig) *DeadLetterQueue {
	q := &DeadLetterQueue{
		redis: c.Redis,
		key:   c.Key,
		now:   time.Now,
	}

	if q.key == "" {
		q.key = "equiz:deadletter"
	}

	return q
}

func (q *DeadLetterQueue) Push(ctx context.Context, e Event, cause error) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("event: encode %s: %w", e.Name(), err)
	}

	raw, err := json.Marshal(DeadLetter{
		ID:       uuid.NewString(),
		Event:    e.Name(),
		Payload:  payload,
		Error:    cause.Error(),
		FailedAt: q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("event: encode dead letter: %w", err)
	}

	if err := q.redis.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("event: push dead letter: %w", err)
	}

	return nil
}

// ErrorHandler returns a bus error hook that parks failed events here.
func (q *DeadLetterQueue) ErrorHandler() ErrorHandler {
	return func(ctx context.Context, e Event, err error) {
		if perr := q.Push(ctx, e, err); perr != nil {
			slog.ErrorContext(ctx, "event: dead letter lost", "event", e.Name(), "cause", err, "error", perr)
		}
	}
}

func (q *DeadLetterQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("event: dead letter length: %w", err)
	}

	return n, nil
}

// List returns up to n letters from the head of the queue without removing them.
func (q *DeadLetterQueue) List(ctx context.Context, n int64) ([]DeadLetter, error) {
	raws, err := q.redis.LRange(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("event: list dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var d DeadLetter
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("event: decode dead letter: %w", err)
		}
		letters = append(letters, d)
	}

	return letters, nil
}

// Replay pops letters from the head of the queue and hands them to handle
// until the queue is empty. A letter handle fails on is pushed back to the
// tail and replay stops with that error. Letters that do not decode are
// logged with their payload and dropped.
func (q *DeadLetterQueue) Replay(ctx context.Context, handle func(ctx context.Context, d DeadLetter) error) (int, error) {
	var n int
	for {
		raw, err := q.redis.LPop(ctx, q.key).Bytes()
		if stderrors.Is(err, redis.Nil) {
			return n, nil
		}

		if err != nil {
			return n, fmt.Errorf("event: pop dead letter: %w", err)
		}

		var d DeadLetter
		if err := json.Unmarshal(raw, &d); err != nil {
			// No handler can ever take it; keep the payload in the log.
			slog.ErrorContext(ctx, "event: dropping undecodable dead letter", "payload", string(raw), "error", err)
			continue
		}

		if err := handle(ctx, d); err != nil {
			if perr := q.redis.RPush(ctx, q.key, raw).Err(); perr != nil {
				return n, stderrors.Join(err, fmt.Errorf("event: requeue dead letter %s: %w", d.ID, perr))
			}
			return n, fmt.Errorf("event: replay %s: %w", d.ID, err)
		}

		n++
	}
}
