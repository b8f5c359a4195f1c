// Package ocr extracts text from images through an external OCR engine.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/victornm/quizxp/internal/errors"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// Engine turns an image into text.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

type Config struct {
	// URL of the OCR server. The image is POSTed as the raw request body and
	// the server answers {"text": "..."}.
	URL     string
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
}

type Option func(e *HTTPEngine)

func WithHTTPClient(c *http.Client) Option {
	return func(e *HTTPEngine) {
		if c != nil {
			e.client = c
		}
	}
}

func WithRetryBackoff(base, max time.Duration) Option {
	return func(e *HTTPEngine) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// HTTPEngine calls an OCR server over HTTP.
type HTTPEngine struct {
	url       string
	retries   int
	client    *http.Client
	baseDelay time.Duration
	maxDelay  time.Duration
}

var _ Engine = (*HTTPEngine)(nil)

func NewHTTPEngine(c Config, opts ...Option) *HTTPEngine {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	e := &HTTPEngine{
		url:       strings.TrimSpace(c.URL),
		retries:   c.Retries,
		client:    &http.Client{Timeout: timeout},
		baseDelay: defaultRetryBaseDelay,
		maxDelay:  defaultRetryMaxDelay,
	}

	if e.retries < 0 {
		e.retries = 0
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

func (e *HTTPEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if e.url == "" {
		return "", errors.New(errors.CodeUnavailable, errors.WithMessagef("ocr engine not configured"))
	}

	var last error
	for attempt := range e.retries + 1 {
		if attempt > 0 {
			if err := sleep(ctx, e.backoff(attempt)); err != nil {
				return "", err
			}
		}

		text, err := e.recognizeOnce(ctx, image)
		if err == nil {
			return text, nil
		}

		last = err
		if !retryable(ctx, err) {
			break
		}
	}

	return "", errors.New(errors.CodeUnavailable,
		errors.WithMessagef("ocr engine failed"),
		errors.WithCause(fmt.Errorf("ocr: recognize: %w", last)),
	)
}

func (e *HTTPEngine) recognizeOnce(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return out.Text, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var se *statusError
	if stderrors.As(err, &se) {
		return se.code == http.StatusRequestTimeout ||
			se.code == http.StatusTooManyRequests ||
			se.code >= http.StatusInternalServerError
	}

	var ne net.Error
	return stderrors.As(err, &ne)
}

func (e *HTTPEngine) backoff(attempt int) time.Duration {
	d := e.baseDelay << (attempt - 1)
	if d > e.maxDelay || d <= 0 {
		d = e.maxDelay
	}

	if d <= 0 {
		return 0
	}

	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
