package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/errors"
)

func TestHTTPEngine_Recognize(t *testing.T) {
	type result struct {
		text  string
		err   error
		calls int32
	}

	tests := map[string]struct {
		retries int
		handler func(call int32, w http.ResponseWriter, r *http.Request)
		assert  func(t *testing.T, res result)
	}{
		"Success": {
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if r.Method != http.MethodPost || string(body) != "image" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_ = json.NewEncoder(w).Encode(Response{Text: "hello world"})
			},
			assert: func(t *testing.T, res result) {
				require.NoError(t, res.err)
				assert.Equal(t, "hello world", res.text)
				assert.Equal(t, int32(1), res.calls)
			},
		},

		"Retry on server error": {
			retries: 2,
			handler: func(call int32, w http.ResponseWriter, _ *http.Request) {
				if call < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				_ = json.NewEncoder(w).Encode(Response{Text: "third time"})
			},
			assert: func(t *testing.T, res result) {
				require.NoError(t, res.err)
				assert.Equal(t, "third time", res.text)
				assert.Equal(t, int32(3), res.calls)
			},
		},

		"Retries exhausted": {
			retries: 1,
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			assert: func(t *testing.T, res result) {
				require.Error(t, res.err)
				assert.True(t, errors.Is(res.err, errors.CodeUnavailable))
				assert.Equal(t, int32(2), res.calls)
			},
		},

		"Client error is not retried": {
			retries: 3,
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
			},
			assert: func(t *testing.T, res result) {
				require.Error(t, res.err)
				assert.Equal(t, int32(1), res.calls)
			},
		},

		"Malformed response": {
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			assert: func(t *testing.T, res result) {
				require.Error(t, res.err)
				assert.Equal(t, int32(1), res.calls)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tc.handler(calls.Add(1), w, r)
			}))
			defer srv.Close()

			e := NewHTTPEngine(Config{URL: srv.URL, Retries: tc.retries}, WithRetryBackoff(time.Millisecond, time.Millisecond))

			text, err := e.Recognize(context.Background(), []byte("image"))
			tc.assert(t, result{text: text, err: err, calls: calls.Load()})
		})
	}
}

func TestHTTPEngine_NotConfigured(t *testing.T) {
	_, err := NewHTTPEngine(Config{}).Recognize(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
}

func TestHTTPEngine_ContextCanceledStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewHTTPEngine(Config{URL: srv.URL, Retries: 5}, WithRetryBackoff(time.Hour, time.Hour))
	_, err := e.Recognize(ctx, []byte("image"))
	require.Error(t, err)
	assert.LessOrEqual(t, calls.Load(), int32(1))
}
