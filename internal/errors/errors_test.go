package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/victornm/quizxp/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode errors.Code
		wantHTTP int
	}{
		"plain error becomes internal": {
			err:      stderrors.New("boom"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
		},
		"wrapped not found keeps its code": {
			err:      fmt.Errorf("get user: %w", errors.New(errors.CodeNotFound)),
			wantCode: errors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
		},
		"aborted transaction maps to conflict": {
			err:      errors.New(errors.CodeAborted),
			wantCode: errors.CodeAborted,
			wantHTTP: http.StatusConflict,
		},
		"unimplemented maps to method not allowed": {
			err:      errors.New(errors.CodeUnimplemented),
			wantCode: errors.CodeUnimplemented,
			wantHTTP: http.StatusMethodNotAllowed,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := errors.Convert(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			assert.Equal(t, codes.Code(tt.wantCode), e.GRPCStatus().Code())
		})
	}
}

func TestIs(t *testing.T) {
	cause := stderrors.New("driver: duplicate key")
	err := fmt.Errorf("create: %w", errors.New(errors.CodeAlreadyExists, errors.WithCause(cause)))

	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
	assert.False(t, errors.Is(err, errors.CodeNotFound))
	assert.False(t, errors.Is(cause, errors.CodeAlreadyExists))
	assert.ErrorIs(t, err, cause)
}

func TestWithMessagef(t *testing.T) {
	e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef("imageBase64 required: got %d bytes", 0))
	assert.Equal(t, "imageBase64 required: got 0 bytes", e.Message)
	assert.Contains(t, e.Error(), "imageBase64 required")
}
