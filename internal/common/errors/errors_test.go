package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", NotFound("session", "s1"), ErrCodeNotFound, http.StatusNotFound},
		{"bad request", BadRequest("missing body"), ErrCodeBadRequest, http.StatusBadRequest},
		{"conflict", Conflict("session already active"), ErrCodeConflict, http.StatusConflict},
		{"validation", ValidationError("task", "must not be empty"), ErrCodeValidationError, http.StatusBadRequest},
		{"internal", InternalError("store failed", errors.New("disk full")), ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
			assert.Contains(t, tc.err.Error(), tc.code)
		})
	}
}

func TestWrapPreservesAppErrorCode(t *testing.T) {
	inner := Conflict("session 's1' is already active")
	wrapped := Wrap(fmt.Errorf("dispatch failed: %w", inner), "start action")

	assert.Equal(t, ErrCodeConflict, wrapped.Code)
	assert.Equal(t, http.StatusConflict, wrapped.HTTPStatus)
	assert.Contains(t, wrapped.Message, "start action")

	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(cause, "failed to reach store")

	assert.Equal(t, ErrCodeInternalError, wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "nothing happened"))
}
