package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Is(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("Project", "p1")
	assert.True(t, errors.Is(err, &AppError{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &AppError{Code: CodeConflict}))
}

func TestAppError_WrappingSurvives(t *testing.T) {
	t.Parallel()

	inner := NewInsufficientBalanceError(10, 3)
	wrapped := fmt.Errorf("spend failed: %w", inner)

	assert.True(t, IsInsufficientBalance(wrapped))
	assert.False(t, IsNotFound(wrapped))

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, CodeInsufficientBalance, appErr.Code)
}

func TestAppError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewTransportError(cause)
	assert.ErrorIs(t, err, cause)
}

func TestNewNotFoundError_Message(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("Project", "abc")
	assert.Contains(t, err.Message, "Project")
	assert.Equal(t, CodeNotFound, err.Code)
}
