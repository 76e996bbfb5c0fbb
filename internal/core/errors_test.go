// internal/core/errors_test.go
package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message", Index: NoIndex}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_ErrorWithIndex(t *testing.T) {
	err := ErrMalformedInput.At(7)
	assert.Equal(t, "[MALFORMED_INPUT] malformed input at index 7", err.Error())
	assert.Equal(t, NoIndex, ErrMalformedInput.Index, "At must not mutate the sentinel")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause, Index: NoIndex}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrEmptyInput, ErrEmptyInput) {
		t.Error("same error should match")
	}
	wrapped := fmt.Errorf("sampling: %w", Errorf(ErrInvalidThreshold, "got %v", -1.0))
	assert.ErrorIs(t, wrapped, ErrInvalidThreshold)
	assert.NotErrorIs(t, wrapped, ErrConfigInvalid)
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrInsufficientHorizon.At(3), cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	assert.Equal(t, ErrInsufficientHorizon.Code, wrapped.Code)
	assert.Equal(t, KindInsufficientHorizon, wrapped.Kind)
	assert.Equal(t, 3, wrapped.Index)
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("run: %w", ErrEmptyInput)
	assert.True(t, IsKind(err, KindInput))
	assert.False(t, IsKind(err, KindConfiguration))
	assert.False(t, IsKind(errors.New("plain"), KindInput))

	kind, ok := KindOf(ErrStaleAnchor)
	require.True(t, ok)
	assert.Equal(t, KindInsufficientHorizon, kind)
}

func TestInvariant_Panics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrLookAhead)
		assert.True(t, IsKind(err, KindInvariant))
	}()
	Invariant(ErrLookAhead, "bar %d > %d", 5, 4)
}
