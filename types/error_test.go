package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	err := NewError(ErrRemote, "request failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	assert.Equal(t, ErrRemote, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[REMOTE_ERROR] request failed: connection refused", err.Error())
}

func TestIsCode_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrLocalSetup, "input file not found")
	wrapped := fmt.Errorf("submit: %w", inner)

	assert.True(t, IsCode(wrapped, ErrLocalSetup))
	assert.False(t, IsCode(wrapped, ErrRemote))
	assert.False(t, IsCode(errors.New("plain"), ErrLocalSetup))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestNewValidationError(t *testing.T) {
	t.Parallel()

	err := NewValidationError([]FieldError{
		{Location: []any{"body", "seed"}, Message: "value is not a valid integer", Kind: "type_error.integer"},
		{Location: []any{"body", "octree_resolution", 0}, Message: "ensure this value is greater than 0", Kind: "value_error"},
	})

	require.Len(t, err.Details, 2)
	assert.Equal(t, ErrRemoteValidation, err.Code)
	assert.Equal(t, 422, err.HTTPStatus)
	assert.Equal(t, "body.seed", err.Details[0].Field())
	assert.Equal(t, "body.octree_resolution.0", err.Details[1].Field())
	assert.Contains(t, err.Error(), "value is not a valid integer")
}
