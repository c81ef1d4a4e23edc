package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = stderrors.New("sentinel")

func TestStandardError_UnwrapKeepsCause(t *testing.T) {
	err := NewConfigurationError("channel", "code: email", errSentinel)

	assert.True(t, stderrors.Is(err, errSentinel))
	assert.Contains(t, err.Error(), "CONFIGURATION_ERROR")
	assert.Contains(t, err.Error(), "code: email")
	assert.False(t, err.Retryable)
}

func TestAsStandardError_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", NewTransportError("sms", errSentinel))

	stdErr, ok := AsStandardError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTransport, stdErr.Code)
	assert.True(t, HasCode(wrapped, ErrCodeTransport))
	assert.False(t, HasCode(wrapped, ErrCodeConfiguration))
	assert.False(t, HasCode(errSentinel, ErrCodeTransport))
}

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeConfiguration, 0},
		{ErrCodeNotificationNotFound, 0},
		{ErrCodeInvalidStateTransition, 0},
		{ErrCodeValidationFailed, 0},
		{ErrCodeTransport, 3},
		{ErrCodeDatabaseQueryFailed, 3},
		{ErrCodeConcurrentModification, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetRetryCount(tt.code))
			assert.Equal(t, tt.want > 0, IsRetryableErrorCode(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewTransportError("email", errSentinel))
	assert.Equal(t, "TRANSPORT_ERROR", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "TRANSPORT_ERROR", vars["errorCode"])
	assert.Equal(t, "TRANSPORT_ERROR", vars["originalErrorCode"])
	assert.Equal(t, true, vars["retryable"])

	// A retryable code on a non-retryable error must not be retried.
	stdErr := NewTransportError("email", errSentinel)
	stdErr.Retryable = false
	assert.Equal(t, 0, ConvertToBPMNError(stdErr).Retries)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "CONFIGURATION", GetErrorCategory(ErrCodeConfiguration))
	assert.Equal(t, "NOTIFICATION", GetErrorCategory(ErrCodeNotificationNotFound))
	assert.Equal(t, "NOTIFICATION", GetErrorCategory(ErrCodeConcurrentModification))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeTransport))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabaseQueryFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeValidationFailed))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING_ELSE"))
}

func TestNormalize(t *testing.T) {
	plain := Normalize(errSentinel)
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), plain.Code)
	assert.True(t, stderrors.Is(plain, errSentinel))

	orig := NewValidationError("tenantId: required field missing")
	assert.Same(t, orig, Normalize(fmt.Errorf("wrap: %w", orig)))
}
