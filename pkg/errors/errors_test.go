package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeInternal, "boom")
	assert.Equal(t, "INTERNAL_ERROR: boom", err.Error())

	cause := stderrors.New("disk full")
	wrapped := Wrap(ErrCodeDatabase, "write failed", cause)
	assert.Contains(t, wrapped.Error(), "caused by: disk full")
	assert.ErrorIs(t, wrapped, cause)
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{InvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{MissingFieldError("payload"), ErrCodeMissingField, http.StatusBadRequest},
		{ForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{CallNotFoundError(), ErrCodeCallNotFound, http.StatusNotFound},
		{ConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{CallInProgressError(), ErrCodeCallInProgress, http.StatusConflict},
		{DuplicateOfferError(), ErrCodeDuplicateOffer, http.StatusConflict},
		{NoMatchingOfferError(), ErrCodeNoMatchingOffer, http.StatusConflict},
		{NoNegotiationContextError(), ErrCodeNoNegotiationContext, http.StatusConflict},
		{CallTerminatedError(), ErrCodeCallTerminated, http.StatusGone},
		{ServiceUnavailableError("x"), ErrCodeServiceUnavail, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, ConflictError("stale").Retryable())
	assert.True(t, IsRetryable(fmt.Errorf("save: %w", ConflictError("stale"))))

	assert.False(t, IsRetryable(DuplicateOfferError()))
	assert.False(t, IsRetryable(CallTerminatedError()))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestHasCodeAndGetAppError(t *testing.T) {
	wrapped := fmt.Errorf("load call: %w", CallNotFoundError())
	assert.True(t, HasCode(wrapped, ErrCodeCallNotFound))
	assert.False(t, HasCode(wrapped, ErrCodeNotFound))
	assert.True(t, IsAppError(wrapped))
	assert.Equal(t, ErrCodeCallNotFound, GetAppError(wrapped).Code)

	plain := stderrors.New("socket closed")
	assert.False(t, IsAppError(plain))
	appErr := GetAppError(plain)
	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
}

func TestWithDetails(t *testing.T) {
	err := DuplicateOfferError().WithDetails(map[string]string{"leg": "a:b"})
	assert.Equal(t, map[string]string{"leg": "a:b"}, err.Details)
}
