package contextutils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrorCodeInvalidInput, SeverityWarn, "Invalid learner id", "must be positive")
	assert.Equal(t, "INVALID_INPUT: Invalid learner id - must be positive", err.Error())

	noDetails := NewAppError(ErrorCodeNoCandidates, SeverityInfo, "No items available", "")
	assert.Equal(t, "NO_CANDIDATES: No items available", noDetails.Error())
}

func TestAppError_Is(t *testing.T) {
	err := WrapError(ErrInsufficientData, "weak topics not available")
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.False(t, errors.Is(err, ErrNoCandidates))
}

func TestWrapError_PreservesCode(t *testing.T) {
	wrapped := WrapError(ErrNoCandidates, "selection failed")
	var appErr *AppError
	require.True(t, AsError(wrapped, &appErr))
	assert.Equal(t, ErrorCodeNoCandidates, appErr.Code)
	assert.Equal(t, SeverityInfo, appErr.Severity)
	assert.Equal(t, "selection failed", appErr.Message)
}

func TestWrapError_GenericError(t *testing.T) {
	wrapped := WrapError(errors.New("boom"), "ledger query failed")
	var appErr *AppError
	require.True(t, AsError(wrapped, &appErr))
	assert.Equal(t, ErrorCodeInternalError, appErr.Code)
	assert.Equal(t, "ledger query failed", appErr.Message)
	assert.Equal(t, "boom", appErr.Details)
}

func TestWrapError_Nil(t *testing.T) {
	assert.NoError(t, WrapError(nil, "context"))
	assert.NoError(t, WrapErrorf(nil, "context %d", 1))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeCalibrationWriteFailure, GetErrorCode(ErrCalibrationWriteFailure))
	assert.Equal(t, ErrorCodeInternalError, GetErrorCode(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrDatabaseConnection))
	assert.False(t, IsRetryable(ErrInsufficientData))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestToJSON(t *testing.T) {
	err := NewAppErrorWithCause(ErrorCodeCalibrationWriteFailure, SeverityError,
		"Failed to persist calibration record", "item 42", errors.New("tx aborted"))
	out := err.ToJSON()
	assert.Equal(t, "CALIBRATION_WRITE_FAILURE", out["code"])
	assert.Equal(t, "item 42", out["details"])
	assert.Equal(t, "tx aborted", out["cause"])
	assert.Equal(t, false, out["retryable"])
}
