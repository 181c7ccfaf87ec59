package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subtrack/internal/errors"
)

// AssertAppError requires err to be an *AppError carrying expectedCode.
// The HTTP status is checked against the registered sentinel for that code
// when one is passed in want.
func AssertAppError(t *testing.T, err error, expectedCode string, want ...*apperrors.AppError) {
	t.Helper()

	require.Error(t, err, "expected AppError with code %q", expectedCode)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code, "message: %s", appErr.Message)
	for _, w := range want {
		assert.Equal(t, w.StatusCode, appErr.StatusCode, "status for %s", expectedCode)
	}
}

// AssertNoError fails the test immediately if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}
