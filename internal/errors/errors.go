// Package errors provides custom error types for the subtrack API.
// All service-layer errors should use AppError so responses stay consistent
// and never leak internal details (including provider credentials) to clients.
package errors

import "net/http"

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is reports whether target is an AppError with the same code, so wrapped
// copies still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrInvalidCredentials = &AppError{Code: "INVALID_CREDENTIALS", Message: "Invalid email or password", StatusCode: http.StatusUnauthorized}
	ErrAdminRequired      = &AppError{Code: "ADMIN_REQUIRED", Message: "Administrator access required", StatusCode: http.StatusForbidden}
	ErrRateLimited        = &AppError{Code: "RATE_LIMITED", Message: "Too many requests, slow down", StatusCode: http.StatusTooManyRequests}
	ErrAccountLocked      = &AppError{Code: "ACCOUNT_LOCKED", Message: "Account temporarily locked after repeated failed logins", StatusCode: http.StatusLocked}
	ErrInvalidAPIKey      = &AppError{Code: "INVALID_API_KEY", Message: "Invalid or missing API key", StatusCode: http.StatusUnauthorized}

	ErrPipelineNotConfigured = &AppError{Code: "PIPELINE_NOT_CONFIGURED", Message: "Pipeline endpoints are not configured", StatusCode: http.StatusServiceUnavailable}
)

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// User errors.
var (
	ErrUserNotFound      = &AppError{Code: "USER_NOT_FOUND", Message: "User not found", StatusCode: http.StatusNotFound}
	ErrDuplicateEmail    = &AppError{Code: "DUPLICATE_EMAIL", Message: "A user with this email already exists", StatusCode: http.StatusConflict}
	ErrDuplicateUsername = &AppError{Code: "DUPLICATE_USERNAME", Message: "A user with this username already exists", StatusCode: http.StatusConflict}
	ErrSetupCompleted    = &AppError{Code: "SETUP_COMPLETED", Message: "Initial setup has already been completed", StatusCode: http.StatusConflict}
)

// Subscription errors.
var (
	ErrSubscriptionNotFound = &AppError{Code: "SUBSCRIPTION_NOT_FOUND", Message: "Subscription not found", StatusCode: http.StatusNotFound}
	ErrInvalidCycle         = &AppError{Code: "INVALID_CYCLE", Message: "Unsupported billing cycle", StatusCode: http.StatusBadRequest}
	ErrInvalidRenewalDate   = &AppError{Code: "INVALID_RENEWAL_DATE", Message: "Next renewal date cannot be in the past", StatusCode: http.StatusBadRequest}
)

// AI errors. The three provider failures share one client-facing message;
// the distinguishing detail stays in Internal and the code.
var (
	ErrFeatureDisabled            = &AppError{Code: "FEATURE_DISABLED", Message: "This AI feature is not enabled", StatusCode: http.StatusForbidden}
	ErrProviderUnavailable        = &AppError{Code: "PROVIDER_UNAVAILABLE", Message: "AI feature temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrProviderInvalidCredentials = &AppError{Code: "PROVIDER_INVALID_CREDENTIALS", Message: "AI feature temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrMalformedResponse          = &AppError{Code: "MALFORMED_RESPONSE", Message: "AI feature temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrInvalidProviderConfig      = &AppError{Code: "INVALID_PROVIDER_CONFIG", Message: "Invalid AI provider configuration", StatusCode: http.StatusBadRequest}
)
