package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPlan   ErrorCode = "validation_invalid_plan"
	ErrCodeValidationInvalidAction ErrorCode = "validation_invalid_action"
	ErrCodeValidationInvalidPack   ErrorCode = "validation_invalid_credit_pack"
	ErrCodeValidationInvalidInput  ErrorCode = "validation_invalid_input"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenRevoked ErrorCode = "auth_token_revoked"

	// Permission (403)
	ErrCodePermissionSystemOnly  ErrorCode = "permission_system_only"
	ErrCodePermissionAccountOnly ErrorCode = "permission_account_only"

	// Credit denials. These are the only user-facing ledger failures.
	ErrCodeInsufficientCredits ErrorCode = "insufficient_credits"
	ErrCodeFeatureLocked       ErrorCode = "feature_locked"

	// Not Found (404)
	ErrCodeNotFoundAccount ErrorCode = "not_found_account"
	ErrCodeNotFoundAPIKey  ErrorCode = "not_found_api_key"

	// Conflict (409)
	ErrCodeConflictAccountExists ErrorCode = "conflict_account_exists"
	ErrCodeConflictConcurrent    ErrorCode = "conflict_concurrent_modification"

	// Internal (500). UnknownAction and InvalidAmount indicate a defective
	// caller rather than bad user input.
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalUnknownAction ErrorCode = "internal_unknown_action"
	ErrCodeInternalInvalidAmount ErrorCode = "internal_invalid_amount"

	// Upstream (502 unless noted)
	ErrCodeUpstreamStripe           ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamUnavailable      ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited      ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamAIRateLimited    ErrorCode = "upstream_ai_rate_limited"    // 429
	ErrCodeUpstreamAIQuotaExhausted ErrorCode = "upstream_ai_quota_exhausted" // 402
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case c == ErrCodeInsufficientCredits:
		return http.StatusPaymentRequired
	case c == ErrCodeFeatureLocked:
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == ErrCodeUpstreamAIRateLimited:
		return http.StatusTooManyRequests
	case c == ErrCodeUpstreamAIQuotaExhausted:
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so sentinel
// values such as ErrInsufficientCredits can be matched with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// Sentinels for errors.Is matching. Code comparison only; never return these
// directly, build a fresh error with details instead.
var (
	ErrInsufficientCredits = &AppError{Code: ErrCodeInsufficientCredits, Message: "insufficient credits"}
	ErrFeatureLocked       = &AppError{Code: ErrCodeFeatureLocked, Message: "feature not available on current plan"}
	ErrUnknownAction       = &AppError{Code: ErrCodeInternalUnknownAction, Message: "unknown action kind"}
	ErrInvalidAmount       = &AppError{Code: ErrCodeInternalInvalidAmount, Message: "credit amount must be positive"}
	ErrAccountNotFound     = &AppError{Code: ErrCodeNotFoundAccount, Message: "account not found"}
	ErrLedgerPersistence   = &AppError{Code: ErrCodeInternalDB, Message: "ledger persistence failure"}
)

// NewInsufficientCreditsError builds the user-facing denial with the
// required-vs-available amounts the client needs to render it.
func NewInsufficientCreditsError(required, available int) *AppError {
	return NewAppErrorWithDetails(ErrCodeInsufficientCredits, "insufficient credits", nil, map[string]any{
		"required":  required,
		"available": available,
	})
}

// NewFeatureLockedError builds the user-facing denial for a plan that lacks
// the feature an action needs.
func NewFeatureLockedError(feature FeatureFlag, plan PlanTier) *AppError {
	return NewAppErrorWithDetails(ErrCodeFeatureLocked, "feature not available on current plan", nil, map[string]any{
		"feature": string(feature),
		"plan":    string(plan),
	})
}
