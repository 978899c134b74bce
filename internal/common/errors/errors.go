package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies an error class across the API.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeStaleWrite   ErrorCode = "STALE_WRITE"

	// Inventory
	ErrCodeInvalidQuantity       ErrorCode = "INVALID_QUANTITY"
	ErrCodeInsufficientInventory ErrorCode = "INSUFFICIENT_INVENTORY"
	ErrCodeReservationExpired    ErrorCode = "RESERVATION_EXPIRED"

	// Lifecycle
	ErrCodeRaffleNotActive        ErrorCode = "RAFFLE_NOT_ACTIVE"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeNoTicketsSold          ErrorCode = "NO_TICKETS_SOLD"

	// Loyalty
	ErrCodeInvalidAmount      ErrorCode = "INVALID_AMOUNT"
	ErrCodeInsufficientPoints ErrorCode = "INSUFFICIENT_POINTS"

	// Referrals
	ErrCodeSelfReferral    ErrorCode = "SELF_REFERRAL"
	ErrCodeAlreadyReferred ErrorCode = "ALREADY_REFERRED"

	// Payments
	ErrCodePaymentDeclined    ErrorCode = "PAYMENT_DECLINED"
	ErrCodePaymentUnavailable ErrorCode = "PAYMENT_UNAVAILABLE"

	// Storage
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Sentinels for errors.Is. AppError.Is compares codes, so any AppError
// carrying the same code matches.
var (
	ErrNotFound               = &AppError{Code: ErrCodeNotFound, Message: "resource not found"}
	ErrValidation             = &AppError{Code: ErrCodeValidation, Message: "validation failed"}
	ErrInvalidQuantity        = &AppError{Code: ErrCodeInvalidQuantity, Message: "invalid ticket quantity"}
	ErrInsufficientInventory  = &AppError{Code: ErrCodeInsufficientInventory, Message: "not enough tickets remain"}
	ErrReservationExpired     = &AppError{Code: ErrCodeReservationExpired, Message: "reservation has expired"}
	ErrRaffleNotActive        = &AppError{Code: ErrCodeRaffleNotActive, Message: "raffle is not active"}
	ErrInvalidStateTransition = &AppError{Code: ErrCodeInvalidStateTransition, Message: "invalid state transition"}
	ErrNoTicketsSold          = &AppError{Code: ErrCodeNoTicketsSold, Message: "no tickets were sold"}
	ErrInvalidAmount          = &AppError{Code: ErrCodeInvalidAmount, Message: "amount must be positive"}
	ErrInsufficientPoints     = &AppError{Code: ErrCodeInsufficientPoints, Message: "not enough points"}
	ErrSelfReferral           = &AppError{Code: ErrCodeSelfReferral, Message: "users cannot refer themselves"}
	ErrAlreadyReferred        = &AppError{Code: ErrCodeAlreadyReferred, Message: "user was already referred"}
	ErrPaymentDeclined        = &AppError{Code: ErrCodePaymentDeclined, Message: "payment was declined"}
	ErrPaymentUnavailable     = &AppError{Code: ErrCodePaymentUnavailable, Message: "payment gateway unavailable"}
	ErrStoreUnavailable       = &AppError{Code: ErrCodeStoreUnavailable, Message: "storage unavailable"}
	ErrStaleWrite             = &AppError{Code: ErrCodeStaleWrite, Message: "document changed concurrently"}
)

// AppError is the typed application error returned by services.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Stack     []string               `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) IsNotFound() bool {
	return e.Code == ErrCodeNotFound
}

// IsValidation reports deterministic input and business-rule failures.
func (e *AppError) IsValidation() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeInvalidQuantity, ErrCodeInvalidAmount,
		ErrCodeSelfReferral, ErrCodeInsufficientInventory, ErrCodeInsufficientPoints,
		ErrCodeRaffleNotActive, ErrCodeInvalidStateTransition, ErrCodeReservationExpired,
		ErrCodeAlreadyReferred, ErrCodeNoTicketsSold, ErrCodePaymentDeclined:
		return true
	}
	return false
}

func (e *AppError) IsUnauthorized() bool {
	return e.Code == ErrCodeUnauthorized || e.Code == ErrCodeForbidden
}

// IsRetryable reports transient failures that callers may retry with backoff.
func (e *AppError) IsRetryable() bool {
	return e.Code == ErrCodePaymentUnavailable || e.Code == ErrCodeStoreUnavailable ||
		e.Code == ErrCodeStaleWrite
}

func (e *AppError) IsInternal() bool {
	return e.Code == ErrCodeInternal || e.Code == ErrCodePaymentUnavailable ||
		e.Code == ErrCodeStoreUnavailable
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithUserID(userID int64) *AppError {
	e.UserID = userID
	return e
}

// New creates an application error with a captured stack.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Stack:     getStackTrace(),
	}
}

// Newf is New with formatting.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new application error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason))
}

func NewForbiddenError(reason string) *AppError {
	return New(ErrCodeForbidden, fmt.Sprintf("Forbidden: %s", reason))
}

// NewStoreError marks a storage failure as transient.
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreUnavailable, fmt.Sprintf("Storage operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// NewStaleWriteError reports a write based on an outdated read. The caller
// reloads and retries.
func NewStaleWriteError(resource string, id interface{}) *AppError {
	return New(ErrCodeStaleWrite, fmt.Sprintf("%s was modified concurrently, reload and retry", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// AsAppError extracts an AppError from the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.IsRetryable()
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
