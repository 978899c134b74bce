package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

// ErrorHandler recovers panics and answers with an INTERNAL_ERROR body.
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Str("stack", string(debug.Stack())).
			Msg("Panic recovered")

		RespondError(c, apperrors.New(apperrors.ErrCodeInternal, "Internal server error").
			WithDetail("panic", fmt.Sprintf("%v", recovered)))
	})
}

// RequestID propagates X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(ctxRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

type ErrorResponse struct {
	Success   bool                `json:"success"`
	Error     *apperrors.AppError `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
	RequestID string              `json:"request_id"`
	Path      string              `json:"path,omitempty"`
	Method    string              `json:"method,omitempty"`
}

// RespondError writes err as an ErrorResponse and aborts the chain. Errors
// that are not AppErrors are reported as INTERNAL_ERROR without their text.
func RespondError(c *gin.Context, err error) {
	var appErr apperrors.AppError
	if e, ok := apperrors.AsAppError(err); ok {
		// Copy so shared sentinels are never stamped with request data.
		appErr = *e
	} else {
		appErr = *apperrors.Wrap(err, apperrors.ErrCodeInternal, "Internal server error")
	}
	appErr.WithRequestID(RequestIDFrom(c))
	if uid, ok := UserID(c); ok {
		appErr.WithUserID(uid)
	}
	if appErr.Code == apperrors.ErrCodeInternal {
		// Panic details and stack stay in the logs.
		appErr.Details = nil
	}

	logError(c, &appErr, err)

	c.AbortWithStatusJSON(StatusCode(&appErr), ErrorResponse{
		Success:   false,
		Error:     &appErr,
		Timestamp: time.Now(),
		RequestID: appErr.RequestID,
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
	})
}

// StatusCode maps an error code to its HTTP status.
func StatusCode(appErr *apperrors.AppError) int {
	switch appErr.Code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidQuantity,
		apperrors.ErrCodeInvalidAmount, apperrors.ErrCodeSelfReferral:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodePaymentDeclined:
		return http.StatusPaymentRequired
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeStaleWrite, apperrors.ErrCodeInsufficientInventory,
		apperrors.ErrCodeAlreadyReferred, apperrors.ErrCodeInvalidStateTransition:
		return http.StatusConflict
	case apperrors.ErrCodeReservationExpired:
		return http.StatusGone
	case apperrors.ErrCodeRaffleNotActive, apperrors.ErrCodeNoTicketsSold,
		apperrors.ErrCodeInsufficientPoints:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodePaymentUnavailable, apperrors.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func logError(c *gin.Context, appErr *apperrors.AppError, original error) {
	var event *zerolog.Event
	var msg string
	switch {
	case appErr.IsInternal():
		event, msg = log.Error(), "Internal error occurred"
	case appErr.IsUnauthorized():
		event, msg = log.Warn(), "Unauthorized access attempt"
	case appErr.IsValidation():
		event, msg = log.Info(), "Request rejected"
	case appErr.IsNotFound():
		event, msg = log.Info(), "Resource not found"
	default:
		event, msg = log.Error(), "Application error occurred"
	}

	event = event.
		Str("request_id", appErr.RequestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("error_code", string(appErr.Code)).
		Str("error_message", appErr.Message)
	if appErr.UserID != 0 {
		event = event.Int64("user_id", appErr.UserID)
	}
	if len(appErr.Details) > 0 {
		event = event.Interface("details", appErr.Details)
	}
	if appErr.Cause != nil {
		event = event.AnErr("cause", appErr.Cause)
	} else if _, ok := apperrors.AsAppError(original); !ok && original != nil {
		event = event.Err(original)
	}
	event.Msg(msg)
}
