package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory classifies an error for logging, retry and HTTP mapping
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryData          ErrorCategory = "data"
	CategoryTraining      ErrorCategory = "training"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryExternalAPI   ErrorCategory = "external_api"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryUnavailable   ErrorCategory = "unavailable"
	CategoryInternal      ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category and HTTP status it maps to
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// Error renders "[CATEGORY] message: cause"
func (e *AppError) Error() string {
	codeStr := strings.ToUpper(string(e.Category))
	if codeStr == "" {
		codeStr = "UNKNOWN"
	}

	if cause := e.ErrBuilder.Unwrap(); cause != nil {
		return fmt.Sprintf("[%s] %s: %v", codeStr, e.ErrBuilder.Msg, cause)
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func withContext(builder *errbuilder.ErrBuilder, cause error, details map[string]string) *errbuilder.ErrBuilder {
	if len(details) > 0 {
		errorMap := errbuilder.ErrorMap{}
		for key, value := range details {
			errorMap.Set(key, errors.New(value))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return builder
}

// NewValidationError reports malformed caller input
func NewValidationError(message string, details ...interface{}) *AppError {
	var detailMap map[string]string
	if len(details) > 0 {
		detailMap = map[string]string{"validation_details": fmt.Sprintf("%v", details[0])}
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	return NewAppError(withContext(builder, nil, detailMap), CategoryValidation, http.StatusBadRequest)
}

// NewDataError reports missing or unusable training data
func NewDataError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, nil), CategoryData, http.StatusUnprocessableEntity)
}

// NewTrainingError reports a trainer that could not produce a model
func NewTrainingError(algorithm, message string, cause error) *AppError {
	details := map[string]string{"algorithm": algorithm}
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, details), CategoryTraining, http.StatusInternalServerError)
}

// NewPersistenceError reports a failed read or write of durable state
func NewPersistenceError(resource string, cause error) *AppError {
	details := map[string]string{"resource": resource}
	message := fmt.Sprintf("%s persistence failed", resource)
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, details), CategoryPersistence, http.StatusInternalServerError)
}

// NewNotFoundError reports a missing entity such as a prediction or model version
func NewNotFoundError(resource, id string) *AppError {
	details := map[string]string{"id": id}
	message := fmt.Sprintf("%s not found", resource)
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	return NewAppError(withContext(builder, nil, details), CategoryValidation, http.StatusNotFound)
}

// NewConflictError reports that another holder owns a lease or lock
func NewConflictError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, nil), CategoryConflict, http.StatusConflict)
}

// NewUnavailableError reports a dependency that is not ready, such as a
// server with no model loaded
func NewUnavailableError(message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	return NewAppError(withContext(builder, nil, nil), CategoryUnavailable, http.StatusServiceUnavailable)
}

// NewNetworkError creates a network error using errbuilder
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, nil), CategoryNetwork, http.StatusBadGateway)
}

// NewTimeoutError creates a timeout error using errbuilder
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, nil), CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error using errbuilder
func NewRateLimitError(retryAfter string) *AppError {
	details := map[string]string{"retry_after": retryAfter}
	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded")

	return NewAppError(withContext(builder, nil, details), CategoryRateLimit, http.StatusTooManyRequests)
}

// NewExternalAPIError creates an external API error using errbuilder
func NewExternalAPIError(apiName string, status int, cause error) *AppError {
	details := map[string]string{"api_name": apiName}
	if status > 0 {
		details["status"] = fmt.Sprintf("%d", status)
	}
	message := fmt.Sprintf("%s API error", apiName)
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	return NewAppError(withContext(builder, cause, details), CategoryExternalAPI, http.StatusBadGateway)
}

// NewInternalError creates an internal server error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	details := map[string]string{"internal_details": message}
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal error")

	appErr := NewAppError(withContext(builder, cause, details), CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error using errbuilder
func NewConfigurationError(message string, cause error) *AppError {
	details := map[string]string{"config_details": message}
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("Configuration error")

	return NewAppError(withContext(builder, cause, details), CategoryConfiguration, http.StatusInternalServerError)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that renders the last handler error as JSON
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			LogError(c, appErr)

			if !c.Writer.Written() {
				c.JSON(appErr.HTTPStatus, gin.H{
					"error":    appErr.ErrBuilder.Msg,
					"category": appErr.Category,
				})
			}
		}
	}
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var ebErr *errbuilder.ErrBuilder
	if errors.As(err, &ebErr) {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Operation cancelled", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Operation deadline exceeded", err)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewNetworkError("Network connection failed", err)
	}

	if strings.Contains(errMsg, "timeout") {
		return NewTimeoutError("Request timeout", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// Is reports whether err carries the given category anywhere in its chain
func Is(err error, category ErrorCategory) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == category
}

// LogError logs an error with a level chosen by its category
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetHeader("X-Request-ID"),
	)

	cause := err.ErrBuilder.Unwrap()
	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryConflict, CategoryUnavailable:
		logEntry.Warn(err.ErrBuilder.Msg, "details", err.ErrBuilder.Details.Errors)
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI:
		logEntry.Info(err.ErrBuilder.Msg, "cause", cause)
	default:
		logEntry.Error(err.ErrBuilder.Msg, "cause", cause)
	}

	if err.StackTrace != "" && gin.Mode() == gin.DebugMode {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)
	if appErr == nil {
		return false
	}

	switch appErr.Category {
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI, CategoryRateLimit:
		return !errors.Is(err, context.Canceled)
	default:
		return false
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}

// SafeClose closes a resource and logs any error
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
