package utils

import "fmt"

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

// Unwrap exposes the original error to errors.Is / errors.As.
func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrDuplicate    = "DUPLICATE"
	ErrInvalidInput = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN"
	ErrInvalidToken = "INVALID_TOKEN"

	// Chat-specific errors
	ErrChatNotFound   = "CHAT_NOT_FOUND"
	ErrNotParticipant = "NOT_PARTICIPANT"
	ErrChatNotActive  = "CHAT_NOT_ACTIVE"

	// Persistence errors. These are transient: the failed call left durable
	// state untouched and the client may retry.
	ErrPersistenceTimeout = "PERSISTENCE_TIMEOUT"
	ErrPersistenceFailure = "PERSISTENCE_FAILURE"

	// Actor communication errors
	ErrActorTimeout  = "ACTOR_TIMEOUT"
	ErrActorNotFound = "ACTOR_NOT_FOUND"

	// Rate limiting
	ErrTooManyRequests = "TOO_MANY_REQUESTS"

	ErrDatabase = "database_error"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

// Specific error creators for common cases
func NewChatNotFoundError(chatID string) *AppError {
	return &AppError{
		Code:    ErrChatNotFound,
		Message: "Chat not found: " + chatID,
	}
}

func NewNotParticipantError(userID string, chatID string) *AppError {
	return &AppError{
		Code:    ErrNotParticipant,
		Message: fmt.Sprintf("User %s is not a participant of chat %s", userID, chatID),
	}
}

func NewChatNotActiveError(chatID string, status string) *AppError {
	return &AppError{
		Code:    ErrChatNotActive,
		Message: fmt.Sprintf("Chat %s is %s and does not accept messages", chatID, status),
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

func NewPersistenceTimeoutError(operation string, originalErr error) *AppError {
	return &AppError{
		Code:    ErrPersistenceTimeout,
		Message: "Persistence timeout during " + operation,
		Origin:  originalErr,
	}
}

func NewPersistenceFailureError(operation string, originalErr error) *AppError {
	return &AppError{
		Code:    ErrPersistenceFailure,
		Message: "Persistence failure during " + operation,
		Origin:  originalErr,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether the error is a persistence error the client
// can safely retry.
func IsTransient(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrPersistenceTimeout ||
			appErr.Code == ErrPersistenceFailure ||
			appErr.Code == ErrActorTimeout
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrChatNotFound, ErrActorNotFound:
		return 404 // http.StatusNotFound
	case ErrInvalidInput:
		return 400 // http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrForbidden, ErrNotParticipant:
		return 403 // http.StatusForbidden
	case ErrDuplicate, ErrChatNotActive:
		return 409 // http.StatusConflict
	case ErrTooManyRequests:
		return 429 // http.StatusTooManyRequests
	case ErrDatabase, ErrActorTimeout, ErrPersistenceTimeout, ErrPersistenceFailure:
		return 500 // http.StatusInternalServerError
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}
