package util

import (
	"errors"
	"fmt"
)

// 错误类别，服务层返回的错误均包裹其中之一
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrWindowViolation  = errors.New("outside exam window")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrValidation       = errors.New("validation failed")
)

var (
	ErrUserNotFound       = fmt.Errorf("%w: user", ErrNotFound)
	ErrExamNotFound       = fmt.Errorf("%w: exam", ErrNotFound)
	ErrQuestionNotFound   = fmt.Errorf("%w: question", ErrNotFound)
	ErrMediaNotFound      = fmt.Errorf("%w: media", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)
	ErrAttemptNotFound    = fmt.Errorf("%w: attempt", ErrNotFound)

	ErrUnauthorized      = fmt.Errorf("%w: unauthorized access", ErrPermissionDenied)
	ErrEmailRegistered   = fmt.Errorf("%w: email already registered", ErrValidation)
	ErrInvalidCredential = fmt.Errorf("%w: invalid email or password", ErrPermissionDenied)

	ErrInvalidAttemptState = fmt.Errorf("%w: attempt is not in a valid state for this operation", ErrInvalidState)
	ErrAttemptBusy         = fmt.Errorf("%w: another request for this attempt is in progress", ErrInvalidState)

	ErrNotYetOpen     = fmt.Errorf("%w: exam is not open yet", ErrWindowViolation)
	ErrClosed         = fmt.Errorf("%w: exam is closed", ErrWindowViolation)
	ErrAttemptExpired = fmt.Errorf("%w: attempt time has expired", ErrWindowViolation)

	ErrMaxAttemptsReached = fmt.Errorf("%w: maximum attempts reached", ErrLimitExceeded)

	ErrInvalidOption   = fmt.Errorf("%w: invalid option", ErrValidation)
	ErrInvalidClass    = fmt.Errorf("%w: invalid class", ErrValidation)
	ErrInvalidQuestion = fmt.Errorf("%w: invalid question", ErrValidation)
	ErrInvalidPayload  = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrInvalidWindow   = fmt.Errorf("%w: closeAt must be after openAt", ErrValidation)
)

// Validationf 构造带说明的校验错误
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
