// Package errors defines the error codes surfaced by the sync layer.
//
// Local store failures, remote write failures and reconciliation failures
// carry distinct codes so callers can tell a lost local write apart from a
// remote write that has been parked in the queue.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConfig     ErrorCode = "CONFIG_ERROR"

	// Local store errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Remote errors
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"
	ErrRemoteAuth        ErrorCode = "REMOTE_AUTH_FAILED"
	ErrRemoteTimeout     ErrorCode = "REMOTE_TIMEOUT"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline       ErrorCode = "SYNC_OFFLINE"
	ErrReconcileFailed   ErrorCode = "RECONCILE_FAILED"
	ErrUnsupportedTable  ErrorCode = "UNSUPPORTED_TABLE"

	// Backup errors
	ErrExportFailed  ErrorCode = "EXPORT_FAILED"
	ErrImportFailed  ErrorCode = "IMPORT_FAILED"
	ErrBackupInvalid ErrorCode = "BACKUP_INVALID"
)

// AppError carries a code, a human message and the underlying cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Cause lets github.com/pkg/errors walk through an AppError.
func (e *AppError) Cause() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Code returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsRemote reports whether err originated from the remote store.
func IsRemote(err error) bool {
	switch Code(err) {
	case ErrRemoteUnavailable, ErrRemoteRejected, ErrRemoteAuth, ErrRemoteTimeout:
		return true
	}
	return false
}

// IsTransient reports whether a retry of the same call could succeed.
func IsTransient(err error) bool {
	switch Code(err) {
	case ErrRemoteUnavailable, ErrRemoteTimeout:
		return true
	}
	return false
}
