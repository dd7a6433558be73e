package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeConnection    = "CONNECTION_FAILED"
	ErrCodeLogin         = "LOGIN_FAILED"
	ErrCodeSessionClosed = "SESSION_CLOSED"
	ErrCodeNavigation    = "NAVIGATION_FAILED"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeExtraction    = "EXTRACTION_FAILED"
	ErrCodeSheetWrite    = "SHEET_WRITE_FAILED"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeRunInProgress = "RUN_IN_PROGRESS"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeMismatch      = "CONTEXT_MISMATCH"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type SyncError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a new SyncError.
func NewSyncError(code, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *SyncError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost SyncError in err's chain,
// or ErrCodeInternal.
func CodeOf(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any SyncError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var se *SyncError
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

// IsFatal reports whether err aborts a whole run: the session could not be
// established or the login never succeeded.
func IsFatal(err error) bool {
	return HasCode(err, ErrCodeConnection) || HasCode(err, ErrCodeLogin)
}
