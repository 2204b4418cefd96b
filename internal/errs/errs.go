// Package errs is the error taxonomy shared by every vault component.
//
// Each Error carries a stable machine readable Kind (the category a client
// switches on), a Code naming the specific case and a human readable Message.
// The wrapped cause is kept for logging and is never rendered to callers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindAuthentication    Kind = "authentication_error"
	KindMFARequired       Kind = "mfa_required"
	KindInvalidCode       Kind = "invalid_code"
	KindInvalidBackupCode Kind = "invalid_backup_code"
	KindChallengeExpired  Kind = "challenge_expired"
	KindEncryption        Kind = "encryption_error"
	KindInvalidPassword   Kind = "invalid_password"
	KindAccessDenied      Kind = "access_denied"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal_error"
)

// Error is the only error shape that crosses the HTTP boundary.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Reason is set for access denials (e.g. "outside_time_window").
	Reason string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two Errors on Code so that wrapped copies of a sentinel still
// compare equal with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// WithMessage returns a copy of e with a different human readable message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrValidation        = newError(KindValidation, "validation_error", "invalid request")
	ErrMissingCredential = newError(KindValidation, "missing_credential", "exactly one of token or backup code is required")
	ErrAuthentication    = newError(KindAuthentication, "authentication_error", "unauthenticated")
	ErrBadCredentials    = newError(KindAuthentication, "bad_credentials", "incorrect email address or password")

	ErrMFARequired       = newError(KindMFARequired, "mfa_required", "multi-factor verification required")
	ErrChallengeConsumed = newError(KindMFARequired, "challenge_consumed", "verification challenge already used")
	ErrInvalidCode       = newError(KindInvalidCode, "invalid_code", "invalid verification code")
	ErrInvalidBackupCode = newError(KindInvalidBackupCode, "invalid_backup_code", "invalid or used backup code")
	ErrChallengeExpired  = newError(KindChallengeExpired, "challenge_expired", "verification challenge expired")

	ErrEncryption      = newError(KindEncryption, "encryption_error", "encryption failed")
	ErrInvalidPassword = newError(KindInvalidPassword, "invalid_password", "invalid password")

	ErrAccessDenied = newError(KindAccessDenied, "access_denied", "access denied")
	ErrNotFound     = newError(KindNotFound, "not_found", "not found")

	ErrConflict         = newError(KindConflict, "conflict", "conflicting state")
	ErrAlreadyEnrolled  = newError(KindConflict, "already_enrolled", "multi-factor authentication already enabled")
	ErrAlreadyPending   = newError(KindConflict, "already_pending", "enrollment already in progress")
	ErrNotEnrolled      = newError(KindConflict, "not_enrolled", "multi-factor authentication is not enabled")
	ErrNoPending        = newError(KindConflict, "no_pending_enrollment", "no enrollment in progress")
	ErrAlreadyEncrypted = newError(KindConflict, "already_encrypted", "file is already encrypted")
	ErrNotEncrypted     = newError(KindConflict, "not_encrypted", "file is not encrypted")
	ErrVersionConflict  = newError(KindConflict, "version_conflict", "file was modified concurrently")

	ErrRateLimited = newError(KindRateLimited, "rate_limited", "too many requests, try again later")
	ErrInternal    = newError(KindInternal, "internal_error", "internal error")
)

// NotFound builds a not_found error naming the missing resource.
func NotFound(resource string) *Error {
	return ErrNotFound.WithMessage("%s not found", resource)
}

// Validation builds a validation_error with a specific message.
func Validation(format string, args ...any) *Error {
	return ErrValidation.WithMessage(format, args...)
}

// AccessDenied builds an access_denied error carrying the evaluator's reason.
func AccessDenied(reason string) *Error {
	e := ErrAccessDenied.WithMessage("access denied: %s", reason)
	e.Reason = reason
	return e
}

// Internal wraps an unexpected failure. Only the generic message is rendered.
func Internal(cause error) *Error {
	return ErrInternal.Wrap(cause)
}

// As extracts an *Error, or reports false for foreign errors.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

var statusByKind = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindAuthentication:    http.StatusUnauthorized,
	KindMFARequired:       http.StatusUnauthorized,
	KindInvalidCode:       http.StatusUnauthorized,
	KindInvalidBackupCode: http.StatusUnauthorized,
	KindChallengeExpired:  http.StatusUnauthorized,
	KindEncryption:        http.StatusInternalServerError,
	KindInvalidPassword:   http.StatusForbidden,
	KindAccessDenied:      http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindRateLimited:       http.StatusTooManyRequests,
	KindInternal:          http.StatusInternalServerError,
}

// Status maps err to the HTTP status the REST boundary answers with.
func Status(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
