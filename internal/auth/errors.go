package auth

import (
	"errors"
	"fmt"
)

// Error is a terminal authentication or authorization failure with a
// stable machine-readable code. Downstream clients branch on the code, so
// codes never change once published.
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns the wire-level error code.
func (e *Error) Code() string { return e.code }

var (
	ErrInvalidCredentials = &Error{"INVALID_CREDENTIALS", "invalid username or password"}
	ErrAccountLocked      = &Error{"ACCOUNT_LOCKED", "account is locked"}
	ErrAccountInactive    = &Error{"ACCOUNT_INACTIVE", "account is not active"}
	ErrTokenExpired       = &Error{"TOKEN_EXPIRED", "token has expired"}
	ErrTokenMalformed     = &Error{"TOKEN_MALFORMED", "token is malformed"}
	ErrTokenRevoked       = &Error{"TOKEN_REVOKED", "token has been revoked"}
	ErrPermissionDenied   = &Error{"PERMISSION_DENIED", "permission denied"}
	ErrSessionNotFound    = &Error{"SESSION_NOT_FOUND", "session not found"}
)

// ErrInvalidSignature distinguishes a failed signature check for internal
// callers (key rotation diagnostics, logging). It wraps ErrTokenMalformed,
// so on the wire the two are indistinguishable and clients cannot probe
// which secret a forged token missed.
var ErrInvalidSignature = fmt.Errorf("%w: signature verification failed", ErrTokenMalformed)

// ErrStoreUnavailable marks a transient persistence failure. It is the only
// class eligible for caller-side retry; everything above is terminal for
// the attempt.
var ErrStoreUnavailable = errors.New("auth: store unavailable")

// Storage sentinels shared by every Store implementation.
var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)

// CodeOf extracts the machine-readable code, or "INTERNAL" for anything
// outside the published taxonomy.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}
