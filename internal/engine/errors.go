package engine

import (
	"errors"
	"fmt"
)

// InitErrorCode categorizes engine context initialization failures.
type InitErrorCode string

const (
	// ErrCodeAlreadyInitialized: Initialize called twice without Shutdown.
	ErrCodeAlreadyInitialized InitErrorCode = "ALREADY_INITIALIZED"

	// ErrCodePathInvalid: a required path is empty or not an existing directory.
	ErrCodePathInvalid InitErrorCode = "PATH_INVALID"

	// ErrCodeBackendInit: the renderer's init entry point failed.
	ErrCodeBackendInit InitErrorCode = "BACKEND_INIT_FAILED"
)

// InitError is fatal to startup. The host surfaces it as a failed
// registration and disables the render engine option.
type InitError struct {
	Code    InitErrorCode
	Message string

	// Path is the offending path for PATH_INVALID.
	Path string

	Err error
}

func (e *InitError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitError) Unwrap() error { return e.Err }

// Is matches any InitError with the same code, so the sentinels below work
// with errors.Is.
func (e *InitError) Is(target error) bool {
	t, ok := target.(*InitError)
	return ok && t.Code == e.Code
}

// SessionErrorCode categorizes session sequencing and renderer failures.
type SessionErrorCode string

const (
	// ErrCodeContextNotReady: a session was asked to create before the engine
	// context was initialized.
	ErrCodeContextNotReady SessionErrorCode = "CONTEXT_NOT_READY"

	// ErrCodeCreateFailed: the renderer's create entry point reported failure.
	ErrCodeCreateFailed SessionErrorCode = "CREATE_FAILED"

	// ErrCodeNotSynced: a frame was requested before any successful sync.
	ErrCodeNotSynced SessionErrorCode = "NOT_SYNCED"

	// ErrCodeUseAfterFree: the session was already torn down.
	ErrCodeUseAfterFree SessionErrorCode = "USE_AFTER_FREE"

	// ErrCodeResetFailed: the renderer's reset entry point reported failure.
	ErrCodeResetFailed SessionErrorCode = "RESET_FAILED"

	// ErrCodeRenderFailed: the renderer's render entry point reported failure.
	ErrCodeRenderFailed SessionErrorCode = "RENDER_FAILED"

	// ErrCodeBusy: a call arrived while a render on the same handle was in flight.
	ErrCodeBusy SessionErrorCode = "SESSION_BUSY"
)

// SessionError reports a per-session failure. None of these are
// user-recoverable; the host logs them and the operation is a no-op.
type SessionError struct {
	Code      SessionErrorCode
	Message   string
	SessionID string

	// State is the session state the failed operation left the session in.
	State State

	Err error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session=%s, state=%s)", e.SessionID, e.State)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is matches any SessionError with the same code.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAlreadyInitialized = &InitError{Code: ErrCodeAlreadyInitialized}
	ErrPathInvalid        = &InitError{Code: ErrCodePathInvalid}
	ErrBackendInit        = &InitError{Code: ErrCodeBackendInit}

	ErrContextNotReady = &SessionError{Code: ErrCodeContextNotReady}
	ErrCreateFailed    = &SessionError{Code: ErrCodeCreateFailed}
	ErrNotSynced       = &SessionError{Code: ErrCodeNotSynced}
	ErrUseAfterFree    = &SessionError{Code: ErrCodeUseAfterFree}
	ErrResetFailed     = &SessionError{Code: ErrCodeResetFailed}
	ErrRenderFailed    = &SessionError{Code: ErrCodeRenderFailed}
	ErrBusy            = &SessionError{Code: ErrCodeBusy}
)

// IsInitError reports whether err is an InitError with the given code.
// Uses errors.As to handle wrapped errors.
func IsInitError(err error, code InitErrorCode) bool {
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsSessionError reports whether err is a SessionError with the given code.
// Uses errors.As to handle wrapped errors.
func IsSessionError(err error, code SessionErrorCode) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ErrorCode extracts the code of an InitError or SessionError, or "" for
// anything else. Used by the harness and CLI to compare against expectations.
func ErrorCode(err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	var ie *InitError
	if errors.As(err, &ie) {
		return string(ie.Code)
	}
	return ""
}
