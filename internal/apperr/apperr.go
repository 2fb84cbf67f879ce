// Package apperr defines the structured error taxonomy shared by the
// publishing service. Every operation failure maps to one of five codes,
// each carrying enough detail for the caller to act on it:
//
//   - CodeValidation: caller-fixable input problem (field detail in message)
//   - CodeAuth: access token absent or invalid; caller must re-authenticate
//   - CodeNotFound: source image missing, or processing key expired/unknown
//   - CodeRemoteAPI: non-2xx or error body from the Instagram Graph API;
//     the remote status code and body are preserved verbatim
//   - CodeIO: local crop/resize/write failure
//
// Errors wrap an optional cause so callers can still use errors.Is/As.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for the synchronous request surface.
type Code string

const (
	CodeValidation Code = "validation"
	CodeAuth       Code = "auth"
	CodeNotFound   Code = "not_found"
	CodeRemoteAPI  Code = "remote_api"
	CodeIO         Code = "io"
)

// Error is a classified operation failure. StatusHint is the suggested
// HTTP status for transports that want one; zero means "use the default
// for the code".
type Error struct {
	Code         Code
	Message      string
	StatusHint   int
	RemoteStatus int    // upstream HTTP status, remote_api only
	RemoteBody   string // upstream error body verbatim, remote_api only
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status hint, falling back to a default per code.
func (e *Error) HTTPStatus() int {
	if e.StatusHint != 0 {
		return e.StatusHint
	}
	switch e.Code {
	case CodeValidation:
		return 400
	case CodeAuth:
		return 401
	case CodeNotFound:
		return 404
	case CodeRemoteAPI:
		return 502
	default:
		return 500
	}
}

// New creates a classified error without a cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(cause error, code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Remote creates a remote_api error preserving the upstream status and body.
func Remote(status int, body, format string, args ...interface{}) *Error {
	return &Error{
		Code:         CodeRemoteAPI,
		Message:      fmt.Sprintf(format, args...),
		RemoteStatus: status,
		RemoteBody:   body,
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// CodeOf returns the code of err, or empty string for unclassified errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
