package mailsource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code classifies a connection-level failure. Codes are reported per
// source and never abort a session.
type Code string

// Connection error taxonomy
const (
	CodeOK                   Code = "OK"
	CodeInvalidPreferences   Code = "INVALID_PREFERENCES"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeFolderNotFound       Code = "FOLDER_NOT_FOUND"
	CodeUnknownHost          Code = "UNKNOWN_HOST"
	CodeConnectionError      Code = "CONNECTION_ERROR"
	CodeIllegalState         Code = "ILLEGAL_STATE"
	CodeUnexpectedFailure    Code = "UNEXPECTED_FAILURE"
)

// ConnError is a classified connection failure for one source.
type ConnError struct {
	Code   Code
	Source string
	Err    error
}

// Error implements the error interface
func (e *ConnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Code)
}

// Unwrap returns the underlying error
func (e *ConnError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the taxonomy code from an error, falling back to the
// catch-all for anything unclassified.
func CodeOf(err error) Code {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnexpectedFailure
}

// classify wraps err into a ConnError with the most specific code that
// can be derived from its type or, failing that, its text.
func classify(source string, err error) *ConnError {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce
	}

	code := CodeConnectionError

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		code = CodeUnknownHost
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeConnectionError
	case errors.As(err, &netErr):
		code = CodeConnectionError
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "no such host"):
			code = CodeUnknownHost
		case strings.Contains(msg, "authentication") ||
			strings.Contains(msg, "invalid credentials") ||
			strings.Contains(msg, "login failed") ||
			strings.Contains(msg, "authorization"):
			code = CodeAuthenticationFailed
		case strings.Contains(msg, "nonexistent") ||
			strings.Contains(msg, "no such mailbox") ||
			strings.Contains(msg, "does not exist") ||
			strings.Contains(msg, "unknown mailbox"):
			code = CodeFolderNotFound
		case strings.Contains(msg, "not connected") ||
			strings.Contains(msg, "already"):
			code = CodeIllegalState
		}
	}

	return &ConnError{Code: code, Source: source, Err: err}
}

// authError classifies a failed login, which some servers report with
// unhelpful generic text.
func authError(source string, err error) *ConnError {
	return &ConnError{Code: CodeAuthenticationFailed, Source: source, Err: err}
}

// folderError classifies a failed mailbox selection.
func folderError(source string, err error) *ConnError {
	return &ConnError{Code: CodeFolderNotFound, Source: source, Err: err}
}
