package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNetworkFailure     = errors.New("network failure")
	ErrServerRejected     = errors.New("server rejected grant")
	ErrExpired            = errors.New("token expired")

	// Credential loading failures. They reach callers inside an *Error of
	// KindInvalidCredentials.
	ErrReadCredentials    = errors.New("read credentials")
	ErrParseCredentials   = errors.New("parse credentials")
	ErrMissingCredentials = errors.New("no credentials source")
)

// Kind classifies an authentication failure.
type Kind int

const (
	KindInvalidCredentials Kind = iota + 1
	KindNetworkFailure
	KindServerRejected
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNetworkFailure:
		return "network_failure"
	case KindServerRejected:
		return "server_rejected"
	case KindExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Error is the AuthError of the session taxonomy.
type Error struct {
	Kind Kind
	Flow Flow
	// StatusCode is the HTTP status of a rejected grant (KindServerRejected only).
	StatusCode int
	// Code is the OAuth2 error code from the response body, e.g. "invalid_grant".
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("auth %s", e.Kind)
	if e.Flow != 0 {
		msg += fmt.Sprintf(" (%s)", e.Flow)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Kind == KindInvalidCredentials
	case ErrNetworkFailure:
		return e.Kind == KindNetworkFailure
	case ErrServerRejected:
		return e.Kind == KindServerRejected
	case ErrExpired:
		return e.Kind == KindExpired
	}
	return false
}

func invalidCredentials(flow Flow, message string) *Error {
	return &Error{Kind: KindInvalidCredentials, Flow: flow, Message: message}
}
