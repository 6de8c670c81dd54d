package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can decide whether to continue a batch.
type Kind string

const (
	KindIO        Kind = "io_error"
	KindAuth      Kind = "auth_error"
	KindTransport Kind = "transport_error"
	KindRemote    Kind = "remote_error"
	KindConfig    Kind = "config_error"
)

var (
	// ErrNoCredential means no usable token, refresh token or authorization code exists.
	ErrNoCredential = errors.New("no usable credential")
	// ErrRefreshFailed wraps token endpoint failures.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrUnauthorized matches a platform RemoteError with status 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is the common error type carrying a Kind and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IOError wraps a file system failure on queue, audit or token storage.
func IOError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// AuthError wraps a credential failure.
func AuthError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// TransportError wraps a network level failure.
func TransportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// ConfigError reports missing or invalid configuration.
func ConfigError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// RemoteError is a non-2xx platform response.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("API Error: %d - %s", e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *RemoteError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// RefreshError is a non-2xx response from the OAuth2 token endpoint.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

func (e *RefreshError) Unwrap() error { return ErrRefreshFailed }

// KindOf returns the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Status == http.StatusUnauthorized {
			return KindAuth
		}
		return KindRemote
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRefreshFailed) {
		return KindAuth
	}
	return ""
}

// Truncate shortens s to max runes, appending "..." when it was cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
