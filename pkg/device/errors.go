package device

import (
	"errors"
	"fmt"
)

// Exported variables.
var (
	// ErrTransport marks network and HTTP failures.
	ErrTransport = errors.New("device transport failure")
	// ErrAuth marks signing and credential failures.
	ErrAuth = errors.New("device authentication failed")
	// ErrNotAuthenticated is returned by calls made before Authenticate.
	ErrNotAuthenticated = errors.New("device session not authenticated")
)

// RequestFailure reports a non-2xx response.
type RequestFailure struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestFailure) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}

	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is makes every RequestFailure match ErrTransport.
func (e *RequestFailure) Is(target error) bool {
	return target == ErrTransport
}

// AuthError wraps a failure during the authentication handshake.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAuth, e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is makes every AuthError match ErrAuth.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
