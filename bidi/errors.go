package bidi

import (
	"fmt"
	"time"
)

// ConnectionError indicates the transport could not be established or was
// dropped.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to connect to %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s", e.URL)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a single command's deadline elapsed. Other pending
// commands are unaffected.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s waiting for %q", e.Timeout, e.Method)
}

// ProtocolError is an error response from the server. Code is the protocol
// error code (e.g. "no such element", "timeout") for programmatic branching;
// Stacktrace is the server-side stack, possibly empty.
type ProtocolError struct {
	Code       string
	Message    string
	Stacktrace string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether the server returned the given error code.
func (e *ProtocolError) IsCode(code string) bool {
	return e.Code == code
}

// ClosedError indicates an operation was attempted after a deliberate close.
type ClosedError struct{}

func (e *ClosedError) Error() string {
	return "connection closed"
}
