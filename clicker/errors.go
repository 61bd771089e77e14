package clicker

import (
	"fmt"
	"time"
)

// ResolutionError indicates the clicker binary could not be found. Path is set
// when a specific candidate (explicit path) was rejected; Remediation tells the
// user how to fix it.
type ResolutionError struct {
	Path        string
	Remediation string
}

func (e *ResolutionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("clicker binary not found at explicit path: %s", e.Path)
	}
	return "could not find clicker binary. " + e.Remediation
}

// CrashedError indicates the clicker process exited before or during a session.
type CrashedError struct {
	ExitCode int
	Output   string
}

func (e *CrashedError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("clicker crashed with exit code %d: %s", e.ExitCode, e.Output)
	}
	return fmt.Sprintf("clicker crashed with exit code %d", e.ExitCode)
}

// StartTimeoutError indicates the clicker process never announced its
// listening port within the start timeout. The process has been killed by the
// time this error is returned.
type StartTimeoutError struct {
	Timeout time.Duration
}

func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for clicker to announce its port", e.Timeout)
}
