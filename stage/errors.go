package stage

import (
	"errors"
	"fmt"
)

// Failure is the single error type returned by stage calls: non-success
// responses, transport errors, backend-reported errors and malformed
// payloads.
type Failure struct {
	Stage Name
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Reason     string
	err        error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s failed: HTTP %d: %s", f.Stage, f.StatusCode, f.Reason)
	}
	return fmt.Sprintf("%s failed: %s", f.Stage, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.err
}

// Transient reports whether retrying the same call may succeed: transport
// errors and 5xx responses.
func (f *Failure) Transient() bool {
	return f.StatusCode == 0 || f.StatusCode >= 500
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFailure returns true if err is (or wraps) a stage failure.
func IsFailure(err error) bool {
	_, ok := AsFailure(err)
	return ok
}

func newFailure(stage Name, status int, reason string, err error) *Failure {
	return &Failure{Stage: stage, StatusCode: status, Reason: reason, err: err}
}
