package pagination

import (
	"errors"
	"strings"
)

// Sentinel error kinds for this package.
var (
	ErrAttemptFailed        = errors.New("pagination attempt failed")
	ErrAllAttemptsExhausted = errors.New("all pagination attempts exhausted")
)

// AttemptFailure records why one strategy was abandoned.
type AttemptFailure struct {
	Attempt string `json:"attempt"`
	Reason  string `json:"reason"`
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Failures []AttemptFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Attempt+": "+f.Reason)
	}
	return ErrAllAttemptsExhausted.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() error { return ErrAllAttemptsExhausted }
