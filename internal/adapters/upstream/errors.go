package upstream

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package.
var (
	ErrRateLimited    = errors.New("upstream rate limited")
	ErrStatus         = errors.New("upstream returned error status")
	ErrDecode         = errors.New("upstream response not decodable")
	ErrReferenceSheet = errors.New("reference sheet unusable")

	// ErrUnrecognizedShape is a decodable body that carries no row list.
	ErrUnrecognizedShape = errors.New("upstream response has no row list")
)

// StatusError is a non-2xx response that is not a rate limit.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// RateLimitError is returned once retries are exhausted on rate limiting.
type RateLimitError struct {
	Attempts   int
	LastStatus int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s after %d attempts (last status %d)", ErrRateLimited, e.Attempts, e.LastStatus)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
