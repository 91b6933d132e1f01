package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrMissingParam = errors.New("missing query parameter")
	ErrInvalidDate  = errors.New("invalid date; use YYYY-MM-DD or RFC3339")
)
