package service

import "errors"

var (
	// ErrUnknownTenant is returned for a tenant missing from configuration.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrUnknownIntegration is returned for an integration key the tenant does not have.
	ErrUnknownIntegration = errors.New("unknown integration")
	// ErrInvalidRange is returned when the range is empty or inverted.
	ErrInvalidRange = errors.New("invalid date range")
)
