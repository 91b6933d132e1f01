package enrich

import "errors"

// ErrLookupFailed marks a contact whose profile could not be fetched.
var ErrLookupFailed = errors.New("contact lookup failed")
