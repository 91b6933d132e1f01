package geo

import "errors"

// ErrDirectoryUnavailable means no directory could be built; inference is skipped.
var ErrDirectoryUnavailable = errors.New("geo directory unavailable")
