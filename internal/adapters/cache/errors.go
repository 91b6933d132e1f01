package cache

import "errors"

// ErrEntryCorrupt marks a durable entry that could not be decoded. It is
// logged and served as a miss.
var ErrEntryCorrupt = errors.New("range cache entry corrupt")
