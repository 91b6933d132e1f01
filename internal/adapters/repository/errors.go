package repository

import "errors"

// Common repository errors.
var (
	ErrEmptyKey = errors.New("empty document key")
	// ErrSnapshotCorrupt marks a stored snapshot that could not be decoded.
	// Callers see it only in logs; Load treats the snapshot as absent.
	ErrSnapshotCorrupt = errors.New("snapshot payload corrupt")
	ErrOpenStore       = errors.New("open document store")
)
