package store

import "errors"

// ErrNotFound is returned when a keyed record or object does not exist.
var ErrNotFound = errors.New("store: not found")
