package storage

import "errors"

// ErrNotFound is returned when a policy override or API key does not exist.
var ErrNotFound = errors.New("not found")
