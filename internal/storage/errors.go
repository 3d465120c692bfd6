package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrMalformed is returned when a stored entity exists but cannot be decoded.
var ErrMalformed = errors.New("storage: malformed row")

// ErrInvalidRecord is returned by Append when a record violates its invariants.
var ErrInvalidRecord = errors.New("storage: invalid record")
