package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates the storage layer rejected the write, including
// unique-constraint violations on generated identifiers and conditional state
// transitions that matched no row.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrQuotaExceeded indicates an insert would exceed the per-user active-device
// limit.
var ErrQuotaExceeded = errors.New("repository: device quota exceeded")
