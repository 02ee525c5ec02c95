package storage

import "errors"

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrTableExists is returned by CreateTable for an existing table.
	ErrTableExists = errors.New("table already exists")
	// ErrConditionFailed is returned by PutIfAbsent when the key is taken.
	ErrConditionFailed = errors.New("conditional write failed")
	// ErrMissingKey is returned when an item lacks its key attribute.
	ErrMissingKey = errors.New("missing key attribute")
)
