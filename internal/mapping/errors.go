package mapping

import "errors"

var (
	// ErrInvalidEntry is returned by Build for structurally broken entries.
	ErrInvalidEntry = errors.New("mapping: invalid entry")

	// ErrTransform is returned when a value does not fit a transform's input.
	ErrTransform = errors.New("mapping: transform failed")

	// ErrNotFound is returned when no entry maps a datapoint or capability.
	ErrNotFound = errors.New("mapping: no entry")

	// ErrCatalog is returned for unreadable or malformed catalog files.
	ErrCatalog = errors.New("mapping: invalid catalog")
)
