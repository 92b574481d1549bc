package models

import "errors"

var (
	// ErrInvalidInput indicates an empty upload, a blank name or a missing file reference.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a missing record, blob or local file.
	ErrNotFound = errors.New("not found")

	// ErrEmptyDocument indicates a PDF with zero pages.
	ErrEmptyDocument = errors.New("empty document")

	// ErrStorage indicates an unexpected object-store failure on store or delete.
	ErrStorage = errors.New("storage error")
)
