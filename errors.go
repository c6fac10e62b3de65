package cuteshm

import "errors"

var (
	// ErrProjectExists is returned by Create when a project of the
	// same name is already published and overwrite was not requested.
	ErrProjectExists = errors.New("project already exists")

	// ErrCatalogNotFound is returned when no catalog file exists for
	// the requested project.
	ErrCatalogNotFound = errors.New("project catalog not found")

	// ErrCatalogCorrupt is returned when a catalog file cannot be
	// parsed or is missing required fields.
	ErrCatalogCorrupt = errors.New("project catalog corrupt")

	// ErrTreeStructure is returned for invalid input trees: duplicate
	// logical paths, or a leaf whose declared shape and type disagree
	// with its byte length.
	ErrTreeStructure = errors.New("invalid tree structure")

	// ErrLockTimeout is returned when a configured bound on the
	// project lock wait elapses.
	ErrLockTimeout = errors.New("timed out waiting for project lock")
)
