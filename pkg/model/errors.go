package model

import "errors"

// Error kinds for boundary failures. Callers match with errors.Is; every
// other failure mode is a plain wrapped error. Parse failures and index
// inconsistencies are logged-and-skipped, never fatal to a surrounding
// scan.
var (
	// ErrInvalidPath marks a path that resolves under no known root.
	ErrInvalidPath = errors.New("path outside any known root")
	// ErrMissingFile marks a referenced file that is gone from disk.
	ErrMissingFile = errors.New("referenced file missing")
	// ErrParseFailure marks a hard tag-parse failure; the path is recorded
	// in the do-not-retry set.
	ErrParseFailure = errors.New("tag parse failed")
	// ErrIndexInconsistency marks a violated graph cross-reference.
	ErrIndexInconsistency = errors.New("index inconsistency")
	// ErrReadOnlyTarget marks a write target that was unwritable and fell
	// back to a secondary location.
	ErrReadOnlyTarget = errors.New("target is read-only")
	// ErrHashCollision marks a hash slot clash resolved by chained rehash.
	ErrHashCollision = errors.New("hash collision")
)
