package cafs

import (
	"github.com/contentaddr/cafs/internal/content"
	"github.com/contentaddr/cafs/sri"
)

// Public error taxonomy. Callers should match these with errors.Is rather
// than comparing error strings; wrapped context is added at every layer.
var (
	// ErrNotFound is returned when a key or digest has no live entry.
	ErrNotFound = content.ErrMissing

	// ErrInvalidArgument is returned for client-supplied inconsistencies
	// caught before any I/O, such as a declared size that does not match
	// the data actually written.
	ErrInvalidArgument = content.ErrArgument

	// ErrIntegrity is returned when written or read bytes do not match
	// the integrity they were checked against.
	ErrIntegrity = sri.ErrIntegrityMismatch

	// ErrContentSizeMismatch is returned when a declared size does not
	// match the actual byte count of the content being verified.
	ErrContentSizeMismatch = sri.ErrContentSizeMismatch

	// ErrNoSuchDigest is returned when an integrity string names a digest
	// algorithm this module does not implement.
	ErrNoSuchDigest = sri.ErrNoSuchDigest
)
