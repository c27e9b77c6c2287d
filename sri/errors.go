package sri

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("%w: ...", ...) and unwrap with
// errors.Is.
var (
	// ErrNoSuchDigest reports that the runtime has no hash implementation
	// for a requested algorithm.
	ErrNoSuchDigest = errors.New("sri: no such digest algorithm")

	// ErrContentSizeMismatch reports that the declared size did not match
	// the size of the data being checked.
	ErrContentSizeMismatch = errors.New("sri: content size mismatch")

	// ErrIntegrityMismatch reports that no hash in an Integrity matched
	// the data under the picked algorithm.
	ErrIntegrityMismatch = errors.New("sri: integrity check failed")

	// ErrNoIntegrity reports that an Integrity has no hashes to pick from.
	ErrNoIntegrity = errors.New("sri: integrity has no hashes")
)
