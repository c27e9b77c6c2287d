package cafs

// PutOpts configures Cache.Put.
type PutOpts struct {
	// Size, if set, must equal len(data); otherwise Put fails with
	// ErrInvalidArgument before writing anything.
	Size *int64

	// Metadata is stored alongside the entry and returned verbatim by
	// Get and GetInfo. It must be JSON-marshalable.
	Metadata any

	// Integrity, if set, must already be satisfied by data; Put fails
	// with ErrIntegrity otherwise.
	Integrity string

	// Algorithms lists the digest algorithms to compute for the new
	// content. Defaults to []string{"sha512"}.
	Algorithms []string

	// UID and GID, if both set, are applied to the tmp workspace and to
	// the published blob's parent directory. Requires appropriate privileges;
	// failures are tolerated as best-effort.
	UID, GID *int
}

// VerifyOpts configures Cache.Verify.
type VerifyOpts struct {
	// Log, if set, receives human-readable progress lines as the
	// verify/GC pipeline runs: at the start, after the fix_permissions,
	// garbage_collect and rebuild_index phases, and at the end.
	Log func(string)

	// Filter, if set, excludes index entries it returns false for from
	// the rebuilt index and the live set used for content GC; excluded
	// entries count toward Stats.RejectedEntries.
	Filter func(Entry) bool

	// UID and GID, if both set, are applied to content fixed up during
	// the fix_permissions phase.
	UID, GID *int
}
