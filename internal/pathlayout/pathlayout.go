// Package pathlayout derives the on-disk paths cafs uses for content blobs,
// index buckets, and the tmp workspace, matching the npm cacache layout bit
// for bit (content-v2/index-v5 path sharding, sha256-hashed bucket keys).
package pathlayout

import (
	"crypto/sha1" //nolint:gosec // wire format mandates sha1 for bucket line hashes
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/contentaddr/cafs/sri"
)

// CacheVersion holds the compile-time content/index format version pair
// embedded in every on-disk path, per spec I6.
type CacheVersion struct {
	Content string
	Index   string
}

// Versions is the fixed content/index version pair this module writes and
// reads. It must never change without a corresponding path-layout bump.
var Versions = CacheVersion{Content: "content-v2", Index: "index-v5"}

// HashKey returns the lowercase hex sha256 digest of key, used to derive a
// bucket's path.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// HashEntry returns the lowercase hex sha1 digest of an encoded bucket-line
// JSON payload, used as that line's self-hash prefix.
func HashEntry(json string) string {
	sum := sha1.Sum([]byte(json)) //nolint:gosec // wire format mandates sha1

	return hex.EncodeToString(sum[:])
}

// HashToSegments splits a hex digest into the three path segments cacache
// shards on: the first two characters, the next two, and the remainder. hex
// must be at least 4 characters long.
func HashToSegments(hexDigest string) ([3]string, error) {
	if len(hexDigest) < 4 {
		return [3]string{}, fmt.Errorf("pathlayout: hex digest %q is shorter than 4 characters", hexDigest)
	}

	return [3]string{hexDigest[0:2], hexDigest[2:4], hexDigest[4:]}, nil
}

// BucketPath returns the index bucket file path for key, rooted at cacheDir.
func BucketPath(cacheDir, key string) (string, error) {
	segs, err := HashToSegments(HashKey(key))
	if err != nil {
		return "", err
	}

	return filepath.Join(cacheDir, Versions.Index, segs[0], segs[1], segs[2]), nil
}

// ContentPath returns the content blob path for an integrity string, rooted
// at cacheDir. It parses integrity and picks its best algorithm exactly as
// content addressing requires: the path is derived from one (algorithm,
// digest) pair, not the whole multi-hash Integrity.
func ContentPath(cacheDir, integrity string) (string, error) {
	parsed := sri.Parse(integrity, sri.ParseOptions{})

	algo, err := parsed.PickAlgorithm(sri.PickAlgorithmOptions{})
	if err != nil {
		return "", fmt.Errorf("pathlayout: content path for %q: %w", integrity, err)
	}

	return contentPathFor(cacheDir, algo, parsed.Hashes(algo)[0])
}

func contentPathFor(cacheDir, algorithm string, h sri.Hash) (string, error) {
	hexDigest, err := h.HexDigest()
	if err != nil {
		return "", fmt.Errorf("pathlayout: content path: %w", err)
	}

	segs, err := HashToSegments(hexDigest)
	if err != nil {
		return "", err
	}

	return filepath.Join(cacheDir, Versions.Content, algorithm, segs[0], segs[1], segs[2]), nil
}

// ContentPathForHash is like ContentPath but takes an already-picked Hash,
// avoiding a re-parse when the caller already has one (e.g. the content
// store after SRI.FromData).
func ContentPathForHash(cacheDir string, h sri.Hash) (string, error) {
	return contentPathFor(cacheDir, h.Algorithm, h)
}

// TmpDir returns the cache's tmp workspace directory.
func TmpDir(cacheDir string) string {
	return filepath.Join(cacheDir, "tmp")
}

// VerifilePath returns the path of the last-verified marker file.
func VerifilePath(cacheDir string) string {
	return filepath.Join(cacheDir, "_lastverified")
}

// ContentDir returns the root of the content-addressed tree.
func ContentDir(cacheDir string) string {
	return filepath.Join(cacheDir, Versions.Content)
}

// IndexDir returns the root of the index bucket tree.
func IndexDir(cacheDir string) string {
	return filepath.Join(cacheDir, Versions.Index)
}
