package pathlayout_test

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/sri"
)

func Test_BucketPath_Shards_On_Sha256_Of_Key(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("pacote:tarball:ansi-regex@5.0.0"))
	hexDigest := hex.EncodeToString(sum[:])

	got, err := pathlayout.BucketPath("/cache", "pacote:tarball:ansi-regex@5.0.0")
	require.NoError(t, err)

	want := filepath.Join("/cache", "index-v5", hexDigest[0:2], hexDigest[2:4], hexDigest[4:])
	assert.Equal(t, want, got)
}

func Test_ContentPath_Shards_On_Algorithm_And_Hex_Digest(t *testing.T) {
	t.Parallel()

	integrity, err := sri.FromData([]byte("foobarbaz"), sri.FromDataOptions{Algorithms: []string{"sha512"}})
	require.NoError(t, err)

	hexDigest, err := integrity.Hashes("sha512")[0].HexDigest()
	require.NoError(t, err)

	got, err := pathlayout.ContentPath("/cache", integrity.String())
	require.NoError(t, err)

	want := filepath.Join("/cache", "content-v2", "sha512", hexDigest[0:2], hexDigest[2:4], hexDigest[4:])
	assert.Equal(t, want, got)
}

func Test_HashToSegments_Rejects_Short_Digests(t *testing.T) {
	t.Parallel()

	_, err := pathlayout.HashToSegments("ab")
	require.Error(t, err)
}
