package sri_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentaddr/cafs/sri"
)

func Test_FromData_Then_Check_Roundtrips(t *testing.T) {
	t.Parallel()

	data := []byte("foobarbaz")

	integrity, err := sri.FromData(data, sri.FromDataOptions{})
	require.NoError(t, err)

	h, err := sri.Check(data, integrity, sri.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sha512", h.Algorithm)
	assert.True(t, sri.Matches(data, integrity, sri.CheckOptions{}))
}

func Test_Check_Fails_On_Size_Mismatch(t *testing.T) {
	t.Parallel()

	data := []byte("foobarbaz")

	integrity, err := sri.FromData(data, sri.FromDataOptions{})
	require.NoError(t, err)

	wrong := int64(3)
	_, err = sri.Check(data, integrity, sri.CheckOptions{Size: &wrong})
	require.ErrorIs(t, err, sri.ErrContentSizeMismatch)
}

func Test_Check_Fails_On_Tampered_Data(t *testing.T) {
	t.Parallel()

	integrity, err := sri.FromData([]byte("foobarbaz"), sri.FromDataOptions{})
	require.NoError(t, err)

	_, err = sri.Check([]byte("tampered!"), integrity, sri.CheckOptions{})
	require.ErrorIs(t, err, sri.ErrIntegrityMismatch)
}

func Test_Parse_Drops_Malformed_Tokens(t *testing.T) {
	t.Parallel()

	integrity := sri.Parse("sha512-not-a-token-at-all-without-dash-separator !!! sha256-AAAA", sri.ParseOptions{})

	// "sha512-not-a-token..." still matches algorithm-digest?opts shape
	// (digest is everything up to the next '?'), so it parses; "!!!" does not.
	assert.NotContains(t, integrity.Algorithms(), "")
	assert.Contains(t, integrity.Algorithms(), "sha256")
}

func Test_Parse_Strict_Rejects_Unknown_Algorithm_And_Bad_Chars(t *testing.T) {
	t.Parallel()

	raw := "md5-deadbeef== sha512-" + validBase64(t) + " sha512-" + validBase64(t) + "?\x01bad sha1-" + validBase64(t)

	integrity := sri.Parse(raw, sri.ParseOptions{Strict: true})

	for _, algo := range integrity.Algorithms() {
		assert.Contains(t, []string{"sha384", "sha512"}, algo)
	}

	// the sha512 hash with a control-character option must be dropped, leaving
	// exactly one sha512 hash.
	assert.Len(t, integrity.Hashes("sha512"), 1)
}

func Test_PickAlgorithm_Prefers_Higher_Priority_And_Breaks_Ties_By_Insertion(t *testing.T) {
	t.Parallel()

	integrity := sri.NewIntegrity()
	integrity.Add(sri.Hash{Algorithm: "sha1", Digest: "aaaa"})
	integrity.Add(sri.Hash{Algorithm: "sha512", Digest: "bbbb"})
	integrity.Add(sri.Hash{Algorithm: "md5", Digest: "cccc"})

	picked, err := integrity.PickAlgorithm(sri.PickAlgorithmOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sha512", picked)

	// two unknown algorithms both score -1: the first one added wins.
	tied := sri.NewIntegrity()
	tied.Add(sri.Hash{Algorithm: "foo", Digest: "aaaa"})
	tied.Add(sri.Hash{Algorithm: "bar", Digest: "bbbb"})

	picked, err = tied.PickAlgorithm(sri.PickAlgorithmOptions{})
	require.NoError(t, err)
	assert.Equal(t, "foo", picked)
}

func Test_PickAlgorithm_Fails_On_Empty_Integrity(t *testing.T) {
	t.Parallel()

	_, err := sri.NewIntegrity().PickAlgorithm(sri.PickAlgorithmOptions{})
	require.ErrorIs(t, err, sri.ErrNoIntegrity)
}

func Test_FromHex_Roundtrips_Through_HexDigest(t *testing.T) {
	t.Parallel()

	integrity, err := sri.FromHex("deadbeef", "sha256", nil)
	require.NoError(t, err)

	h := integrity.Hashes("sha256")[0]
	hexDigest, err := h.HexDigest()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hexDigest)
}

func Test_Integrity_String_Roundtrips_Through_Parse(t *testing.T) {
	t.Parallel()

	integrity, err := sri.FromData([]byte("hello world"), sri.FromDataOptions{
		Algorithms: []string{"sha256", "sha512"},
	})
	require.NoError(t, err)

	roundtripped := sri.Parse(integrity.String(), sri.ParseOptions{})
	assert.True(t, integrity.Equal(roundtripped))
}

func Test_CheckFile_Streams_Without_Loading_Whole_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "blob")

	data := []byte("streamed content for integrity check")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	integrity, err := sri.FromData(data, sri.FromDataOptions{})
	require.NoError(t, err)

	h, err := sri.CheckFile(path, integrity, sri.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sha512", h.Algorithm)
}

func validBase64(t *testing.T) string {
	t.Helper()

	integrity, err := sri.FromData([]byte("x"), sri.FromDataOptions{Algorithms: []string{"sha512"}})
	require.NoError(t, err)

	return integrity.Hashes("sha512")[0].Digest
}
