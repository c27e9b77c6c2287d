package cafs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentaddr/cafs"
)

func Test_Put_Then_Get_Roundtrips(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	data := []byte(`{"name":"ansi-regex","version":"5.0.0"}`)
	entry, err := c.Put("pacote:tarball:ansi-regex@5.0.0", data, cafs.PutOpts{Metadata: "npm"})
	require.NoError(t, err)
	assert.Equal(t, "pacote:tarball:ansi-regex@5.0.0", entry.Key)

	got, gotEntry, err := c.Get("pacote:tarball:ansi-regex@5.0.0")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "npm", gotEntry.Metadata)
}

func Test_Get_Missing_Key_Returns_ErrNotFound(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	_, _, err := c.Get("does-not-exist")
	require.ErrorIs(t, err, cafs.ErrNotFound)
}

func Test_Put_Rejects_Size_Mismatch(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	wrong := int64(100)
	_, err := c.Put("k", []byte("short"), cafs.PutOpts{Size: &wrong})
	require.ErrorIs(t, err, cafs.ErrInvalidArgument)
}

func Test_RmEntry_Hides_Key_But_Keeps_Content_Until_Verify(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	entry, err := c.Put("k", []byte("data"), cafs.PutOpts{})
	require.NoError(t, err)

	require.NoError(t, c.RmEntry("k"))

	_, _, err = c.Get("k")
	require.ErrorIs(t, err, cafs.ErrNotFound)

	has, err := c.HasContent(entry.Integrity)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = c.Verify(cafs.VerifyOpts{})
	require.NoError(t, err)

	has, err = c.HasContent(entry.Integrity)
	require.NoError(t, err)
	assert.False(t, has)
}

func Test_Verify_Filter_Excludes_Matching_Entries(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	_, err := c.Put("keep", []byte("keep"), cafs.PutOpts{})
	require.NoError(t, err)
	_, err = c.Put("drop", []byte("drop"), cafs.PutOpts{})
	require.NoError(t, err)

	stats, err := c.Verify(cafs.VerifyOpts{
		Filter: func(e cafs.Entry) bool { return e.Key != "drop" },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RejectedEntries)

	_, _, err = c.Get("drop")
	require.ErrorIs(t, err, cafs.ErrNotFound)

	_, found, err := c.GetInfo("keep")
	require.NoError(t, err)
	assert.True(t, found)
}

func Test_GetByDigest_Reads_Content_Without_A_Key(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	entry, err := c.Put("k", []byte("digest only"), cafs.PutOpts{})
	require.NoError(t, err)

	data, err := c.GetByDigest(entry.Integrity)
	require.NoError(t, err)
	assert.Equal(t, []byte("digest only"), data)
}

func Test_Ls_Lists_All_Live_Entries(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	_, err := c.Put("a", []byte("1"), cafs.PutOpts{})
	require.NoError(t, err)
	_, err = c.Put("b", []byte("2"), cafs.PutOpts{})
	require.NoError(t, err)

	all, err := c.Ls()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func Test_RmAll_Removes_Everything(t *testing.T) {
	t.Parallel()

	c := cafs.New(t.TempDir())

	_, err := c.Put("k", []byte("data"), cafs.PutOpts{})
	require.NoError(t, err)

	require.NoError(t, c.RmAll())

	all, err := c.Ls()
	require.NoError(t, err)
	assert.Empty(t, all)
}
