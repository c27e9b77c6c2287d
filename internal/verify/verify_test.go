package verify_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentaddr/cafs/internal/content"
	"github.com/contentaddr/cafs/internal/index"
	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/internal/verify"
	"github.com/contentaddr/cafs/pkg/fs"
)

func Test_Run_Keeps_Referenced_Content(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	store := content.New(dir, fsys)
	idx := index.New(dir, fsys)

	result, err := store.Write([]byte("kept"), content.WriteOpts{})
	require.NoError(t, err)
	_, err = idx.Insert("kept-key", result.Integrity.String(), index.InsertOpts{Size: result.Size})
	require.NoError(t, err)

	stats, err := verify.Run(dir, fsys, verify.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.VerifiedContent)
	assert.Equal(t, 0, stats.ReclaimedCount)
	assert.Equal(t, 1, stats.TotalEntries)

	_, ok, err := idx.Find("kept-key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Run_Reclaims_Unreferenced_Content(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	store := content.New(dir, fsys)

	result, err := store.Write([]byte("orphaned"), content.WriteOpts{})
	require.NoError(t, err)

	stats, err := verify.Run(dir, fsys, verify.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ReclaimedCount)
	assert.Equal(t, int64(len("orphaned")), stats.ReclaimedSize)

	_, ok, err := store.HasContent(result.Integrity.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Run_Reclaims_Tampered_Content(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	store := content.New(dir, fsys)
	idx := index.New(dir, fsys)

	result, err := store.Write([]byte("original bytes"), content.WriteOpts{})
	require.NoError(t, err)
	_, err = idx.Insert("tampered-key", result.Integrity.String(), index.InsertOpts{})
	require.NoError(t, err)

	path, err := pathlayout.ContentPath(dir, result.Integrity.String())
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0o644))
	truncated := []byte("original bytes")[:len("original bytes")-1]
	require.NoError(t, os.WriteFile(path, truncated, 0o644))

	stats, err := verify.Run(dir, fsys, verify.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BadContentCount)
	assert.Equal(t, 1, stats.MissingContent)
	assert.Equal(t, 1, stats.RejectedEntries)
	assert.Equal(t, 1, stats.ReclaimedCount)
	assert.Equal(t, int64(len(truncated)), stats.ReclaimedSize)
	assert.Equal(t, 0, stats.TotalEntries)

	_, ok, err := idx.Find("tampered-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Run_Filter_Rejects_Entry_And_Reclaims_Its_Content(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	store := content.New(dir, fsys)
	idx := index.New(dir, fsys)

	result, err := store.Write([]byte("filtered out"), content.WriteOpts{})
	require.NoError(t, err)
	_, err = idx.Insert("drop-me", result.Integrity.String(), index.InsertOpts{})
	require.NoError(t, err)

	stats, err := verify.Run(dir, fsys, verify.Options{
		Filter: func(e index.Entry) bool { return e.Key != "drop-me" },
	})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.VerifiedContent)
	assert.Equal(t, 1, stats.ReclaimedCount)
	assert.Equal(t, 1, stats.RejectedEntries)
	assert.Equal(t, 0, stats.TotalEntries)

	_, ok, err := idx.Find("drop-me")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.HasContent(result.Integrity.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Run_Writes_Verifile_Readable_By_LastRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	_, ok, err := verify.LastRun(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := verify.Run(dir, fsys, verify.Options{})
	require.NoError(t, err)

	when, ok, err := verify.LastRun(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stats.StartTime, when.Unix())
}

func Test_Run_Cleans_Tmp_Workspace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	tmpDir := pathlayout.TmpDir(dir)
	require.NoError(t, os.MkdirAll(tmpDir, 0o755))
	require.NoError(t, os.WriteFile(tmpDir+"/leftover", []byte("x"), 0o644))

	_, err := verify.Run(dir, fsys, verify.Options{})
	require.NoError(t, err)

	_, statErr := os.Stat(tmpDir)
	assert.True(t, os.IsNotExist(statErr))
}

func Test_Run_Invokes_Log_Callback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	var lines []string

	_, err := verify.Run(dir, fsys, verify.Options{Log: func(s string) {
		lines = append(lines, s)
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
}
