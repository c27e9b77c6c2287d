// Package content implements cafs's content-addressed blob store: atomic
// publish of a write-to-temp file into a content-addressed destination, and
// verified reads.
package content

import (
	"crypto/md5" //nolint:gosec // used only to derive a short opaque tmp-file slug, never for integrity
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/pkg/fs"
	"github.com/contentaddr/cafs/sri"
)

// ErrArgument reports a client-supplied inconsistency caught before any I/O,
// such as a declared size that does not match the data's actual length.
var ErrArgument = errors.New("content: invalid argument")

// ErrMissing reports that no content file exists at the requested path.
var ErrMissing = errors.New("content: no such content")

// Store is the content-addressed blob store rooted at a cache directory.
type Store struct {
	dir    string
	fs     fs.FS
	atomic *fs.AtomicWriter
}

// New returns a Store rooted at dir, using fsys for all filesystem access.
func New(dir string, fsys fs.FS) *Store {
	return &Store{dir: dir, fs: fsys, atomic: fs.NewAtomicWriter(fsys)}
}

// WriteOpts configures Store.Write.
type WriteOpts struct {
	// Size, if set, must equal len(data).
	Size *int64
	// Integrity, if set, must already be satisfied by data.
	Integrity string
	// Algorithms lists the digest algorithms to compute; defaults to sha512.
	Algorithms []string
	// UID and GID, if both set and the process can chown, are applied to
	// the tmp workspace and to the published blob's parent directory.
	UID, GID *int
	// TmpPrefix names the tmp workspace subdirectory prefix.
	TmpPrefix string
}

// WriteResult is the outcome of a successful Write.
type WriteResult struct {
	Integrity sri.Integrity
	Size      int64
}

// Write computes data's integrity, optionally verifies it against
// opts.Integrity/opts.Size, and atomically publishes it to its
// content-addressed path. Concurrent writes of identical bytes are
// idempotent: the loser of the publish race simply observes its own bytes
// already in place.
func (s *Store) Write(data []byte, opts WriteOpts) (WriteResult, error) {
	if opts.Size != nil && int64(len(data)) != *opts.Size {
		return WriteResult{}, fmt.Errorf("%w: declared size %d does not match %d bytes written", ErrArgument, *opts.Size, len(data))
	}

	computed, err := sri.FromData(data, sri.FromDataOptions{Algorithms: opts.Algorithms})
	if err != nil {
		return WriteResult{}, err
	}

	if opts.Integrity != "" {
		expected := sri.Parse(opts.Integrity, sri.ParseOptions{})

		_, err = sri.Check(data, expected, sri.CheckOptions{Size: opts.Size})
		if err != nil {
			return WriteResult{}, fmt.Errorf("content: write: %w", err)
		}
	}

	tmpDir := pathlayout.TmpDir(s.dir)

	err = s.fs.MkdirAll(tmpDir, 0o755)
	if err != nil {
		return WriteResult{}, fmt.Errorf("content: create tmp dir: %w", err)
	}

	maybeChown(tmpDir, opts.UID, opts.GID)

	tmpPath, err := s.writeTmpFile(tmpDir, opts.TmpPrefix, data)
	if err != nil {
		return WriteResult{}, err
	}

	algo, err := computed.PickAlgorithm(sri.PickAlgorithmOptions{})
	if err != nil {
		return WriteResult{}, err
	}

	destPath, err := pathlayout.ContentPathForHash(s.dir, computed.Hashes(algo)[0])
	if err != nil {
		return WriteResult{}, err
	}

	destPerm := os.FileMode(0o444)
	if runtime.GOOS == "windows" {
		destPerm = 0
	}

	err = s.atomic.PublishByLink(tmpPath, destPath, destPerm)
	if err != nil {
		return WriteResult{}, fmt.Errorf("content: publish %q: %w", destPath, err)
	}

	maybeChown(filepath.Dir(destPath), opts.UID, opts.GID)

	return WriteResult{Integrity: computed, Size: int64(len(data))}, nil
}

// writeTmpFile creates a uniquely named file under tmpDir and writes data to
// it, syncing before returning. The name is a short slug (per spec §3:
// md5(uniq)[-8:]) so tmp workspaces stay human-scannable.
func (s *Store) writeTmpFile(tmpDir, prefix string, data []byte) (string, error) {
	if prefix == "" {
		prefix = "content"
	}

	path := filepath.Join(tmpDir, prefix+"-"+tmpSlug())

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("content: create tmp file %q: %w", path, err)
	}

	_, writeErr := f.Write(data)
	syncErr := f.Sync()
	closeErr := f.Close()

	if writeErr != nil || syncErr != nil || closeErr != nil {
		_ = s.fs.Remove(path)

		return "", fmt.Errorf("content: write tmp file %q: %w", path, errors.Join(writeErr, syncErr, closeErr))
	}

	return path, nil
}

func tmpSlug() string {
	sum := md5.Sum([]byte(uuid.NewString())) //nolint:gosec // opaque filename component only
	hexDigest := hex.EncodeToString(sum[:])

	return hexDigest[len(hexDigest)-8:]
}

// Read opens the content file addressed by integrity for streaming reads.
// It does not re-verify the content; callers that need verification should
// use sri.CheckFile or read through Store.ReadAll.
func (s *Store) Read(integrity string) (fs.File, error) {
	path, err := pathlayout.ContentPath(s.dir, integrity)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, integrity)
		}

		return nil, fmt.Errorf("content: open %q: %w", path, err)
	}

	return f, nil
}

// ReadAll reads the full content addressed by integrity into memory and
// checks it against integrity, failing with sri.ErrIntegrityMismatch if the
// stored bytes no longer match.
func (s *Store) ReadAll(integrity string) ([]byte, error) {
	f, err := s.Read(integrity)
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("content: read: %w", err)
	}

	_, err = sri.Check(data, sri.Parse(integrity, sri.ParseOptions{}), sri.CheckOptions{})
	if err != nil {
		return nil, fmt.Errorf("content: read: %w", err)
	}

	return data, nil
}

// HasContentResult is the outcome of a successful HasContent probe.
type HasContentResult struct {
	Integrity sri.Integrity
	Size      int64
}

// HasContent reports whether the blob addressed by integrity exists,
// without verifying its bytes.
func (s *Store) HasContent(integrity string) (HasContentResult, bool, error) {
	path, err := pathlayout.ContentPath(s.dir, integrity)
	if err != nil {
		return HasContentResult{}, false, err
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrPermission) {
			return HasContentResult{}, false, nil
		}

		return HasContentResult{}, false, fmt.Errorf("content: stat %q: %w", path, err)
	}

	return HasContentResult{
		Integrity: sri.Parse(integrity, sri.ParseOptions{}),
		Size:      info.Size(),
	}, true, nil
}

// RmContent deletes the blob addressed by integrity. It reports false
// (with no error) when there was nothing to delete.
func (s *Store) RmContent(integrity string) (bool, error) {
	_, ok, err := s.HasContent(integrity)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	path, err := pathlayout.ContentPath(s.dir, integrity)
	if err != nil {
		return false, err
	}

	err = s.fs.Remove(path)
	if err != nil {
		return false, fmt.Errorf("content: remove %q: %w", path, err)
	}

	return true, nil
}

// maybeChown applies uid/gid to path when both are set. ENOENT (the path
// vanished between creation and chown) and platforms without POSIX
// ownership are tolerated no-ops, per spec §5.
func maybeChown(path string, uid, gid *int) {
	if uid == nil || gid == nil {
		return
	}

	err := os.Chown(path, *uid, *gid)
	if err != nil && !os.IsNotExist(err) {
		_ = err // best-effort; ownership fix-up failures never fail the write
	}
}
