// Package cafs implements a content-addressable filesystem cache wire
// compatible with npm's cacache on-disk layout: content is stored once per
// digest under content-v2/, and keys are bound to digests through an
// append-only, self-hashed index-v5/ bucket log that needs no lock file.
package cafs

import (
	"fmt"
	"io"
	"time"

	"github.com/contentaddr/cafs/internal/content"
	"github.com/contentaddr/cafs/internal/index"
	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/internal/verify"
	"github.com/contentaddr/cafs/pkg/fs"
	"github.com/contentaddr/cafs/sri"
)

// Entry is one live key -> content binding.
type Entry struct {
	Key       string
	Integrity string
	Time      time.Time
	Size      int64
	Metadata  any
}

func entryFromIndex(e index.Entry) Entry {
	return Entry{
		Key:       e.Key,
		Integrity: e.Integrity,
		Time:      time.Unix(e.Time, 0).UTC(),
		Size:      e.Size,
		Metadata:  e.Metadata,
	}
}

// Cache is a content-addressable cache rooted at a single directory.
type Cache struct {
	dir     string
	fs      fs.FS
	content *content.Store
	index   *index.Store
}

// New returns a Cache rooted at dir, backed by the real filesystem.
func New(dir string) *Cache {
	return NewWithFS(dir, fs.NewReal())
}

// NewWithFS returns a Cache rooted at dir, using fsys for all filesystem
// access. Tests use this to swap in a fake or fault-injecting FS.
func NewWithFS(dir string, fsys fs.FS) *Cache {
	return &Cache{
		dir:     dir,
		fs:      fsys,
		content: content.New(dir, fsys),
		index:   index.New(dir, fsys),
	}
}

// Dir returns the cache's root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Put writes data to the content store and binds key to its integrity in
// the index, returning the resulting live entry. Two callers racing to Put
// identical bytes under different keys (or the same key) both succeed.
func (c *Cache) Put(key string, data []byte, opts PutOpts) (Entry, error) {
	result, err := c.content.Write(data, content.WriteOpts{
		Size:       opts.Size,
		Integrity:  opts.Integrity,
		Algorithms: opts.Algorithms,
		UID:        opts.UID,
		GID:        opts.GID,
	})
	if err != nil {
		return Entry{}, err
	}

	entry, err := c.index.Insert(key, result.Integrity.String(), index.InsertOpts{
		Size:     result.Size,
		Metadata: opts.Metadata,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cafs: put %q: %w", key, err)
	}

	return entryFromIndex(entry), nil
}

// Get returns the content bound to key along with its entry. It fails with
// ErrNotFound if key has no live entry, and with ErrIntegrity if the stored
// content no longer matches the entry's recorded integrity.
func (c *Cache) Get(key string) ([]byte, Entry, error) {
	entry, ok, err := c.index.Find(key)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("cafs: get %q: %w", key, err)
	}

	if !ok {
		return nil, Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	data, err := c.content.ReadAll(entry.Integrity)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("cafs: get %q: %w", key, err)
	}

	return data, entryFromIndex(entry), nil
}

// GetInfo returns the live entry bound to key, without reading its content.
func (c *Cache) GetInfo(key string) (Entry, bool, error) {
	entry, ok, err := c.index.Find(key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cafs: get info %q: %w", key, err)
	}

	if !ok {
		return Entry{}, false, nil
	}

	return entryFromIndex(entry), true, nil
}

// GetByDigest reads content directly by its integrity string, bypassing
// the index entirely.
func (c *Cache) GetByDigest(integrity string) ([]byte, error) {
	data, err := c.content.ReadAll(integrity)
	if err != nil {
		return nil, fmt.Errorf("cafs: get by digest: %w", err)
	}

	return data, nil
}

// HasContent reports whether a blob matching integrity exists in the
// content store, independent of whether any key still references it.
func (c *Cache) HasContent(integrity string) (bool, error) {
	_, ok, err := c.content.HasContent(integrity)
	if err != nil {
		return false, fmt.Errorf("cafs: has content: %w", err)
	}

	return ok, nil
}

// VerifyContent re-reads the blob addressed by integrity and confirms its
// bytes still satisfy it, without consulting or mutating the index.
func (c *Cache) VerifyContent(integrity string) error {
	f, err := c.content.Read(integrity)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("cafs: verify content: %w", err)
	}

	parsed := sri.Parse(integrity, sri.ParseOptions{})

	_, err = sri.Check(data, parsed, sri.CheckOptions{})
	if err != nil {
		return fmt.Errorf("cafs: verify content: %w", err)
	}

	return nil
}

// RmEntry removes key's binding from the index without touching its
// content; the blob is reclaimed later by Verify's garbage collection if
// nothing else references it.
func (c *Cache) RmEntry(key string) error {
	_, err := c.index.RmEntry(key)
	if err != nil {
		return fmt.Errorf("cafs: remove entry %q: %w", key, err)
	}

	return nil
}

// RmContent deletes the blob addressed by integrity directly, regardless
// of whether any index entry still references it.
func (c *Cache) RmContent(integrity string) error {
	_, err := c.content.RmContent(integrity)
	if err != nil {
		return fmt.Errorf("cafs: remove content: %w", err)
	}

	return nil
}

// RmAll deletes all content and the full index. It only removes the
// content-v2 and index-v5 trees under the cache root, never the root itself,
// so the tmp workspace, the verify marker, and any sibling an embedder keeps
// alongside the cache are left untouched. Unlike RmEntry/RmContent it
// bypasses the content-addressing reclamation model entirely, for callers
// that want a hard reset.
func (c *Cache) RmAll() error {
	for _, path := range []string{
		pathlayout.ContentDir(c.dir),
		pathlayout.IndexDir(c.dir),
	} {
		err := c.fs.RemoveAll(path)
		if err != nil {
			return fmt.Errorf("cafs: remove all: %w", err)
		}
	}

	return nil
}

// Ls returns every live key -> entry binding in the cache.
func (c *Cache) Ls() (map[string]Entry, error) {
	raw, err := c.index.Ls()
	if err != nil {
		return nil, fmt.Errorf("cafs: ls: %w", err)
	}

	out := make(map[string]Entry, len(raw))
	for key, e := range raw {
		out[key] = entryFromIndex(e)
	}

	return out, nil
}

// LsStream calls yield once per live entry as its bucket is folded, rather
// than building the whole map in memory first. A yield error stops the
// walk and is returned unwrapped.
func (c *Cache) LsStream(yield func(Entry) error) error {
	return c.index.LsStream(func(e index.Entry) error {
		return yield(entryFromIndex(e))
	})
}

// Verify runs the verify/garbage-collection pipeline: fixing permissions,
// reclaiming unreferenced or corrupt content, compacting the index,
// cleaning the tmp workspace, and recording a last-verified timestamp.
func (c *Cache) Verify(opts VerifyOpts) (verify.Stats, error) {
	var filter func(index.Entry) bool
	if opts.Filter != nil {
		filter = func(e index.Entry) bool { return opts.Filter(entryFromIndex(e)) }
	}

	stats, err := verify.Run(c.dir, c.fs, verify.Options{
		Log:    opts.Log,
		Filter: filter,
		UID:    opts.UID,
		GID:    opts.GID,
	})
	if err != nil {
		return stats, fmt.Errorf("cafs: verify: %w", err)
	}

	return stats, nil
}

// VerifyLastRun reports the timestamp recorded by the most recent Verify
// call, if any.
func (c *Cache) VerifyLastRun() (time.Time, bool, error) {
	when, ok, err := verify.LastRun(c.dir)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cafs: verify last run: %w", err)
	}

	return when, ok, nil
}
