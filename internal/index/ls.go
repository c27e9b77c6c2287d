package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/contentaddr/cafs/internal/pathlayout"
)

// Ls walks every bucket file under the index tree and folds each bucket's
// lines down to the last entry per key, dropping keys whose last entry is a
// tombstone, and returns the full key -> entry map. Bucket collisions (two keys sharing a bucket) and
// per-key history (many lines, one key) are both handled by the same
// last-line-wins fold that Find applies to a single bucket.
func (s *Store) Ls() (map[string]Entry, error) {
	result := make(map[string]Entry)

	err := s.walkBuckets(func(bucketPath string) error {
		entries, err := s.BucketEntriesAtPath(bucketPath)
		if err != nil {
			return err
		}

		foldBucket(result, entries)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LsStream walks the index tree like Ls but calls yield once per live key
// as soon as its bucket has been folded, instead of building the whole map
// in memory. yield returning an error stops the walk and is returned
// unwrapped.
func (s *Store) LsStream(yield func(Entry) error) error {
	return s.walkBuckets(func(bucketPath string) error {
		entries, err := s.BucketEntriesAtPath(bucketPath)
		if err != nil {
			return err
		}

		bucket := make(map[string]Entry)
		foldBucket(bucket, entries)

		for _, entry := range bucket {
			err := yield(entry)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// foldBucket applies insertion-order, last-write-wins semantics to entries
// (which may cover multiple keys, via a bucket collision) and merges the
// live survivors into result, removing any that end up tombstoned.
func foldBucket(result map[string]Entry, entries []Entry) {
	latest := make(map[string]Entry)

	for _, e := range entries {
		latest[e.Key] = e
	}

	for key, e := range latest {
		if e.IsTombstone() {
			delete(result, key)

			continue
		}

		result[key] = e
	}
}

// walkBuckets calls fn once per bucket file found under the index tree's
// fixed 3-level shard layout.
func (s *Store) walkBuckets(fn func(bucketPath string) error) error {
	root := pathlayout.IndexDir(s.dir)

	level0, err := s.fs.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("index: list %q: %w", root, err)
	}

	for _, d0 := range level0 {
		if !d0.IsDir() {
			continue
		}

		dir1 := filepath.Join(root, d0.Name())

		level1, err := s.fs.ReadDir(dir1)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("index: list %q: %w", dir1, err)
		}

		for _, d1 := range level1 {
			if !d1.IsDir() {
				continue
			}

			dir2 := filepath.Join(dir1, d1.Name())

			level2, err := s.fs.ReadDir(dir2)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}

				return fmt.Errorf("index: list %q: %w", dir2, err)
			}

			for _, f := range level2 {
				if f.IsDir() {
					continue
				}

				err := fn(filepath.Join(dir2, f.Name()))
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}
