package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/pkg/fs"
)

// Rebuild compacts every bucket file under the index tree down to exactly
// one line per live key, in key order, dropping tombstones and corrupted
// lines entirely.
func (s *Store) Rebuild() error {
	return s.walkBuckets(func(bucketPath string) error {
		return s.rebuildBucket(bucketPath)
	})
}

// RebuildFrom rewrites the bucket for every key in touched, replacing its
// contents with only the entries keep assigns to it (in key order) and
// deleting the bucket file entirely if none of its touched keys survive.
// Touched keys absent from keep (tombstones, keys the caller rejected) are
// dropped from history. Buckets with no touched key are left as-is.
//
// This is the verify pipeline's rebuild_index phase: the caller has already
// decided, per spec §4.5, which of the keys it read off Ls() survive (e.g.
// by checking their content still exists on disk); touched must be every
// key Ls() returned, not just the survivors, or a bucket whose sole entry
// was rejected would never get rewritten and the stale entry would linger.
func (s *Store) RebuildFrom(touched []string, keep map[string]Entry) error {
	buckets := make(map[string][]Entry)

	for _, key := range touched {
		bucketPath, err := pathlayout.BucketPath(s.dir, key)
		if err != nil {
			continue
		}

		if _, ok := buckets[bucketPath]; !ok {
			buckets[bucketPath] = nil
		}

		if entry, ok := keep[key]; ok {
			buckets[bucketPath] = append(buckets[bucketPath], entry)
		}
	}

	for bucketPath, entries := range buckets {
		if len(entries) == 0 {
			err := s.fs.Remove(bucketPath)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("index: remove empty bucket %q: %w", bucketPath, err)
			}

			continue
		}

		err := writeBucket(s.fs, bucketPath, entries)
		if err != nil {
			return err
		}
	}

	return nil
}

func writeBucket(fsys fs.FS, bucketPath string, entries []Entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	var out []byte

	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("index: rebuild bucket %q: %w", bucketPath, err)
		}

		out = append(out, pathlayout.HashEntry(string(payload))+"\t"+string(payload)+"\n"...)
	}

	err := fsys.WriteFile(bucketPath, out, 0o644)
	if err != nil {
		return fmt.Errorf("index: rewrite bucket %q: %w", bucketPath, err)
	}

	return nil
}

func (s *Store) rebuildBucket(bucketPath string) error {
	entries, err := s.BucketEntriesAtPath(bucketPath)
	if err != nil {
		return err
	}

	latest := make(map[string]Entry)

	for _, e := range entries {
		latest[e.Key] = e
	}

	live := make([]Entry, 0, len(latest))

	for _, e := range latest {
		if e.IsTombstone() {
			continue
		}

		live = append(live, e)
	}

	if len(live) == 0 {
		err := s.fs.Remove(bucketPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index: remove empty bucket %q: %w", bucketPath, err)
		}

		return nil
	}

	return writeBucket(s.fs, bucketPath, live)
}
