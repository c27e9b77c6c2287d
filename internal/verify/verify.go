// Package verify implements cafs's verify/garbage-collection pipeline: a
// fixed sequence of phases that reconcile the content store against the
// index, reclaim unreferenced or corrupt blobs, compact the index, and
// record a last-verified timestamp.
package verify

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"

	"github.com/contentaddr/cafs/internal/index"
	"github.com/contentaddr/cafs/internal/pathlayout"
	"github.com/contentaddr/cafs/pkg/fs"
	"github.com/contentaddr/cafs/sri"
)

// Stats summarizes one verification run. Timestamps are unix seconds,
// matching the on-disk verifile format.
type Stats struct {
	TotalEntries    int
	VerifiedContent int
	ReclaimedCount  int
	ReclaimedSize   int64
	BadContentCount int
	KeptSize        int64
	MissingContent  int
	RejectedEntries int
	StartTime       int64
	EndTime         int64
	Runtime         map[string]time.Duration
}

// Options configures Run.
type Options struct {
	// Log, if set, receives human-readable progress lines: at the start,
	// after the fix_permissions, garbage_collect and rebuild_index phases,
	// and at the end.
	Log func(string)
	// Filter, if set, excludes index entries it returns false for from
	// the rebuilt index; excluded entries count toward RejectedEntries.
	Filter func(index.Entry) bool
	// UID and GID, if both set, are applied to fixed-up content paths.
	UID, GID *int
}

// Run executes the verification pipeline against the cache rooted at dir,
// in the fixed order: mark start time, fix permissions, garbage collect,
// rebuild the index, clean the tmp workspace, write the verify marker,
// mark end time.
func Run(dir string, fsys fs.FS, opts Options) (Stats, error) {
	stats := Stats{Runtime: make(map[string]time.Duration)}

	idx := index.New(dir, fsys)

	stats.StartTime = time.Now().Unix()
	logf(opts, "verify: starting run at %s", time.Unix(stats.StartTime, 0).UTC().Format(time.RFC3339))

	var live map[string]index.Entry

	err := timePhase(&stats, "fix_permissions", func() error {
		var lsErr error

		live, lsErr = idx.Ls()
		if lsErr != nil {
			return lsErr
		}

		return fixPermissions(dir, fsys, opts)
	})
	if err != nil {
		return stats, fmt.Errorf("verify: fix permissions: %w", err)
	}

	logf(opts, "verify: %s live index entries", humanize.Comma(int64(len(live))))

	err = timePhase(&stats, "garbage_collect", func() error {
		return garbageCollect(dir, fsys, live, opts, &stats)
	})
	if err != nil {
		return stats, fmt.Errorf("verify: garbage collect: %w", err)
	}

	logf(opts, "verify: kept %s content (%s), reclaimed %s (%s), %d bad",
		humanize.Comma(int64(stats.VerifiedContent)), humanize.Bytes(uint64(stats.KeptSize)),
		humanize.Comma(int64(stats.ReclaimedCount)), humanize.Bytes(uint64(stats.ReclaimedSize)),
		stats.BadContentCount)

	err = timePhase(&stats, "rebuild_index", func() error {
		return rebuildIndex(dir, fsys, idx, live, &stats, opts)
	})
	if err != nil {
		return stats, fmt.Errorf("verify: rebuild index: %w", err)
	}

	logf(opts, "verify: %s entries survived rebuild, %d rejected, %d missing content",
		humanize.Comma(int64(stats.TotalEntries)), stats.RejectedEntries, stats.MissingContent)

	err = timePhase(&stats, "clean_tmp", func() error {
		return fsys.RemoveAll(pathlayout.TmpDir(dir))
	})
	if err != nil {
		return stats, fmt.Errorf("verify: clean tmp: %w", err)
	}

	err = timePhase(&stats, "write_verifile", func() error {
		return writeVerifile(dir, stats.StartTime)
	})
	if err != nil {
		return stats, fmt.Errorf("verify: write verifile: %w", err)
	}

	stats.EndTime = time.Now().Unix()
	stats.Runtime["total"] = time.Duration(stats.EndTime-stats.StartTime) * time.Second
	logf(opts, "verify: finished in %s", stats.Runtime["total"])

	return stats, nil
}

func timePhase(stats *Stats, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	stats.Runtime[name] = time.Since(start)

	return err
}

func logf(opts Options, format string, args ...any) {
	if opts.Log == nil {
		return
	}

	opts.Log(fmt.Sprintf(format, args...))
}

// fixPermissions walks the content tree restoring the read-only mode every
// published blob is written with; a blob found group/world-writable has
// likely been tampered with outside cafs and is left for garbageCollect to
// re-verify.
func fixPermissions(dir string, fsys fs.FS, opts Options) error {
	return walkContent(fsys, dir, func(path string, info os.FileInfo) error {
		if info.Mode().Perm() == 0o444 {
			return nil
		}

		err := fsys.Chmod(path, 0o444)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("chmod %q: %w", path, err)
		}

		if opts.UID != nil && opts.GID != nil {
			_ = os.Chown(path, *opts.UID, *opts.GID)
		}

		return nil
	})
}

// garbageCollect walks the content tree, deleting anything not referenced
// by a live, filter-surviving index entry and anything whose bytes no
// longer match the digest encoded in its own path. An entry opts.Filter
// rejects is treated as already gone for GC purposes, per spec §4.5 ("live
// = {integrity | entry in ls, filter(entry) if filter}").
func garbageCollect(dir string, fsys fs.FS, live map[string]index.Entry, opts Options, stats *Stats) error {
	referenced := make(map[string]bool, len(live))

	for _, entry := range live {
		if opts.Filter != nil && !opts.Filter(entry) {
			continue
		}

		path, err := pathlayout.ContentPath(dir, entry.Integrity)
		if err != nil {
			continue
		}

		referenced[path] = true
	}

	return walkContent(fsys, dir, func(path string, info os.FileInfo) error {
		algo, hexDigest, ok := algorithmAndDigestFromPath(dir, path)
		if !ok {
			return nil
		}

		integrity, err := sri.FromHex(hexDigest, algo, nil)
		if err != nil {
			return nil //nolint:nilerr // unparsable path segment, not a GC failure
		}

		_, checkErr := sri.CheckFile(path, integrity, sri.CheckOptions{})
		if checkErr != nil {
			stats.BadContentCount++

			return removeContent(fsys, path, info.Size(), stats)
		}

		if !referenced[path] {
			return removeContent(fsys, path, info.Size(), stats)
		}

		stats.VerifiedContent++
		stats.KeptSize += info.Size()

		return nil
	})
}

func removeContent(fsys fs.FS, path string, size int64, stats *Stats) error {
	err := fsys.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", path, err)
	}

	stats.ReclaimedCount++
	stats.ReclaimedSize += size

	return nil
}

// rebuildIndex decides, per live entry, whether it survives into the
// compacted index: it is rejected (and counted as MissingContent,
// RejectedEntries) if its content no longer exists — which garbageCollect
// may itself have just caused by deleting a corrupt blob — or if
// opts.Filter rejects it. Surviving entries get their Size refreshed from
// the content file's actual size before the index is rewritten.
func rebuildIndex(dir string, fsys fs.FS, idx *index.Store, live map[string]index.Entry, stats *Stats, opts Options) error {
	touched := make([]string, 0, len(live))
	keep := make(map[string]index.Entry, len(live))

	for key, entry := range live {
		touched = append(touched, key)

		if opts.Filter != nil && !opts.Filter(entry) {
			stats.RejectedEntries++

			continue
		}

		path, err := pathlayout.ContentPath(dir, entry.Integrity)
		if err != nil {
			stats.RejectedEntries++

			continue
		}

		info, statErr := fsys.Stat(path)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				return fmt.Errorf("stat %q: %w", path, statErr)
			}

			stats.MissingContent++
			stats.RejectedEntries++

			continue
		}

		entry.Size = info.Size()
		keep[key] = entry
		stats.TotalEntries++
	}

	return idx.RebuildFrom(touched, keep)
}

// algorithmAndDigestFromPath recovers (algorithm, hexDigest) from a content
// file's path, inverting pathlayout's content-v2/<algo>/<h0>/<h1>/<rest>
// sharding.
func algorithmAndDigestFromPath(cacheDir, path string) (algorithm, hexDigest string, ok bool) {
	rel, err := filepath.Rel(pathlayout.ContentDir(cacheDir), path)
	if err != nil {
		return "", "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return "", "", false
	}

	return parts[0], parts[1] + parts[2] + parts[3], true
}

// walkContent calls fn for every regular file under dir's content tree.
func walkContent(fsys fs.FS, dir string, fn func(path string, info os.FileInfo) error) error {
	root := pathlayout.ContentDir(dir)

	return walkTreeLevels(fsys, root, 4, fn)
}

func walkTreeLevels(fsys fs.FS, dir string, depth int, fn func(path string, info os.FileInfo) error) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("list %q: %w", dir, err)
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		if e.IsDir() {
			if depth <= 1 {
				continue
			}

			err := walkTreeLevels(fsys, path, depth-1, fn)
			if err != nil {
				return err
			}

			continue
		}

		if depth != 1 {
			continue
		}

		info, err := fsys.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("stat %q: %w", path, err)
		}

		err = fn(path, info)
		if err != nil {
			return err
		}
	}

	return nil
}

func writeVerifile(dir string, whenSeconds int64) error {
	path := pathlayout.VerifilePath(dir)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader([]byte(strconv.FormatInt(whenSeconds, 10))))
}

// LastRun reports the timestamp recorded by the most recent Run, if any.
func LastRun(dir string) (time.Time, bool, error) {
	data, err := os.ReadFile(pathlayout.VerifilePath(dir)) //nolint:gosec // path is derived from a trusted cache root
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("verify: read verifile: %w", err)
	}

	seconds, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("verify: parse verifile: %w", err)
	}

	return time.Unix(seconds, 0).UTC(), true, nil
}
