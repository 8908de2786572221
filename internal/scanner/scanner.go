// Package scanner walks a source folder and produces the metadata snapshot the diff engine
// compares against the stored one.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/openmined/onesync/internal/metadata"
	"github.com/openmined/onesync/internal/utils"
)

// ErrNotADirectory is returned by Scan when the source root is missing or is a file.
var ErrNotADirectory = errors.New("source is not a directory")

// Stats summarizes the last scan.
type Stats struct {
	Files    int
	Folders  int
	Bytes    int64
	Hashed   int
	Reused   int
	Skipped  int
	// Kept counts previous items carried over because the scan did not look at them.
	Kept     int
	Duration time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%d files, %d folders, %s (hashed %d, reused %d, skipped %d, kept %d) in %s",
		s.Files, s.Folders, humanize.Bytes(uint64(s.Bytes)), s.Hashed, s.Reused, s.Skipped, s.Kept,
		s.Duration.Round(time.Millisecond))
}

// unknownSize marks cache entries seeded from stored metadata, which does not keep sizes.
const unknownSize = -1

type cacheEntry struct {
	size    int64
	modTime time.Time
	hash    string
}

// Scanner produces snapshots of one source folder. Hashes of files whose size and
// modification time did not change since the previous snapshot are reused.
//
// Items of the previous snapshot that a Scan did not look at, because they fall outside the
// include patterns or could not be read, are carried into the new snapshot unchanged so
// their absence is never taken for a deletion.
type Scanner struct {
	root     string
	sourceID string
	ignore   *IgnoreList
	include  []string
	cache    map[string]cacheEntry
	prev     *metadata.Metadata
	stats    Stats
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithInclude restricts files to those matching at least one doublestar pattern.
// Folders are always recorded.
func WithInclude(patterns ...string) Option {
	return func(s *Scanner) {
		s.include = append(s.include, patterns...)
	}
}

// WithIgnore adds gitignore rules applied regardless of the ignore file.
func WithIgnore(lines ...string) Option {
	return func(s *Scanner) {
		s.ignore.extra = append(s.ignore.extra, lines...)
	}
}

// WithPrevious seeds the scanner with the snapshot last recorded for the source, typically
// loaded from the intermediary store. Its hashes are reused for files whose modification
// time still matches.
func WithPrevious(prev *metadata.Metadata) Option {
	return func(s *Scanner) {
		if prev == nil {
			return
		}
		s.prev = prev
		for _, item := range prev.Files.Items {
			s.cache[item.RelativePath] = cacheEntry{size: unknownSize, modTime: item.LastModified, hash: item.HashCode}
		}
	}
}

// New returns a Scanner for the folder root whose items carry sourceID.
func New(root, sourceID string, opts ...Option) (*Scanner, error) {
	s := &Scanner{
		root:     root,
		sourceID: sourceID,
		ignore:   NewIgnoreList(root),
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, pattern := range s.include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	return s, nil
}

// Stats returns the counters of the last successful Scan.
func (s *Scanner) Stats() Stats {
	return s.stats
}

// Scan walks the source folder and returns its current snapshot. Files that vanish or cannot
// be read mid-walk are skipped with a warning and keep their previous item, if any. A missing
// root fails the scan.
func (s *Scanner) Scan(ctx context.Context) (*metadata.Metadata, error) {
	start := time.Now()
	if !utils.DirExists(s.root) {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, s.root)
	}
	s.ignore.Load()

	snapshot := metadata.New(s.sourceID)
	cache := make(map[string]cacheEntry, len(s.cache))
	stats := Stats{}
	var skipped []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == s.root {
				return walkErr
			}
			slog.Warn("scan walk", "path", path, "error", walkErr)
			stats.Skipped++
			if rel, err := filepath.Rel(s.root, path); err == nil {
				skipped = append(skipped, filepath.ToSlash(rel))
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == s.root {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("scan rel path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if s.ignore.ShouldIgnore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			snapshot.AddFolder(metadata.FolderItem{RelativePath: rel})
			stats.Folders++
			return nil
		}
		if !d.Type().IsRegular() || !s.included(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan file info", "path", path, "error", err)
			stats.Skipped++
			skipped = append(skipped, rel)
			return nil
		}

		hash, reused, err := s.hash(path, rel, info)
		if err != nil {
			slog.Warn("scan hash", "path", path, "error", err)
			stats.Skipped++
			skipped = append(skipped, rel)
			return nil
		}
		if reused {
			stats.Reused++
		} else {
			stats.Hashed++
		}
		cache[rel] = cacheEntry{size: info.Size(), modTime: info.ModTime(), hash: hash}

		id1, id2 := stableIDs(info)
		snapshot.AddFile(metadata.FileItem{
			RelativePath: rel,
			HashCode:     hash,
			LastModified: info.ModTime().UTC(),
			StableID1:    id1,
			StableID2:    id2,
		})
		stats.Files++
		stats.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	stats.Kept = s.carryForward(snapshot, skipped)
	for _, item := range snapshot.Files.Items {
		if _, ok := cache[item.RelativePath]; !ok {
			cache[item.RelativePath] = cacheEntry{size: unknownSize, modTime: item.LastModified, hash: item.HashCode}
		}
	}

	s.cache = cache
	s.prev = snapshot
	stats.Duration = time.Since(start)
	s.stats = stats
	slog.Debug("scan", "root", s.root, "stats", stats.String())
	return snapshot, nil
}

// carryForward copies the previous items the walk did not look at into snapshot and returns
// how many it copied.
func (s *Scanner) carryForward(snapshot *metadata.Metadata, skipped []string) int {
	if s.prev == nil {
		return 0
	}

	kept := 0
	files := make(map[string]struct{}, len(snapshot.Files.Items))
	for _, item := range snapshot.Files.Items {
		files[item.RelativePath] = struct{}{}
	}
	for _, item := range s.prev.Files.Items {
		if _, ok := files[item.RelativePath]; ok || s.covered(item.RelativePath, false, skipped) {
			continue
		}
		snapshot.AddFile(item)
		kept++
	}

	folders := make(map[string]struct{}, len(snapshot.Folders.Items))
	for _, item := range snapshot.Folders.Items {
		folders[item.RelativePath] = struct{}{}
	}
	for _, item := range s.prev.Folders.Items {
		if _, ok := folders[item.RelativePath]; ok || s.covered(item.RelativePath, true, skipped) {
			continue
		}
		snapshot.AddFolder(item)
		kept++
	}
	return kept
}

// covered reports whether the walk looked at rel, so that its absence means it is gone.
func (s *Scanner) covered(rel string, isDir bool, skipped []string) bool {
	for _, p := range skipped {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return false
		}
	}
	return isDir || s.included(rel)
}

func (s *Scanner) hash(path, rel string, info fs.FileInfo) (string, bool, error) {
	if prev, ok := s.cache[rel]; ok && (prev.size == unknownSize || prev.size == info.Size()) && prev.modTime.Equal(info.ModTime()) {
		return prev.hash, true, nil
	}
	hash, err := utils.FileHash(path)
	if err != nil {
		return "", false, err
	}
	return hash, false, nil
}

func (s *Scanner) included(rel string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
