package diff

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/onesync/internal/metadata"
)

// Options controls how paths are matched between two snapshots.
type Options struct {
	// CaseInsensitive matches relative paths ignoring case, for sources on case-insensitive
	// filesystems.
	CaseInsensitive bool
}

// FileDiff classifies file items of two snapshots of the same source.
type FileDiff struct {
	// Created holds items of the new snapshot whose path is absent from the old one.
	Created []metadata.FileItem
	// Deleted holds items of the old snapshot whose path is absent from the new one.
	Deleted []metadata.FileItem
	// Modified holds new items whose path exists in both snapshots with a different hash.
	// Their path is the one already stored so the row can be found again.
	Modified []metadata.FileItem
}

// FolderDiff classifies folder items by path only.
type FolderDiff struct {
	Created []metadata.FolderItem
	Deleted []metadata.FolderItem
}

// Result is the outcome of comparing two metadata snapshots.
type Result struct {
	Files   FileDiff
	Folders FolderDiff
}

// Stats counts the items of a Result.
type Stats struct {
	FilesCreated   int
	FilesDeleted   int
	FilesModified  int
	FoldersCreated int
	FoldersDeleted int
}

// Total returns the number of changes.
func (s Stats) Total() int {
	return s.FilesCreated + s.FilesDeleted + s.FilesModified + s.FoldersCreated + s.FoldersDeleted
}

// HasChanges reports whether any file or folder needs a store mutation.
func (r *Result) HasChanges() bool {
	return r.Stats().Total() > 0
}

// Stats returns the per-set counts of the result.
func (r *Result) Stats() Stats {
	return Stats{
		FilesCreated:   len(r.Files.Created),
		FilesDeleted:   len(r.Files.Deleted),
		FilesModified:  len(r.Files.Modified),
		FoldersCreated: len(r.Folders.Created),
		FoldersDeleted: len(r.Folders.Deleted),
	}
}

// Compute compares the previous snapshot of a source with a fresh one.
// A nil snapshot is treated as empty.
func Compute(prev, curr *metadata.Metadata, opts Options) *Result {
	var oldFiles, newFiles []metadata.FileItem
	var oldFolders, newFolders []metadata.FolderItem
	if prev != nil {
		oldFiles, oldFolders = prev.Files.Items, prev.Folders.Items
	}
	if curr != nil {
		newFiles, newFolders = curr.Files.Items, curr.Folders.Items
	}
	return &Result{
		Files:   Files(oldFiles, newFiles, opts),
		Folders: Folders(oldFolders, newFolders, opts),
	}
}

// Files classifies file items into created, deleted and modified sets. Content equality is
// hash equality; the last modified time is never compared. Every set is sorted by relative
// path, so the result does not depend on input order.
func Files(prev, curr []metadata.FileItem, opts Options) FileDiff {
	oldIdx, oldKeys, shadowed := indexFiles(prev, opts)
	newIdx, newKeys, _ := indexFiles(curr, opts)

	// stored rows that collapse onto another row's key can never match again
	d := FileDiff{Deleted: shadowed}
	for key := range newKeys.Difference(oldKeys).Iter() {
		d.Created = append(d.Created, newIdx[key])
	}
	for key := range oldKeys.Difference(newKeys).Iter() {
		d.Deleted = append(d.Deleted, oldIdx[key])
	}
	for key := range oldKeys.Intersect(newKeys).Iter() {
		o, n := oldIdx[key], newIdx[key]
		if o.HashCode == n.HashCode {
			continue
		}
		n.SourceID = o.SourceID
		n.RelativePath = o.RelativePath
		d.Modified = append(d.Modified, n)
	}

	sortFiles(d.Created)
	sortFiles(d.Deleted)
	sortFiles(d.Modified)
	return d
}

// Folders classifies folder items into created and deleted sets by path.
func Folders(prev, curr []metadata.FolderItem, opts Options) FolderDiff {
	oldIdx, oldKeys, shadowed := indexFolders(prev, opts)
	newIdx, newKeys, _ := indexFolders(curr, opts)

	d := FolderDiff{Deleted: shadowed}
	for key := range newKeys.Difference(oldKeys).Iter() {
		d.Created = append(d.Created, newIdx[key])
	}
	for key := range oldKeys.Difference(newKeys).Iter() {
		d.Deleted = append(d.Deleted, oldIdx[key])
	}

	sortFolders(d.Created)
	sortFolders(d.Deleted)
	return d
}

func pathKey(path string, opts Options) string {
	if opts.CaseInsensitive {
		return strings.ToLower(path)
	}
	return path
}

// indexFiles maps path keys to items. When several items collapse onto one key the smallest
// (path, hash) wins, whatever order they arrived in. The losers whose path differs from the
// winner's are returned as shadowed.
func indexFiles(items []metadata.FileItem, opts Options) (map[string]metadata.FileItem, mapset.Set[string], []metadata.FileItem) {
	idx := make(map[string]metadata.FileItem, len(items))
	keys := mapset.NewThreadUnsafeSetWithSize[string](len(items))
	losers := make(map[string][]metadata.FileItem)
	for _, item := range items {
		key := pathKey(item.RelativePath, opts)
		cur, ok := idx[key]
		if ok && !lessFile(item, cur) {
			losers[key] = append(losers[key], item)
			continue
		}
		if ok {
			losers[key] = append(losers[key], cur)
		}
		idx[key] = item
		keys.Add(key)
	}

	var shadowed []metadata.FileItem
	seen := mapset.NewThreadUnsafeSet[string]()
	for key, group := range losers {
		for _, item := range group {
			if item.RelativePath == idx[key].RelativePath || !seen.Add(item.RelativePath) {
				continue
			}
			shadowed = append(shadowed, item)
		}
	}
	return idx, keys, shadowed
}

func indexFolders(items []metadata.FolderItem, opts Options) (map[string]metadata.FolderItem, mapset.Set[string], []metadata.FolderItem) {
	idx := make(map[string]metadata.FolderItem, len(items))
	keys := mapset.NewThreadUnsafeSetWithSize[string](len(items))
	var shadowed []metadata.FolderItem
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, item := range items {
		key := pathKey(item.RelativePath, opts)
		if cur, ok := idx[key]; ok && cur.RelativePath <= item.RelativePath {
			if cur.RelativePath != item.RelativePath && seen.Add(item.RelativePath) {
				shadowed = append(shadowed, item)
			}
			continue
		} else if ok && seen.Add(cur.RelativePath) {
			shadowed = append(shadowed, cur)
		}
		idx[key] = item
		keys.Add(key)
	}
	return idx, keys, shadowed
}

func lessFile(a, b metadata.FileItem) bool {
	if a.RelativePath != b.RelativePath {
		return a.RelativePath < b.RelativePath
	}
	return a.HashCode < b.HashCode
}

func sortFiles(items []metadata.FileItem) {
	sort.Slice(items, func(i, j int) bool { return lessFile(items[i], items[j]) })
}

func sortFolders(items []metadata.FolderItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].RelativePath < items[j].RelativePath })
}
