package metadata

import (
	"time"
)

// Selector chooses which source's rows a load returns.
type Selector int

const (
	// SourceEquals selects the rows of the given source.
	SourceEquals Selector = iota
	// SourceNotEquals selects the rows of every source except the given one, i.e. the peer's view.
	SourceNotEquals
)

func (s Selector) String() string {
	switch s {
	case SourceEquals:
		return "equals"
	case SourceNotEquals:
		return "not_equals"
	default:
		return "unknown"
	}
}

// FileItem is what a source last knew about one file.
type FileItem struct {
	SourceID     string
	RelativePath string
	HashCode     string
	LastModified time.Time
	// StableID1 and StableID2 identify the file on its volume across renames.
	StableID1 uint64
	StableID2 uint64
}

// FolderItem is a directory known to a source.
type FolderItem struct {
	SourceID     string
	RelativePath string
}

// Files is an ordered collection of file items scoped to one source (or its complement).
type Files struct {
	SourceID string
	Selector Selector
	Items    []FileItem
}

// Folders is an ordered collection of folder items scoped like Files.
type Folders struct {
	SourceID string
	Selector Selector
	Items    []FolderItem
}

// Metadata pairs the file and folder view of one source. It is the unit the diff engine consumes.
type Metadata struct {
	Files   Files
	Folders Folders
}

// New returns an empty snapshot for sourceID.
func New(sourceID string) *Metadata {
	return &Metadata{
		Files:   Files{SourceID: sourceID, Selector: SourceEquals},
		Folders: Folders{SourceID: sourceID, Selector: SourceEquals},
	}
}

// SourceID returns the source the snapshot is scoped to.
func (m *Metadata) SourceID() string {
	return m.Files.SourceID
}

// AddFile appends a file item, stamping it with the snapshot's source id when unset.
func (m *Metadata) AddFile(item FileItem) {
	if item.SourceID == "" {
		item.SourceID = m.Files.SourceID
	}
	m.Files.Items = append(m.Files.Items, item)
}

// AddFolder appends a folder item, stamping it with the snapshot's source id when unset.
func (m *Metadata) AddFolder(item FolderItem) {
	if item.SourceID == "" {
		item.SourceID = m.Folders.SourceID
	}
	m.Folders.Items = append(m.Folders.Items, item)
}

// IsEmpty reports whether the snapshot holds no files and no folders.
func (m *Metadata) IsEmpty() bool {
	return len(m.Files.Items) == 0 && len(m.Folders.Items) == 0
}
