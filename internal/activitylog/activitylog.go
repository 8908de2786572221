// Package activitylog keeps per-source statistics of sync runs as JSON lines, one file per
// source folder, located through a small JSON index.
package activitylog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/onesync/internal/storelock"
	"github.com/openmined/onesync/internal/utils"
)

const (
	indexFileName = "index.json"
	indexVersion  = 1
)

// Direction tells whether a run pushed local changes out or pulled a peer's changes in.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Activity is one file touched during a run.
type Activity struct {
	File   string `json:"file"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// Entry is one sync run of a job.
type Entry struct {
	JobName          string     `json:"job_name"`
	SourcePath       string     `json:"source_path"`
	IntermediaryPath string     `json:"intermediary_path"`
	Direction        Direction  `json:"direction"`
	Processed        int        `json:"processed"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	Activities       []Activity `json:"activities,omitempty"`
}

// Index maps source folder paths to the id of their log file.
type Index struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// Log stores entries below dir.
type Log struct {
	dir string
	mu  sync.Mutex
}

// New returns a Log kept in dir. Nothing is created until the first Record.
func New(dir string) *Log {
	return &Log{dir: dir}
}

// Dir returns the folder holding the index and the log files.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) indexPath() string {
	return filepath.Join(l.dir, indexFileName)
}

func (l *Log) logPath(id string) string {
	return filepath.Join(l.dir, id+".jsonl")
}

// Record appends e to the log file of e.SourcePath, registering the source in the index on
// first use. Concurrent writers, in this process or another, are serialized.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.SourcePath == "" {
		return errors.New("activity entry without source path")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode activity entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := utils.EnsureDir(l.dir); err != nil {
		return fmt.Errorf("create activity log dir: %w", err)
	}
	release, err := storelock.Acquire(ctx, l.indexPath())
	if err != nil {
		return err
	}
	defer release()

	index, err := l.readIndex()
	if err != nil {
		return err
	}
	id, ok := index.Entries[e.SourcePath]
	if !ok {
		id = uuid.NewString()
		index.Entries[e.SourcePath] = id
		if err := l.writeIndex(index); err != nil {
			return err
		}
		slog.Debug("activity log registered", "source", e.SourcePath, "id", id)
	}

	file, err := os.OpenFile(l.logPath(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append activity entry: %w", err)
	}
	return nil
}

// Entries returns the recorded runs of sourcePath, oldest first. A source without a log has
// no entries. Lines that cannot be decoded are skipped.
func (l *Log) Entries(sourcePath string) ([]Entry, error) {
	l.mu.Lock()
	index, err := l.readIndex()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id, ok := index.Entries[sourcePath]
	if !ok {
		return []Entry{}, nil
	}

	file, err := os.Open(l.logPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			slog.Warn("activity log decode", "source", sourcePath, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read activity log: %w", err)
	}
	return entries, nil
}

// Sources returns the index of logged source folders.
func (l *Log) Sources() (*Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readIndex()
}

func (l *Log) readIndex() (*Index, error) {
	index := &Index{Version: indexVersion, Entries: map[string]string{}}

	data, err := os.ReadFile(l.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return index, nil
	} else if err != nil {
		return nil, fmt.Errorf("read activity index: %w", err)
	}

	if err := json.Unmarshal(data, index); err != nil {
		return nil, fmt.Errorf("decode activity index: %w", err)
	}
	if index.Entries == nil {
		index.Entries = map[string]string{}
	}
	return index, nil
}

func (l *Log) writeIndex(index *Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode activity index: %w", err)
	}
	tmp := l.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write activity index: %w", err)
	}
	return os.Rename(tmp, l.indexPath())
}
