package storelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/onesync/internal/utils"
)

const (
	lockSuffix = ".lock"
	retryDelay = 25 * time.Millisecond
)

// ErrStoreLocked is returned when another writer holds the lock.
var ErrStoreLocked = errors.New("store locked by another writer")

// Release unlocks what Acquire locked.
type Release func()

// LockPath returns the lock file guarding the store file at dbPath.
func LockPath(dbPath string) string {
	return dbPath + lockSuffix
}

// TryAcquire locks the store at dbPath without waiting.
func TryAcquire(dbPath string) (Release, error) {
	lockPath := LockPath(dbPath)
	if err := utils.EnsureParent(lockPath); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", lockPath, err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock store %s: %w", dbPath, err)
	}
	if !locked {
		return nil, ErrStoreLocked
	}
	return func() { unlock(fl) }, nil
}

// Acquire serializes writers on the stores at dbPaths, across goroutines and processes.
// Locks are taken in sorted path order so two writers touching the same pair of stores
// cannot deadlock. It blocks until every lock is held or ctx is done.
func Acquire(ctx context.Context, dbPaths ...string) (Release, error) {
	paths := normalize(dbPaths)
	held := make([]*flock.Flock, 0, len(paths))

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			unlock(held[i])
		}
	}

	for _, p := range paths {
		lockPath := LockPath(p)
		if err := utils.EnsureParent(lockPath); err != nil {
			releaseAll()
			return nil, fmt.Errorf("failed to create directory for %s: %w", lockPath, err)
		}

		fl := flock.New(lockPath)
		locked, err := fl.TryLockContext(ctx, retryDelay)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("failed to lock store %s: %w", p, err)
		}
		if !locked {
			releaseAll()
			return nil, ErrStoreLocked
		}
		held = append(held, fl)
	}

	return releaseAll, nil
}

func normalize(dbPaths []string) []string {
	seen := make(map[string]struct{}, len(dbPaths))
	out := make([]string, 0, len(dbPaths))
	for _, p := range dbPaths {
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	sort.Strings(out)
	return out
}

func unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		slog.Warn("store unlock", "path", fl.Path(), "error", err)
	}
}
