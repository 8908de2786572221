//go:build unix

package scanner

import (
	"io/fs"
	"syscall"
)

// stableIDs returns the device and inode numbers, which survive renames within a volume.
func stableIDs(info fs.FileInfo) (uint64, uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), uint64(st.Ino)
}
