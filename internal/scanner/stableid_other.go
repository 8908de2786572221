//go:build !unix

package scanner

import "io/fs"

func stableIDs(fs.FileInfo) (uint64, uint64) {
	return 0, 0
}
