//go:build !linux

package grove

import "os"

// fdatasync falls back to a full fsync on platforms without a cheaper
// data-only flush.
func fdatasync(f *os.File) error {
	return f.Sync()
}
