//go:build linux

package grove

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file data without forcing a metadata update, which is
// all the WAL and page file need between size changes.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
