//go:build !windows

package stub

import "os"

// rejectReparsePoint is a no-op on non-Windows hosts: os.ModeSymlink
// already covers the reparse-point-equivalent case (a symlink) that
// rejectSymlink checks for them.
func rejectReparsePoint(path string, fi os.FileInfo) error {
	return nil
}
