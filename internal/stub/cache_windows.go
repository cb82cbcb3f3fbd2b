//go:build windows

package stub

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// rejectReparsePoint additionally rejects Windows reparse points that
// aren't ordinary symlinks (junctions, mount points) — os.ModeSymlink
// alone doesn't cover every reparse tag, and a junction pointed at an
// attacker-controlled directory is just as much a cache-root hijack as
// a symlink.
func rejectReparsePoint(path string, fi os.FileInfo) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", rerr.ErrInvalidArgs, path, err)
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return nil // path vanished between Lstat and here; MkdirAll will surface any real problem
	}
	if attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0 {
		return fmt.Errorf("%w: cache directory cannot be a symbolic link", rerr.ErrWriteFailed)
	}
	return nil
}
