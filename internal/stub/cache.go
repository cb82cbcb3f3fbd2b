package stub

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

const cacheDirName = ".socket-btm-cache"

// Root resolves the extraction cache directory, spec.md §4.4 / §6:
// SOCKET_DLX_DIR, then SOCKET_HOME, then a home-directory-relative
// default. The directory is created if absent, and rejected if it (or
// any already-existing entry at that path) is a symlink — the cache is
// content-addressed and shared across invocations with no locking, so
// a symlinked cache root could be swapped out from under a concurrent
// writer between the lstat and the write (spec.md §5's TOCTOU note).
func Root() (string, error) {
	var dir string
	switch {
	case os.Getenv("SOCKET_DLX_DIR") != "":
		dir = os.Getenv("SOCKET_DLX_DIR")
	case os.Getenv("SOCKET_HOME") != "":
		dir = filepath.Join(os.Getenv("SOCKET_HOME"), "dlx")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: resolving home directory: %v", rerr.ErrInvalidArgs, err)
		}
		dir = filepath.Join(home, cacheDirName)
	}

	if err := rejectSymlink(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating cache directory %s: %v", rerr.ErrWriteFailed, dir, err)
	}
	return dir, nil
}

// rejectSymlink fails if path already exists as a symlink. A path that
// doesn't exist yet is fine — it will be created as a real directory.
func rejectSymlink(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: inspecting cache path %s: %v", rerr.ErrInvalidArgs, path, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: cache directory cannot be a symbolic link", rerr.ErrWriteFailed)
	}
	if err := rejectReparsePoint(path, fi); err != nil {
		return err
	}
	return nil
}

// EntryDir returns the per-key extraction directory for cacheKey under
// root, e.g. <root>/<cache_key>.
func EntryDir(root, cacheKey string) string {
	return filepath.Join(root, cacheKey)
}

// NodeBinaryName is the extracted inner binary's filename within its
// cache entry directory: "node" everywhere except Windows.
func NodeBinaryName() string {
	if runtime.GOOS == "windows" {
		return "node.exe"
	}
	return "node"
}
