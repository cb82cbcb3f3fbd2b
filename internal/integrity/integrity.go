// Package integrity implements the rewriter's atomic-write discipline
// (spec.md §4.5): every writer composes a sibling temp file, fsyncs it,
// sets the destination's permission bits, and atomically replaces the
// final path. This generalizes the teacher's own "build the full buffer,
// then write it out" pattern in export.go into a single reusable helper
// shared by every container driver and the Stub Manager's repack step.
package integrity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// ExecutableMode is the permission mode applied to destination files
// intended to run, per spec.md §4.5.
const ExecutableMode = 0o755

// WriteFileAtomic composes a temp path beside final, invokes write against
// it, fsyncs, verifies the result is non-empty, sets mode, and atomically
// replaces final. On any failure the destination is left untouched.
func WriteFileAtomic(final string, mode os.FileMode, write func(*os.File) error) error {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating parent directory: %v", rerr.ErrWriteFailed, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", final, os.Getpid())

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", rerr.ErrWriteFailed, err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: writing temp file: %v", rerr.ErrWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: fsync: %v", rerr.ErrWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing temp file: %v", rerr.ErrWriteFailed, err)
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		os.Remove(tmp)
		return fmt.Errorf("%w: temp file missing or empty after write", rerr.ErrWriteFailed)
	}

	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: setting permissions: %v", rerr.ErrWriteFailed, err)
	}

	if err := atomicRename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming into place: %v", rerr.ErrWriteFailed, err)
	}
	return nil
}

// WriteExecutableFile is a convenience wrapper writing the full contents
// of data atomically with ExecutableMode, the common case for repacked
// or extracted binaries.
func WriteExecutableFile(final string, data []byte) error {
	return WriteFileAtomic(final, ExecutableMode, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}
