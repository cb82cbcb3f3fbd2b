package stub

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

func TestRootHonorsSocketDlxDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SOCKET_DLX_DIR", dir)
	t.Setenv("SOCKET_HOME", "")

	got, err := Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if got != dir {
		t.Fatalf("Root() = %s, want %s", got, dir)
	}
}

func TestRootRejectsSymlinkedCacheDir(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	t.Setenv("SOCKET_DLX_DIR", link)
	_, err := Root()
	if err == nil {
		t.Fatal("expected Root to reject a symlinked cache directory")
	}
	if !errors.Is(err, rerr.ErrWriteFailed) {
		t.Fatalf("Root() error = %v, want it to wrap rerr.ErrWriteFailed", err)
	}
	const wantMsg = "cache directory cannot be a symbolic link"
	if !strings.Contains(err.Error(), wantMsg) {
		t.Fatalf("Root() error = %q, want it to contain %q", err.Error(), wantMsg)
	}
}

func TestEntryDirAndNodeBinaryName(t *testing.T) {
	root := "/cache"
	key := "abcdef0123456789"
	got := EntryDir(root, key)
	want := filepath.Join(root, key)
	if got != want {
		t.Fatalf("EntryDir = %s, want %s", got, want)
	}
	if NodeBinaryName() == "" {
		t.Fatal("NodeBinaryName should never be empty")
	}
}
