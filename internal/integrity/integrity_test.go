package integrity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesFile(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "sub", "out.bin")

	err := WriteFileAtomic(final, 0o644, func(f *os.File) error {
		_, err := f.Write([]byte("hello"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("contents = %q, want %q", got, "hello")
	}

	if entries, _ := os.ReadDir(filepath.Dir(final)); len(entries) != 1 {
		t.Fatalf("expected the temp file to be gone, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicLeavesDestinationOnFailure(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.bin")

	if err := os.WriteFile(final, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := WriteFileAtomic(final, 0o644, func(f *os.File) error {
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("expected an error from a failing write callback")
	}

	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("destination was modified on failure: %q", got)
	}
}

func TestWriteExecutableFileSetsMode(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "node")

	if err := WriteExecutableFile(final, []byte("binary contents")); err != nil {
		t.Fatalf("WriteExecutableFile: %v", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != ExecutableMode {
		t.Fatalf("mode = %o, want %o", info.Mode().Perm(), ExecutableMode)
	}
}
