package stub

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/cachekey"
	"github.com/SocketDev/socket-btm-sub000/internal/compress"
)

func TestExtractWritesInnerBinaryAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SOCKET_DLX_DIR", dir)

	inner := bytes.Repeat([]byte{0x42}, 4096)
	compressed, err := compress.Compress(inner)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	pd := &PressedData{
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: uint64(len(inner)),
		CacheKey:         cachekey.Derive(compressed),
		Platform:         CurrentPlatformTriple(),
		Compressed:       compressed,
	}

	target, err := Extract(pd)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading extracted binary: %v", err)
	}
	if !bytes.Equal(got, inner) {
		t.Fatal("extracted binary content mismatch")
	}
	if filepath.Base(target) != NodeBinaryName() {
		t.Fatalf("extracted binary name = %s, want %s", filepath.Base(target), NodeBinaryName())
	}

	// Idempotent: re-extracting the same key must not fail or alter content.
	again, err := Extract(pd)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if again != target {
		t.Fatalf("second Extract path = %s, want %s", again, target)
	}
	got2, err := os.ReadFile(again)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, inner) {
		t.Fatal("extracted binary content changed after idempotent re-extract")
	}
}
