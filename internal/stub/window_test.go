package stub

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/cachekey"
)

func buildStubFile(t *testing.T, magic [4]byte, prefixLen int, pd *PressedData) string {
	t.Helper()
	encoded, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf := make([]byte, prefixLen)
	copy(buf, magic[:])
	buf = append(buf, encoded...)

	path := filepath.Join(t.TempDir(), "stub.bin")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectFindsMarkerInELFStub(t *testing.T) {
	compressed := bytes.Repeat([]byte{0x01}, 1024)
	pd := &PressedData{
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: 8192,
		CacheKey:         cachekey.Derive(compressed),
		Platform:         PlatformTriple{OS: OSLinux, Arch: ArchX64, Libc: LibcGlibc},
		Compressed:       compressed,
	}
	path := buildStubFile(t, [4]byte{0x7F, 'E', 'L', 'F'}, 4096, pd)

	got, err := Detect(path)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.CacheKey != pd.CacheKey {
		t.Fatalf("CacheKey = %s, want %s", got.CacheKey, pd.CacheKey)
	}
	if !bytes.Equal(got.Compressed, compressed) {
		t.Fatal("compressed payload mismatch after window detection + seek")
	}
}

func TestDetectFailsOnPlainBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x00}, 8192), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Detect(path); err == nil {
		t.Fatal("expected an error detecting a stub marker in a plain file")
	}
}

func TestIsStub(t *testing.T) {
	compressed := bytes.Repeat([]byte{0x02}, 64)
	pd := &PressedData{
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: 256,
		CacheKey:         cachekey.Derive(compressed),
		Platform:         PlatformTriple{OS: OSDarwin, Arch: ArchArm64, Libc: LibcNone},
		Compressed:       compressed,
	}
	path := buildStubFile(t, [4]byte{0xFE, 0xED, 0xFA, 0xCF}, 512, pd)
	if !IsStub(path) {
		t.Fatal("expected IsStub to report true for a valid stub")
	}

	other := filepath.Join(t.TempDir(), "notstub.bin")
	os.WriteFile(other, []byte("not a stub at all"), 0o644)
	if IsStub(other) {
		t.Fatal("expected IsStub to report false for a non-stub file")
	}
}
