package stub

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/cachekey"
	"github.com/SocketDev/socket-btm-sub000/internal/compress"
	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/elfc"
)

// buildOriginalStub writes a minimal synthetic ELF already carrying a
// PRESSED_DATA note, so Repack has something to replace. It reuses the
// elfc driver's own Put rather than hand-building note bytes, keeping
// this fixture honest about what a real stub's note layout looks like.
func buildOriginalStub(t *testing.T) string {
	t.Helper()

	const phentsize = 56
	const ehsize = 64
	phoff := uint64(ehsize)
	tableEnd := phoff + 2*phentsize
	secondOff := tableEnd + 0x1000
	total := secondOff + 0x40

	buf := make([]byte, total)
	le := func(b []byte, v uint64, n int) {
		for i := 0; i < n; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1
	le(buf[16:18], 2, 2)
	le(buf[18:20], 0x3e, 2)
	le(buf[20:24], 1, 4)
	le(buf[24:32], 0x400000, 8)
	le(buf[32:40], phoff, 8)
	le(buf[52:54], ehsize, 2)
	le(buf[54:56], phentsize, 2)
	le(buf[56:58], 2, 2)

	writeLoad := func(idx int, off, size uint64) {
		p := buf[phoff+uint64(idx)*phentsize : phoff+uint64(idx+1)*phentsize]
		le(p[0:4], 1, 4)
		le(p[4:8], 5, 4)
		le(p[8:16], off, 8)
		le(p[16:24], 0x400000+off, 8)
		le(p[24:32], 0x400000+off, 8)
		le(p[32:40], size, 8)
		le(p[40:48], size, 8)
		le(p[48:56], 0x1000, 8)
	}
	writeLoad(0, 0, tableEnd)
	writeLoad(1, secondOff, total-secondOff)

	path := filepath.Join(t.TempDir(), "stub.elf")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := elfc.Open(path)
	if err != nil {
		t.Fatalf("elfc.Open: %v", err)
	}
	oldInner := bytes.Repeat([]byte{0x01}, 512)
	oldCompressed, err := compress.Compress(oldInner)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	oldPD := &PressedData{
		CompressedSize:   uint64(len(oldCompressed)),
		UncompressedSize: uint64(len(oldInner)),
		CacheKey:         cachekey.Derive(oldCompressed),
		Platform:         CurrentPlatformTriple(),
		Compressed:       oldCompressed,
	}
	encoded, err := Encode(oldPD)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := c.Put(container.PressedData, encoded, true); err != nil {
		t.Fatalf("seeding original PRESSED_DATA note: %v", err)
	}
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestRepackReplacesCompressedPayload(t *testing.T) {
	original := buildOriginalStub(t)

	newInner := bytes.Repeat([]byte{0x99}, 2048)
	innerPath := filepath.Join(t.TempDir(), "node")
	if err := os.WriteFile(innerPath, newInner, 0o755); err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(t.TempDir(), "stub.out.elf")
	if err := Repack(original, innerPath, output); err != nil {
		t.Fatalf("Repack: %v", err)
	}

	c, err := elfc.Open(output)
	if err != nil {
		t.Fatalf("re-opening repacked stub: %v", err)
	}
	raw, err := c.Get(container.PressedData)
	if err != nil {
		t.Fatalf("Get PRESSED_DATA: %v", err)
	}
	pd, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pd.UncompressedSize != uint64(len(newInner)) {
		t.Fatalf("UncompressedSize = %d, want %d", pd.UncompressedSize, len(newInner))
	}
	got, err := compress.Decompress(pd.Compressed, int64(pd.UncompressedSize))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, newInner) {
		t.Fatal("repacked stub does not decompress to the new inner binary")
	}
	if pd.CacheKey != cachekey.Derive(pd.Compressed) {
		t.Fatal("cache key does not match the new compressed bytes")
	}
}
