package elfc

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho"
	"github.com/google/go-cmp/cmp"
)

// buildSyntheticELF writes a minimal well-formed 64-bit little-endian ELF
// executable: an ELF header and a program header table holding two
// PT_LOAD entries, with no PT_NOTE segment to start with, so tests exercise
// both the append-new-segment and the in-place-overwrite Put paths.
// tight, when true, places a second PT_LOAD's file content immediately
// adjacent to the program header table, leaving zero room to grow it in
// place; when false the table is followed by ample padding.
func buildSyntheticELF(t *testing.T, tight bool) []byte {
	t.Helper()

	const phentsize = 56
	const ehsize = 64
	phoff := uint64(ehsize)

	tableEndFor2 := phoff + 2*phentsize
	var secondOff, total uint64
	if tight {
		secondOff = tableEndFor2
		total = secondOff + 0x40
	} else {
		secondOff = tableEndFor2 + 0x1000
		total = secondOff + 0x40
	}

	buf := make([]byte, total)

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // little-endian
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:18], 2)       // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e)    // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)       // e_version
	binary.LittleEndian.PutUint64(buf[24:32], 0x400000) // e_entry
	binary.LittleEndian.PutUint64(buf[32:40], phoff)    // e_phoff
	binary.LittleEndian.PutUint64(buf[40:48], 0)        // e_shoff
	binary.LittleEndian.PutUint16(buf[52:54], ehsize)
	binary.LittleEndian.PutUint16(buf[54:56], phentsize)
	binary.LittleEndian.PutUint16(buf[56:58], 2) // phnum

	writeLoad := func(idx int, off, size uint64) {
		p := buf[phoff+uint64(idx)*phentsize : phoff+uint64(idx+1)*phentsize]
		binary.LittleEndian.PutUint32(p[0:4], 1) // PT_LOAD
		binary.LittleEndian.PutUint32(p[4:8], 5) // PF_R|PF_X
		binary.LittleEndian.PutUint64(p[8:16], off)
		binary.LittleEndian.PutUint64(p[16:24], 0x400000+off)
		binary.LittleEndian.PutUint64(p[24:32], 0x400000+off)
		binary.LittleEndian.PutUint64(p[32:40], size)
		binary.LittleEndian.PutUint64(p[40:48], size)
		binary.LittleEndian.PutUint64(p[48:56], 0x1000)
	}
	writeLoad(0, 0, phoff+2*phentsize)
	writeLoad(1, secondOff, total-secondOff)

	return buf
}

func writeSynthetic(t *testing.T, tight bool) (path string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "host.elf")
	if err := os.WriteFile(path, buildSyntheticELF(t, tight), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPutCreatesNoteSegmentWhenSlackAvailable(t *testing.T) {
	path := writeSynthetic(t, false)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Format().String() != "ELF" {
		t.Fatalf("Format = %s, want ELF", c.Format())
	}

	d := c.(*Driver)
	origPHOff := d.PHOffset()

	blob := []byte("sea note payload")
	if err := c.Put(container.NodeSEABlob, blob, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if d.PHOffset() != origPHOff {
		t.Fatalf("phoff changed: %d -> %d", origPHOff, d.PHOffset())
	}
	if !c.Has(container.NodeSEABlob) {
		t.Fatal("missing NODE_SEA_BLOB note after Put")
	}
	got, err := c.Get(container.NodeSEABlob)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(blob, got); diff != "" {
		t.Fatalf("note payload mismatch (-want +got):\n%s", diff)
	}
}

func TestPutSEAFlipsFuseLiteral(t *testing.T) {
	const phentsize = 56
	const ehsize = 64
	phoff := uint64(ehsize)
	tableEnd := phoff + 2*phentsize
	secondOff := tableEnd + 0x1000

	buf := buildSyntheticELF(t, false)
	copy(buf[secondOff:], []byte(macho.FuseLiteral))

	path := filepath.Join(t.TempDir(), "host.elf")
	if err := os.WriteFile(path, buf, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("sea blob"), true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d := c.(*Driver)
	idx := bytes.Index(d.raw, []byte(macho.FuseLiteral[:len(macho.FuseLiteral)-1]))
	if idx < 0 {
		t.Fatal("fuse literal prefix disappeared after Put")
	}
	if d.raw[idx+len(macho.FuseLiteral)-1] != '1' {
		t.Fatalf("fuse trailing byte = %q, want '1'", d.raw[idx+len(macho.FuseLiteral)-1])
	}
}

func TestPutFailsWithoutPHTSlack(t *testing.T) {
	path := writeSynthetic(t, true)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("x"), true); err == nil {
		t.Fatal("expected a write failure when the program header table has no slack")
	}
}

func TestPutOverwritesExistingNoteInPlace(t *testing.T) {
	path := writeSynthetic(t, false)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("first"), true); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	d := c.(*Driver)
	sizeAfterFirst := len(d.raw)

	if err := c.Put(container.NodeSEABlob, []byte("second"), true); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := c.Get(container.NodeSEABlob)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("note payload = %q, want %q", got, "second")
	}
	if len(d.raw) != sizeAfterFirst {
		t.Fatalf("same-size overwrite should not grow the file: %d -> %d", sizeAfterFirst, len(d.raw))
	}
}

func TestBatchPutBothSlots(t *testing.T) {
	path := writeSynthetic(t, false)
	out := filepath.Join(t.TempDir(), "out.elf")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sea := bytes.Repeat([]byte{0xAA}, 1024)
	vfs := bytes.Repeat([]byte{0xBB}, 256)
	if err := c.Put(container.NodeSEABlob, sea, true); err != nil {
		t.Fatalf("Put SEA: %v", err)
	}
	if err := c.Put(container.SmolVFSBlob, vfs, true); err != nil {
		t.Fatalf("Put VFS: %v", err)
	}
	if err := c.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2, err := Open(out)
	if err != nil {
		t.Fatalf("re-opening: %v", err)
	}
	gotSEA, err := c2.Get(container.NodeSEABlob)
	if err != nil {
		t.Fatalf("Get SEA: %v", err)
	}
	gotVFS, err := c2.Get(container.SmolVFSBlob)
	if err != nil {
		t.Fatalf("Get VFS: %v", err)
	}
	if !bytes.Equal(gotSEA, sea) {
		t.Fatal("SEA payload mismatch after round-trip")
	}
	if !bytes.Equal(gotVFS, vfs) {
		t.Fatal("VFS payload mismatch after round-trip")
	}
}
