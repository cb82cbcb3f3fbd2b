package machoc

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
	"github.com/google/go-cmp/cmp"
)

func name16(s string) (out [16]byte) {
	copy(out[:], s)
	return out
}

// writeSyntheticMachO writes a minimal well-formed 64-bit Mach-O executable
// to path: one __TEXT segment with one __cstring section holding payload,
// plus an empty __LINKEDIT segment, and enough header padding for a
// subsequently injected segment to fit.
func writeSyntheticMachO(t *testing.T, path string, payload []byte) {
	t.Helper()

	segHeaderSize := uint32(unsafe.Sizeof(types.Segment64{}))
	sectionHeaderSize := uint32(unsafe.Sizeof(types.Section64{}))
	sizeCommands := segHeaderSize*2 + sectionHeaderSize

	const sectionOffset = 0x4000

	hdr := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUArm64,
		Type:         types.MH_EXECUTE,
		NCommands:    2,
		SizeCommands: sizeCommands,
	}
	linkeditOffset := sectionOffset + uint32(len(payload))
	seg1 := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     segHeaderSize + sectionHeaderSize,
		Name:    name16("__TEXT"),
		Addr:    0x100000000,
		Memsz:   0x4000,
		Offset:  0,
		Filesz:  uint64(sectionOffset) + uint64(len(payload)),
		Maxprot: 7,
		Prot:    5,
		Nsect:   1,
	}
	sec1 := types.Section64{
		Name:   name16("__cstring"),
		Seg:    name16("__TEXT"),
		Addr:   0x100000000 + sectionOffset,
		Size:   uint64(len(payload)),
		Offset: sectionOffset,
	}
	seg2 := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     segHeaderSize,
		Name:    name16("__LINKEDIT"),
		Addr:    0x200000000,
		Memsz:   0x4000,
		Offset:  uint64(linkeditOffset),
		Filesz:  16,
		Maxprot: 1,
		Prot:    1,
	}

	buf := new(bytes.Buffer)
	for _, v := range []any{hdr, seg1, sec1, seg2} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("serializing header piece: %v", err)
		}
	}
	buf.Write(make([]byte, sectionOffset-buf.Len()))
	buf.Write(payload)
	buf.Write(make([]byte, 16))

	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestPutSEAAndFuseFlip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "host")
	out := filepath.Join(dir, "host.out")
	writeSyntheticMachO(t, in, []byte(macho.FuseLiteral))

	c, err := Open(in)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Format().String() != "Mach-O" {
		t.Fatalf("Format = %s, want Mach-O", c.Format())
	}

	blob := []byte("sea payload contents")
	if err := c.Put(container.NodeSEABlob, blob, true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2, err := Open(out)
	if err != nil {
		t.Fatalf("re-opening mutated file: %v", err)
	}
	if !c2.Has(container.NodeSEABlob) {
		t.Fatal("mutated file missing NODE_SEA_BLOB slot")
	}
	got, err := c2.Get(container.NodeSEABlob)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(blob, got); diff != "" {
		t.Fatalf("SEA payload mismatch (-want +got):\n%s", diff)
	}

	f, err := macho.Open(out)
	if err != nil {
		t.Fatalf("macho.Open: %v", err)
	}
	sec := f.Section("__TEXT", "__cstring")
	if sec == nil {
		t.Fatal("fuse section disappeared")
	}
	data, err := sec.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if data[len(data)-1] != '1' {
		t.Fatalf("fuse trailing byte = %q, want '1'", data[len(data)-1])
	}
}

func TestPutPressedDataUsesReadOnlySMOL(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "host")
	out := filepath.Join(dir, "host.out")
	writeSyntheticMachO(t, in, []byte("original text section"))

	c, err := Open(in)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.PressedData, []byte("compressed inner blob"), true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f, err := macho.Open(out)
	if err != nil {
		t.Fatalf("macho.Open: %v", err)
	}
	seg := f.Segment("SMOL")
	if seg == nil {
		t.Fatal("missing SMOL segment")
	}
	if seg.Maxprot.Write() || seg.Maxprot.Execute() {
		t.Fatalf("SMOL segment protection = %v, want read-only", seg.Maxprot)
	}
}

func TestGetMissingSlotIsSectionNotFound(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "host")
	writeSyntheticMachO(t, in, []byte("payload"))

	c, err := Open(in)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Get(container.NodeSEABlob); err == nil {
		t.Fatal("expected an error for a missing slot")
	}
}
