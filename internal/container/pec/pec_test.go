package pec

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/google/go-cmp/cmp"
)

// buildSyntheticPE writes a minimal well-formed PE32+ executable: a DOS
// stub, a COFF + optional header with 16 data directory slots (all
// zero, so no pre-existing `.rsrc`), and a single `.text` section. The
// section header table is deliberately over-provisioned (room for four
// 40-byte entries before `.text`'s raw data starts) so appendSection has
// somewhere to put a newly synthesized `.rsrc` or `.pressed_data`.
func buildSyntheticPE(t *testing.T) []byte {
	t.Helper()

	const lfanew = 0x80
	const sizeOptHdr = 240
	coffOff := lfanew + 4
	optHeaderOff := coffOff + 20
	sectionsOff := optHeaderOff + sizeOptHdr
	headerReserve := 4 * sectionHdrSize
	textRawPtr := roundUp32(uint32(sectionsOff+headerReserve), fileAlign)

	textData := bytes.Repeat([]byte{0x90}, 64) // NOP sled
	textRawSize := roundUp32(uint32(len(textData)), fileAlign)
	total := textRawPtr + textRawSize

	buf := make([]byte, total)
	copy(buf[0:2], []byte("MZ"))
	binary.LittleEndian.PutUint32(buf[0x3C:0x40], lfanew)
	copy(buf[lfanew:lfanew+4], []byte("PE\x00\x00"))

	// COFF header
	binary.LittleEndian.PutUint16(buf[coffOff:coffOff+2], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	binary.LittleEndian.PutUint16(buf[coffOff+2:coffOff+4], 1)    // NumberOfSections
	binary.LittleEndian.PutUint16(buf[coffOff+16:coffOff+18], sizeOptHdr)
	binary.LittleEndian.PutUint16(buf[coffOff+18:coffOff+20], 0x0022)

	// Optional header (PE32+)
	oh := buf[optHeaderOff : optHeaderOff+sizeOptHdr]
	binary.LittleEndian.PutUint16(oh[0:2], 0x20B) // PE32+ magic
	binary.LittleEndian.PutUint32(oh[16:20], 0x1000) // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(oh[20:24], 0x1000) // BaseOfCode
	binary.LittleEndian.PutUint64(oh[24:32], 0x140000000) // ImageBase
	binary.LittleEndian.PutUint32(oh[32:36], sectionAlign)
	binary.LittleEndian.PutUint32(oh[36:40], fileAlign)
	binary.LittleEndian.PutUint16(oh[40:42], 6) // MajorOSVersion
	binary.LittleEndian.PutUint16(oh[48:50], 6) // MajorSubsystemVersion
	binary.LittleEndian.PutUint32(oh[56:60], total) // SizeOfImage (approximate, unchecked)
	binary.LittleEndian.PutUint32(oh[60:64], textRawPtr) // SizeOfHeaders
	binary.LittleEndian.PutUint16(oh[68:70], 3)          // Subsystem = console
	binary.LittleEndian.PutUint64(oh[72:80], 0x100000)   // SizeOfStackReserve
	binary.LittleEndian.PutUint64(oh[80:88], 0x1000)     // SizeOfStackCommit
	binary.LittleEndian.PutUint64(oh[88:96], 0x100000)   // SizeOfHeapReserve
	binary.LittleEndian.PutUint64(oh[96:104], 0x1000)    // SizeOfHeapCommit
	binary.LittleEndian.PutUint32(oh[108:112], 16)       // NumberOfRvaAndSizes
	// DataDirectory[16] at oh[112:240] left zeroed: no resource directory yet.

	// .text section header
	sh := buf[sectionsOff : sectionsOff+sectionHdrSize]
	copy(sh[0:8], []byte(".text"))
	binary.LittleEndian.PutUint32(sh[8:12], uint32(len(textData)))
	binary.LittleEndian.PutUint32(sh[12:16], 0x1000)
	binary.LittleEndian.PutUint32(sh[16:20], textRawSize)
	binary.LittleEndian.PutUint32(sh[20:24], textRawPtr)
	binary.LittleEndian.PutUint32(sh[36:40], 0x60000020) // CODE|EXECUTE|READ

	copy(buf[textRawPtr:], textData)

	return buf
}

func writeSyntheticPE(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "host.exe")
	if err := os.WriteFile(path, buildSyntheticPE(t), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPutSynthesizesResourceSectionWhenAbsent(t *testing.T) {
	path := writeSyntheticPE(t)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Format().String() != "PE" {
		t.Fatalf("Format = %s, want PE", c.Format())
	}
	if c.Has(container.NodeSEABlob) {
		t.Fatal("fresh synthetic PE should not already have a NODE_SEA_BLOB resource")
	}

	blob := []byte("sea resource payload")
	if err := c.Put(container.NodeSEABlob, blob, true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Has(container.NodeSEABlob) {
		t.Fatal("missing NODE_SEA_BLOB resource after Put")
	}
	got, err := c.Get(container.NodeSEABlob)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(blob, got); diff != "" {
		t.Fatalf("resource payload mismatch (-want +got):\n%s", diff)
	}

	d := c.(*Driver)
	if d.findSection(".rsrc") < 0 {
		t.Fatal("expected a synthesized .rsrc section")
	}
}

func TestPutBothResourceSlotsRoundTripAfterSave(t *testing.T) {
	path := writeSyntheticPE(t)
	out := filepath.Join(t.TempDir(), "host.out.exe")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sea := bytes.Repeat([]byte{0xAA}, 512)
	vfs := bytes.Repeat([]byte{0xBB}, 128)
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

func TestPutPressedDataSection(t *testing.T) {
	path := writeSyntheticPE(t)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := bytes.Repeat([]byte{0xCC}, 2048)
	if err := c.Put(container.PressedData, payload, true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(container.PressedData)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("pressed_data payload mismatch")
	}

	d := c.(*Driver)
	idx := d.findSection(container.PESectionName())
	if idx < 0 {
		t.Fatal("missing .pressed_data section")
	}
	if d.sections[idx].characterics&scnMemWrite == 0 {
		t.Fatal(".pressed_data section should be writable so the stub can decompress into it")
	}
}

func TestPutWithoutOverwriteFailsOnExistingResource(t *testing.T) {
	path := writeSyntheticPE(t)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("first"), true); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("second"), false); err == nil {
		t.Fatal("expected an error putting over an existing resource without overwrite")
	}
}

func TestRemoveResourceSlot(t *testing.T) {
	path := writeSyntheticPE(t)

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(container.NodeSEABlob, []byte("payload"), true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Remove(container.NodeSEABlob); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Has(container.NodeSEABlob) {
		t.Fatal("resource still present after Remove")
	}
}
