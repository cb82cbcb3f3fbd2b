package pec

import (
	"encoding/binary"
	"fmt"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// Section characteristics bits this driver assigns to appended sections:
// IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ, with MEM_WRITE
// added for `.pressed_data` since the stub decompresses into it at
// startup. The Mach-O driver draws the line differently: its SMOL segment
// holding the same payload is read-only, while NODE_SEA (SEA and VFS
// blobs) is read+write+execute.
const (
	scnInitializedData = 0x00000040
	scnMemRead          = 0x40000000
	scnMemWrite          = 0x80000000
)

func roundUp32(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// appendSection grows the file by one section: new content is written at
// EOF, file- and virtual-address aligned past the last existing section,
// and a new section header is written into the first unused slot of the
// section header table. It never moves or rewrites any byte belonging to
// an existing section, mirroring the append-only growth the teacher's
// Mach-O driver and this package's ELF sibling both use for adding new
// content to an already-linked binary.
func (d *Driver) appendSection(name string, data []byte, characteristics uint32) (int, error) {
	if len(d.sections) == 0 {
		return 0, fmt.Errorf("%w: no existing sections to anchor a new one against", rerr.ErrInvalidFormat)
	}

	newEntryOff := d.sectionsOff + int64(len(d.sections))*sectionHdrSize
	limit := int64(d.sections[0].rawPtr)
	if newEntryOff+sectionHdrSize > limit {
		return 0, fmt.Errorf("%w: no room in the section header table to append %s", rerr.ErrWriteFailed, name)
	}

	last := d.sections[len(d.sections)-1]
	newVA := roundUp32(last.virtualAddr+last.virtualSize, sectionAlign)
	newRawPtr := roundUp32(uint32(len(d.raw)), fileAlign)

	if uint32(len(d.raw)) < newRawPtr {
		d.raw = append(d.raw, make([]byte, newRawPtr-uint32(len(d.raw)))...)
	}
	rawSize := roundUp32(uint32(len(data)), fileAlign)
	d.raw = append(d.raw, data...)
	if pad := rawSize - uint32(len(data)); pad > 0 {
		d.raw = append(d.raw, make([]byte, pad)...)
	}

	sh := sectionHeader{
		name:         name,
		virtualSize:  uint32(len(data)),
		virtualAddr:  newVA,
		rawSize:      rawSize,
		rawPtr:       newRawPtr,
		characterics: characteristics,
	}

	d.writeSectionHeaderAt(len(d.sections), sh)
	d.sections = append(d.sections, sh)
	d.setNumberOfSections(len(d.sections))
	return len(d.sections) - 1, nil
}

func (d *Driver) writeSectionHeaderAt(i int, sh sectionHeader) {
	off := d.sectionsOff + int64(i)*sectionHdrSize
	e := d.raw[off : off+sectionHdrSize]
	for j := range e {
		e[j] = 0
	}
	copy(e[0:8], []byte(sh.name))
	binary.LittleEndian.PutUint32(e[8:12], sh.virtualSize)
	binary.LittleEndian.PutUint32(e[12:16], sh.virtualAddr)
	binary.LittleEndian.PutUint32(e[16:20], sh.rawSize)
	binary.LittleEndian.PutUint32(e[20:24], sh.rawPtr)
	binary.LittleEndian.PutUint32(e[24:28], sh.relocPtr)
	binary.LittleEndian.PutUint32(e[28:32], sh.linePtr)
	binary.LittleEndian.PutUint16(e[32:34], sh.numReloc)
	binary.LittleEndian.PutUint16(e[34:36], sh.numLines)
	binary.LittleEndian.PutUint32(e[36:40], sh.characterics)
}

func (d *Driver) setNumberOfSections(n int) {
	binary.LittleEndian.PutUint16(d.raw[d.coffOff+2:d.coffOff+4], uint16(n))
	d.numSections = n
}

// putRawSection implements the `.pressed_data` slot: a whole extra
// section holding the compressed-stub payload, added or replaced with a
// fresh append rather than an in-place resize.
func (d *Driver) putRawSection(name string, data []byte, overwrite bool) error {
	if existing := d.findSection(name); existing >= 0 && !overwrite {
		return fmt.Errorf("%w: %s", rerr.ErrSectionExists, name)
	}
	_, err := d.appendSection(name, data, scnInitializedData|scnMemRead|scnMemWrite)
	return err
}

// removeSection drops a section header from the table read order without
// disturbing any other section's raw bytes: later header entries shift
// down by one slot and the count decreases. The section's own raw bytes
// become unreferenced padding rather than being reclaimed.
func (d *Driver) removeSection(name string) error {
	idx := d.findSection(name)
	if idx < 0 {
		return nil
	}
	d.sections = append(d.sections[:idx], d.sections[idx+1:]...)
	for i := idx; i < len(d.sections); i++ {
		d.writeSectionHeaderAt(i, d.sections[i])
	}
	zero := make([]byte, sectionHdrSize)
	tailOff := d.sectionsOff + int64(len(d.sections))*sectionHdrSize
	copy(d.raw[tailOff:tailOff+sectionHdrSize], zero)
	d.setNumberOfSections(len(d.sections))
	return nil
}

// rewriteResourceSection serializes tree into a brand new `.rsrc`-named
// section appended at EOF and repoints the resource data directory entry
// at it. oldIdx, the previous `.rsrc` section if any, is left in place
// untouched: spec.md's append-only write discipline (mirrored from the
// ELF driver's PHT-preservation contract) favors leaving stale bytes
// behind over relocating or resizing anything already on disk.
func (d *Driver) rewriteResourceSection(oldIdx int, tree *resourceDir) error {
	last := d.sections[len(d.sections)-1]
	newVA := roundUp32(last.virtualAddr+last.virtualSize, sectionAlign)
	content := tree.serialize(newVA)

	idx, err := d.appendSection(".rsrc", content, scnInitializedData|scnMemRead)
	if err != nil {
		return err
	}
	_ = oldIdx
	return d.setResourceDataDirectory(d.sections[idx].virtualAddr, d.sections[idx].virtualSize)
}

// Data directory array offsets within the optional header, relative to
// its own start: 96 for PE32, 112 for PE32+ (the extra 16 bytes come
// from ImageBase/Stack/Heap fields widening from 32 to 64 bits).
const (
	dataDirOffsetPE32  = 96
	dataDirOffsetPE32p = 112
)

func (d *Driver) setResourceDataDirectory(va, size uint32) error {
	base := d.optHeaderOff + dataDirOffsetPE32
	if d.is64 {
		base = d.optHeaderOff + dataDirOffsetPE32p
	}
	off := base + imageDirResource*8
	if off+8 > int64(len(d.raw)) {
		return fmt.Errorf("%w: data directory array out of bounds", rerr.ErrInvalidFormat)
	}
	binary.LittleEndian.PutUint32(d.raw[off:off+4], va)
	binary.LittleEndian.PutUint32(d.raw[off+4:off+8], size)
	return nil
}
