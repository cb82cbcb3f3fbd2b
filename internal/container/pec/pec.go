// Package pec implements the PE/COFF container driver of spec.md §4.2.3:
// SEA/VFS payloads live as RT_RCDATA resources named after the uppercased
// payload name inside the `.rsrc` directory tree; the compressed-stub
// payload is instead a standalone `.pressed_data` section.
//
// debug/pe (stdlib) is read-only, and — as with ELF — no write-capable PE
// library appears anywhere in the retrieval pack (grounded on the same
// binscan.openExe three-format dispatch used for the ELF driver's
// grounding). Resource-directory tree walking and the append-only new-
// section idiom used for both `.pressed_data` and `.rsrc` synthesis are
// grounded on the Go linker's own PE writer (Go-zh-go.old's
// cmd/internal/ld/pe.go addpesection/addpersrc): sections are appended at
// a page-rounded virtual address and a file-aligned raw offset, never
// displacing anything already on disk.
package pec

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/integrity"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

const (
	rtRCData        = 10
	sectionAlign    = 0x1000
	fileAlign       = 0x200
	sectionHdrSize  = 40
	imageDirResource = 2 // IMAGE_DIRECTORY_ENTRY_RESOURCE
)

// sectionHeader mirrors IMAGE_SECTION_HEADER, parsed and re-serialized by
// hand so this driver can append new sections without depending on a
// write-capable PE library.
type sectionHeader struct {
	name         string
	virtualSize  uint32
	virtualAddr  uint32
	rawSize      uint32
	rawPtr       uint32
	relocPtr     uint32
	linePtr      uint32
	numReloc     uint16
	numLines     uint16
	characterics uint32
}

// Driver holds the whole PE file in memory plus enough parsed structure
// (section table, optional-header class, resource directory location) to
// find, add, and remove RT_RCDATA resources and the `.pressed_data`
// section.
type Driver struct {
	raw   []byte
	is64  bool
	order binary.ByteOrder

	coffOff      int64 // file offset of the COFF file header
	optHeaderOff int64
	optHeaderLen int64
	numSections  int
	sectionsOff  int64

	sections []sectionHeader
}

// Open parses path as a PE image.
func Open(path string) (container.Container, error) {
	if detect.File(path) != detect.PE {
		return nil, fmt.Errorf("%w: %s: not a PE file", rerr.ErrInvalidFormat, path)
	}

	ef, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
	}
	defer ef.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrFileNotFound, path, err)
	}

	d := &Driver{raw: raw, order: binary.LittleEndian}
	if err := d.parseHeaders(ef); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
	}
	return d, nil
}

func (d *Driver) Format() detect.Format { return detect.PE }

// parseHeaders locates the COFF header (via e_lfanew at offset 0x3C),
// the optional header, and the section table, using debug/pe only to
// tell PE32 from PE32+ and to confirm the file parses cleanly.
func (d *Driver) parseHeaders(ef *pe.File) error {
	if len(d.raw) < 0x40 {
		return fmt.Errorf("file too small for a DOS header")
	}
	lfanew := int64(d.order.Uint32(d.raw[0x3C:0x40]))
	if lfanew < 0 || lfanew+24 > int64(len(d.raw)) {
		return fmt.Errorf("e_lfanew out of bounds")
	}
	if !bytes.Equal(d.raw[lfanew:lfanew+4], []byte("PE\x00\x00")) {
		return fmt.Errorf("missing PE signature")
	}
	d.coffOff = lfanew + 4

	switch ef.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		d.is64 = true
	case *pe.OptionalHeader32:
		d.is64 = false
	default:
		return fmt.Errorf("unrecognized optional header class")
	}

	d.numSections = int(ef.FileHeader.NumberOfSections)
	sizeOptHdr := int64(ef.FileHeader.SizeOfOptionalHeader)
	d.optHeaderOff = d.coffOff + 20
	d.optHeaderLen = sizeOptHdr
	d.sectionsOff = d.optHeaderOff + sizeOptHdr

	d.sections = make([]sectionHeader, d.numSections)
	for i := 0; i < d.numSections; i++ {
		off := d.sectionsOff + int64(i)*sectionHdrSize
		if off+sectionHdrSize > int64(len(d.raw)) {
			return fmt.Errorf("section header %d out of bounds", i)
		}
		e := d.raw[off : off+sectionHdrSize]
		d.sections[i] = sectionHeader{
			name:         string(bytes.TrimRight(e[0:8], "\x00")),
			virtualSize:  d.order.Uint32(e[8:12]),
			virtualAddr:  d.order.Uint32(e[12:16]),
			rawSize:      d.order.Uint32(e[16:20]),
			rawPtr:       d.order.Uint32(e[20:24]),
			relocPtr:     d.order.Uint32(e[24:28]),
			linePtr:      d.order.Uint32(e[28:32]),
			numReloc:     d.order.Uint16(e[32:34]),
			numLines:     d.order.Uint16(e[34:36]),
			characterics: d.order.Uint32(e[36:40]),
		}
	}
	return nil
}

// findSection returns the index of the last section header named name, so
// that an appended replacement (appendSection never overwrites in place)
// shadows any earlier, now-stale header of the same name.
func (d *Driver) findSection(name string) int {
	idx := -1
	for i, s := range d.sections {
		if s.name == name {
			idx = i
		}
	}
	return idx
}

func resourceName(name string) string {
	return container.PEResourceName(name)
}

func (d *Driver) Has(name string) bool {
	if container.IsPESection(name) {
		return d.findSection(container.PESectionName()) >= 0
	}
	rsrc := d.findSection(".rsrc")
	if rsrc < 0 {
		return false
	}
	tree, err := parseResourceTree(d.sectionBytes(rsrc), d.sections[rsrc].virtualAddr)
	if err != nil {
		return false
	}
	_, ok := tree.find(rtRCData, resourceName(name))
	return ok
}

func (d *Driver) sectionBytes(i int) []byte {
	s := d.sections[i]
	end := uint64(s.rawPtr) + uint64(s.rawSize)
	if end > uint64(len(d.raw)) {
		end = uint64(len(d.raw))
	}
	return d.raw[s.rawPtr:end]
}

func (d *Driver) Get(name string) ([]byte, error) {
	if container.IsPESection(name) {
		i := d.findSection(container.PESectionName())
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
		}
		return append([]byte(nil), d.sectionBytes(i)...), nil
	}

	rsrc := d.findSection(".rsrc")
	if rsrc < 0 {
		return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
	}
	tree, err := parseResourceTree(d.sectionBytes(rsrc), d.sections[rsrc].virtualAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing .rsrc: %v", rerr.ErrInvalidFormat, err)
	}
	data, ok := tree.find(rtRCData, resourceName(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// Put implements spec.md §4.2.3's RT_RCDATA put (for SEA/VFS names) and
// the compressed-stub `.pressed_data` section case. A missing `.rsrc`
// triggers the PE resource-directory synthesis supplement of
// SPEC_FULL.md §6 instead of failing outright: a fresh minimal directory
// is appended as a brand new section, append-only, so overlay, debug, and
// signature data already on disk are never touched.
func (d *Driver) Put(name string, data []byte, overwrite bool) error {
	if container.IsPESection(name) {
		return d.putRawSection(container.PESectionName(), data, overwrite)
	}

	rsrc := d.findSection(".rsrc")
	var tree *resourceDir
	if rsrc >= 0 {
		t, err := parseResourceTree(d.sectionBytes(rsrc), d.sections[rsrc].virtualAddr)
		if err != nil {
			return fmt.Errorf("%w: parsing .rsrc: %v", rerr.ErrInvalidFormat, err)
		}
		tree = t
	} else {
		tree = newResourceTree()
	}

	if !overwrite {
		if _, ok := tree.find(rtRCData, resourceName(name)); ok {
			return fmt.Errorf("%w: %s", rerr.ErrSectionExists, name)
		}
	}
	tree.put(rtRCData, resourceName(name), data)

	return d.rewriteResourceSection(rsrc, tree)
}

func (d *Driver) Remove(name string) error {
	if container.IsPESection(name) {
		return d.removeSection(container.PESectionName())
	}
	rsrc := d.findSection(".rsrc")
	if rsrc < 0 {
		return nil
	}
	tree, err := parseResourceTree(d.sectionBytes(rsrc), d.sections[rsrc].virtualAddr)
	if err != nil {
		return fmt.Errorf("%w: parsing .rsrc: %v", rerr.ErrInvalidFormat, err)
	}
	tree.remove(rtRCData, resourceName(name))
	return d.rewriteResourceSection(rsrc, tree)
}

func (d *Driver) Save(path string) error {
	return integrity.WriteExecutableFile(path, d.raw)
}
