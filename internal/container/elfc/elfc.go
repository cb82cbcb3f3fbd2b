// Package elfc implements the ELF container driver of spec.md §4.2.2:
// payload slots are PT_NOTE program-header notes, addressed by owner
// name, with a hard requirement that the Program Header Table never
// moves from its original file offset — statically linked hosts read it
// at a fixed address, and relocating it segfaults the process at start.
//
// debug/elf (stdlib) has no write path and no third-party write-capable
// ELF editor appears anywhere in the retrieval pack (grounded on
// golang-exp/vulncheck's binscan.openExe, which dispatches debug/elf
// read-only the same way this package's Open does). Note read-modify-
// write is therefore hand-rolled directly on the raw bytes, the same way
// the Mach-O driver hand-rolls load-command mutation on top of its
// parser's FileTOC instead of a black-box writer.
package elfc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho"
	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/integrity"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
	"github.com/SocketDev/socket-btm-sub000/internal/rlog"
)

const ptNote = 4 // elf.PT_NOTE

// note alignment on Linux is 4 bytes regardless of ELF class; readelf and
// the kernel's own note reader agree on this even for 64-bit binaries.
const noteAlign = 4

// maxProgs is a DoS guard on program header count, mirroring the Mach-O
// driver's 10,000 load-command cap (spec.md §7).
const maxProgs = 65535

// phdr is this package's own in-memory view of one ELF program header,
// parsed and re-serialized by hand since debug/elf does not retain the
// raw p_offset/p_filesz fields in a form we can safely round-trip for
// in-place note mutation.
type phdr struct {
	typ    uint32
	flags  uint32
	off    uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

// note is one decoded Elf{32,64}_Nhdr entry plus its payload.
type note struct {
	name string
	typ  uint32
	desc []byte
}

// Driver holds the full file in memory (mutated in place as notes are
// put/removed) plus its parsed program header table and class/byte-order,
// read once at Open and kept in sync with raw across every mutation.
type Driver struct {
	raw       []byte
	is64      bool
	order     binary.ByteOrder
	phoff     uint64
	phentsize uint64
	phnum     int
	progs     []phdr
}

// Open reads path fully into memory and parses its ELF header and program
// header table. A debug/elf.NewFile pass validates the file is well-formed
// ELF before the hand-rolled phdr scan runs.
func Open(path string) (container.Container, error) {
	if detect.File(path) != detect.ELF {
		return nil, fmt.Errorf("%w: %s: not an ELF file", rerr.ErrInvalidFormat, path)
	}

	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
	}
	defer ef.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrFileNotFound, path, err)
	}

	d := &Driver{
		raw:   raw,
		is64:  ef.Class == elf.ELFCLASS64,
		order: ef.ByteOrder,
	}
	if err := d.parsePHT(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
	}
	return d, nil
}

func (d *Driver) Format() detect.Format { return detect.ELF }

func (d *Driver) ehsize() int {
	if d.is64 {
		return 64
	}
	return 52
}

// parsePHT reads e_phoff/e_phentsize/e_phnum from the ELF header and
// decodes every program header into d.progs, all directly off d.raw so
// subsequent writes and re-reads stay consistent with each other.
func (d *Driver) parsePHT() error {
	if len(d.raw) < d.ehsize() {
		return fmt.Errorf("file too small for an ELF header")
	}
	if d.is64 {
		d.phoff = d.order.Uint64(d.raw[32:40])
		d.phentsize = uint64(d.order.Uint16(d.raw[54:56]))
		d.phnum = int(d.order.Uint16(d.raw[56:58]))
	} else {
		d.phoff = uint64(d.order.Uint32(d.raw[28:32]))
		d.phentsize = uint64(d.order.Uint16(d.raw[42:44]))
		d.phnum = int(d.order.Uint16(d.raw[44:46]))
	}
	if d.phnum > maxProgs {
		return fmt.Errorf("implausible program header count %d", d.phnum)
	}

	d.progs = make([]phdr, d.phnum)
	for i := 0; i < d.phnum; i++ {
		off := d.phoff + uint64(i)*d.phentsize
		if off+d.phentsize > uint64(len(d.raw)) {
			return fmt.Errorf("program header %d out of bounds", i)
		}
		e := d.raw[off : off+d.phentsize]
		p := &d.progs[i]
		if d.is64 {
			p.typ = d.order.Uint32(e[0:4])
			p.flags = d.order.Uint32(e[4:8])
			p.off = d.order.Uint64(e[8:16])
			p.vaddr = d.order.Uint64(e[16:24])
			p.paddr = d.order.Uint64(e[24:32])
			p.filesz = d.order.Uint64(e[32:40])
			p.memsz = d.order.Uint64(e[40:48])
			p.align = d.order.Uint64(e[48:56])
		} else {
			p.typ = d.order.Uint32(e[0:4])
			p.off = uint64(d.order.Uint32(e[4:8]))
			p.vaddr = uint64(d.order.Uint32(e[8:12]))
			p.paddr = uint64(d.order.Uint32(e[12:16]))
			p.filesz = uint64(d.order.Uint32(e[16:20]))
			p.memsz = uint64(d.order.Uint32(e[20:24]))
			p.flags = d.order.Uint32(e[24:28])
			p.align = uint64(d.order.Uint32(e[28:32]))
		}
	}
	return nil
}

// writePhdr re-serializes d.progs[i] back into d.raw at its original
// table slot, never changing d.phoff itself.
func (d *Driver) writePhdr(i int) {
	p := d.progs[i]
	off := d.phoff + uint64(i)*d.phentsize
	e := d.raw[off : off+d.phentsize]
	if d.is64 {
		d.order.PutUint32(e[0:4], p.typ)
		d.order.PutUint32(e[4:8], p.flags)
		d.order.PutUint64(e[8:16], p.off)
		d.order.PutUint64(e[16:24], p.vaddr)
		d.order.PutUint64(e[24:32], p.paddr)
		d.order.PutUint64(e[32:40], p.filesz)
		d.order.PutUint64(e[40:48], p.memsz)
		d.order.PutUint64(e[48:56], p.align)
	} else {
		d.order.PutUint32(e[0:4], p.typ)
		d.order.PutUint32(e[4:8], uint32(p.off))
		d.order.PutUint32(e[8:12], uint32(p.vaddr))
		d.order.PutUint32(e[12:16], uint32(p.paddr))
		d.order.PutUint32(e[16:20], uint32(p.filesz))
		d.order.PutUint32(e[20:24], uint32(p.memsz))
		d.order.PutUint32(e[24:28], p.flags)
		d.order.PutUint32(e[28:32], uint32(p.align))
	}
}

func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	if r := n % align; r != 0 {
		return n + (align - r)
	}
	return n
}

// decodeNotes parses the Elf{32,64}_Nhdr stream in raw[off : off+size].
// namesz includes the owner's NUL terminator; name and desc are each
// padded to a 4-byte boundary.
func decodeNotes(raw []byte, order binary.ByteOrder, off, size uint64) ([]note, error) {
	var notes []note
	end := off + size
	pos := off
	for pos+12 <= end {
		namesz := uint64(order.Uint32(raw[pos : pos+4]))
		descsz := uint64(order.Uint32(raw[pos+4 : pos+8]))
		typ := order.Uint32(raw[pos+8 : pos+12])
		pos += 12

		nameEnd := pos + namesz
		if nameEnd > end {
			break
		}
		name := ""
		if namesz > 0 {
			name = string(bytes.TrimRight(raw[pos:nameEnd], "\x00"))
		}
		pos += roundUp(namesz, noteAlign)

		descEnd := pos + descsz
		if descEnd > end {
			break
		}
		desc := append([]byte(nil), raw[pos:descEnd]...)
		pos += roundUp(descsz, noteAlign)

		notes = append(notes, note{name: name, typ: typ, desc: desc})
	}
	return notes, nil
}

// encodeNotes is decodeNotes's inverse.
func encodeNotes(notes []note, order binary.ByteOrder) []byte {
	buf := new(bytes.Buffer)
	for _, n := range notes {
		namesz := uint64(len(n.name) + 1)
		var hdr [12]byte
		order.PutUint32(hdr[0:4], uint32(namesz))
		order.PutUint32(hdr[4:8], uint32(len(n.desc)))
		order.PutUint32(hdr[8:12], n.typ)
		buf.Write(hdr[:])
		buf.WriteString(n.name)
		buf.WriteByte(0)
		pad(buf, roundUp(namesz, noteAlign)-namesz)
		buf.Write(n.desc)
		pad(buf, roundUp(uint64(len(n.desc)), noteAlign)-uint64(len(n.desc)))
	}
	return buf.Bytes()
}

func pad(buf *bytes.Buffer, n uint64) {
	for i := uint64(0); i < n; i++ {
		buf.WriteByte(0)
	}
}

// findNoteSegment returns the index of the PT_NOTE program header, or -1.
func (d *Driver) findNoteSegment() int {
	for i, p := range d.progs {
		if p.typ == ptNote {
			return i
		}
	}
	return -1
}

func (d *Driver) Has(name string) bool {
	i := d.findNoteSegment()
	if i < 0 {
		return false
	}
	notes, _ := decodeNotes(d.raw, d.order, d.progs[i].off, d.progs[i].filesz)
	for _, n := range notes {
		if n.name == container.ELFNoteOwner(name) {
			return true
		}
	}
	return false
}

func (d *Driver) Get(name string) ([]byte, error) {
	i := d.findNoteSegment()
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
	}
	notes, _ := decodeNotes(d.raw, d.order, d.progs[i].off, d.progs[i].filesz)
	for _, n := range notes {
		if n.name == container.ELFNoteOwner(name) {
			return n.desc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
}

// Put implements spec.md §4.2.2 steps 1-3: remove any existing note of the
// same owner, construct the new note with explicit type 0, and add it.
// When a PT_NOTE segment already exists and the re-serialized note stream
// fits within its current Filesz, the rewrite happens strictly in place
// and the Program Header Table never moves — this is the path the
// compressed-stub repack relies on (§4.2.2's PHT-preservation contract).
// When it doesn't fit, or no PT_NOTE segment exists yet, the segment's
// data (or a brand new segment) is relocated to end-of-file and only that
// one program header entry's Off/Filesz/Memsz fields change (a brand new
// segment adds one entry to the table in place, raising e_phnum by one) —
// e_phoff itself, and every other program header's Off, stay untouched.
func (d *Driver) Put(name string, data []byte, overwrite bool) error {
	owner := container.ELFNoteOwner(name)
	i := d.findNoteSegment()

	var notes []note
	if i >= 0 {
		notes, _ = decodeNotes(d.raw, d.order, d.progs[i].off, d.progs[i].filesz)
	}
	for _, n := range notes {
		if n.name == owner && !overwrite {
			return fmt.Errorf("%w: %s", rerr.ErrSectionExists, name)
		}
	}
	kept := notes[:0]
	for _, n := range notes {
		if n.name != owner {
			kept = append(kept, n)
		}
	}
	kept = append(kept, note{name: owner, typ: 0, desc: data})
	encoded := encodeNotes(kept, d.order)

	if i >= 0 && uint64(len(encoded)) <= d.progs[i].filesz {
		copy(d.raw[d.progs[i].off:], encoded)
		for j := uint64(len(encoded)); j < d.progs[i].filesz; j++ {
			d.raw[d.progs[i].off+j] = 0
		}
	} else if err := d.relocateNoteSegment(i, encoded); err != nil {
		return err
	}

	if name == container.NodeSEABlob {
		d.flipFuse()
	}
	return nil
}

// flipFuse implements spec.md §4.2.2 step 4: scan the whole file for the
// fuse literal and overwrite its trailing byte, the same text marker and
// replacement the Mach-O driver's FlipFuse uses. Absence is a warning, not
// a failure — a host that doesn't carry the fuse simply doesn't support
// SEA.
func (d *Driver) flipFuse() {
	needle := []byte(macho.FuseLiteral)
	idx := bytes.Index(d.raw, needle)
	if idx < 0 {
		rlog.Warnf("fuse literal not found; binary may not support SEA")
		return
	}
	d.raw[idx+len(needle)-1] = '1'
}

// relocateNoteSegment appends encoded note bytes at EOF and points a
// PT_NOTE program header at them: an existing entry's Off/Filesz/Memsz if
// i >= 0, or a freshly allocated Phdr table slot otherwise.
func (d *Driver) relocateNoteSegment(i int, encoded []byte) error {
	newOff := uint64(len(d.raw))
	d.raw = append(d.raw, encoded...)

	if i >= 0 {
		d.progs[i].off = newOff
		d.progs[i].filesz = uint64(len(encoded))
		d.progs[i].memsz = uint64(len(encoded))
		d.writePhdr(i)
		return nil
	}

	return d.appendNoteSegment(newOff, uint64(len(encoded)))
}

// appendNoteSegment grows the program header table by one entry, which
// only succeeds if there is unused slack between the end of the existing
// table and whatever file content immediately follows it (overwhelmingly
// the common case: the kernel and most linkers leave the PHT on its own
// page). If there is no room, the caller must not relayout the file —
// the same "fails rather than relaying out" contract spec.md §4.2.2
// mandates for the stub-repack case, generalized to first-time note
// injection on hosts with a tightly packed header.
func (d *Driver) appendNoteSegment(noteOff, noteSize uint64) error {
	tableEnd := d.phoff + uint64(d.phnum)*d.phentsize
	nextContentOff := uint64(len(d.raw))
	for _, p := range d.progs {
		if p.off >= tableEnd && p.off < nextContentOff {
			nextContentOff = p.off
		}
	}
	if tableEnd+d.phentsize > nextContentOff {
		return fmt.Errorf("%w: no room to grow the program header table without relocating it", rerr.ErrWriteFailed)
	}

	newProg := phdr{typ: ptNote, flags: 4 /* PF_R */, off: noteOff, filesz: noteSize, memsz: noteSize, align: noteAlign}
	d.progs = append(d.progs, newProg)
	d.phnum++
	d.setPhnum(d.phnum)
	d.writePhdr(len(d.progs) - 1)
	return nil
}

func (d *Driver) setPhnum(n int) {
	if d.is64 {
		d.order.PutUint16(d.raw[56:58], uint16(n))
	} else {
		d.order.PutUint16(d.raw[44:46], uint16(n))
	}
}

func (d *Driver) Remove(name string) error {
	i := d.findNoteSegment()
	if i < 0 {
		return nil
	}
	notes, _ := decodeNotes(d.raw, d.order, d.progs[i].off, d.progs[i].filesz)
	owner := container.ELFNoteOwner(name)
	kept := notes[:0]
	for _, n := range notes {
		if n.name != owner {
			kept = append(kept, n)
		}
	}
	encoded := encodeNotes(kept, d.order)
	copy(d.raw[d.progs[i].off:], encoded)
	for j := uint64(len(encoded)); j < d.progs[i].filesz; j++ {
		d.raw[d.progs[i].off+j] = 0
	}
	return nil
}

func (d *Driver) Save(path string) error {
	return integrity.WriteExecutableFile(path, d.raw)
}

// PHOffset exposes the Program Header Table's file offset, used by the
// stub repack's Testable Property check (spec.md §8 item 6) that phoff is
// unchanged across a repack.
func (d *Driver) PHOffset() uint64 { return d.phoff }
