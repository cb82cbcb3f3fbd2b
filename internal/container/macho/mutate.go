package macho

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
)

// FuseLiteral is the ASCII marker scanned for during SEA injection. Its
// trailing byte records whether the produced binary is single-executable
// aware: "0" means no, "1" means yes.
const FuseLiteral = "NODE_SEA_FUSE_fce680ab2cc467b6e072b8b5df1996b2:0"

// segmentFileAlignment is the file-offset alignment used for segments
// appended at the end of a binary. 16 KiB covers the page size of every
// mainstream Apple Silicon and Intel target.
const segmentFileAlignment = 0x4000

// fusePatch records a single-byte overwrite applied by Bytes over otherwise
// unmodified, copied-through section content.
type fusePatch struct {
	offset uint64
	value  byte
}

// removeLoadAt deletes the load command at index i, adjusting NCommands
// and SizeCommands. Callers must look up the index immediately before
// calling this — load commands are removed by position, never by a
// pointer retained across mutations, since FileTOC.Loads is reshuffled
// on every removal.
func (t *FileTOC) removeLoadAt(i int) {
	l := t.Loads[i]
	t.SizeCommands -= l.LoadSize(t)
	t.NCommands--
	t.Loads = append(t.Loads[:i], t.Loads[i+1:]...)
}

// RemoveSegment removes the named segment and all of its sections from the
// table of contents. It is a no-op if the segment does not exist.
func (f *File) RemoveSegment(name string) {
	for i, l := range f.Loads {
		seg, ok := l.(*Segment)
		if !ok || seg.Name != name {
			continue
		}
		if seg.Nsect > 0 {
			f.Sections = append(f.Sections[:seg.Firstsect], f.Sections[seg.Firstsect+seg.Nsect:]...)
			for _, l2 := range f.Loads {
				if other, ok := l2.(*Segment); ok && other.Firstsect > seg.Firstsect {
					other.Firstsect -= seg.Nsect
				}
			}
		}
		f.removeLoadAt(i)
		return
	}
}

// RemoveCodeSignature removes the LC_CODE_SIGNATURE load command, if
// present. Per the Mach-O driver's write contract this must run only
// after segment/section mutation has completed, since removing it first
// has been observed to corrupt chained-fixups state in this parser.
func (f *File) RemoveCodeSignature() {
	for i, l := range f.Loads {
		if l.Command() == types.LC_CODE_SIGNATURE {
			f.removeLoadAt(i)
			return
		}
	}
}

// PutSection creates or replaces a (segment, section) payload slot. When
// the segment does not exist, it is created with the given protections and
// appended in one call (AddSegment immediately followed by AddSection) so
// the load-command size in the header accounts for both together. When it
// exists, the section is added to (or replaces a same-named section of)
// the existing segment.
func (f *File) PutSection(segment, section string, data []byte, prot types.VmProtection) {
	if existing := f.Section(segment, section); existing != nil {
		f.removeSectionNamed(segment, section)
	}

	sec := &Section{
		SectionHeader: SectionHeader{
			Name:  section,
			Seg:   segment,
			Size:  uint64(len(data)),
			Align: 2, // log2(4), i.e. 4-byte alignment
			Type:  64,
		},
	}
	sec.sr = nil
	sec.pendingData = data

	seg := f.Segment(segment)
	if seg == nil {
		newSeg := &Segment{
			SegmentHeader: SegmentHeader{
				LoadCmd: types.LC_SEGMENT_64,
				Name:    segment,
				Maxprot: prot,
				Prot:    prot,
			},
		}
		newSeg.Len = uint32(unsafe.Sizeof(types.Segment64{}))
		f.AddSegment(newSeg)
		f.AddSection(sec)
		seg = newSeg
	} else {
		f.addSectionTo(seg, sec)
	}

	sec.Offset = 0 // resolved in Bytes, once final file layout is known

	var filesz uint64
	for i := uint32(0); i < seg.Nsect; i++ {
		s := f.Sections[i+seg.Firstsect]
		if s.pendingData != nil {
			filesz += uint64(len(s.pendingData))
		} else {
			filesz += s.Size
		}
	}
	seg.Filesz = filesz
	seg.Memsz = roundUp64(seg.Filesz, segmentFileAlignment)
}

// addSectionTo inserts sec into an already-existing segment that was not
// just created by PutSection (AddSection always targets the most recently
// added segment, so segments that pre-date this call are handled here).
func (f *File) addSectionTo(seg *Segment, sec *Section) {
	insertAt := seg.Firstsect + seg.Nsect
	f.Sections = append(f.Sections, nil)
	copy(f.Sections[insertAt+1:], f.Sections[insertAt:])
	f.Sections[insertAt] = sec

	for _, l := range f.Loads {
		if other, ok := l.(*Segment); ok && other != seg && other.Firstsect >= insertAt {
			other.Firstsect++
		}
	}
	seg.Nsect++
	sectionSize := uint32(unsafe.Sizeof(types.Section64{}))
	f.SizeCommands += sectionSize
	seg.Len += sectionSize
}

func (f *File) removeSectionNamed(segment, section string) {
	for i, sec := range f.Sections {
		if sec.Seg != segment || sec.Name != section {
			continue
		}
		f.Sections = append(f.Sections[:i], f.Sections[i+1:]...)
		for _, l := range f.Loads {
			if seg, ok := l.(*Segment); ok {
				if uint32(i) < seg.Firstsect {
					seg.Firstsect--
				} else if uint32(i) < seg.Firstsect+seg.Nsect {
					seg.Nsect--
					sectionSize := uint32(unsafe.Sizeof(types.Section64{}))
					f.SizeCommands -= sectionSize
					seg.Len -= sectionSize
				}
			}
		}
		return
	}
}

// FlipFuse scans every section's on-disk content for FuseLiteral and
// records a patch flipping its trailing digit to "1". It expects exactly
// one occurrence; finding none is reported to the caller rather than
// treated as fatal, since a host binary may simply not support SEA.
func (f *File) FlipFuse() (bool, error) {
	needle := []byte(FuseLiteral)
	found := false
	for _, sec := range f.Sections {
		if sec.pendingData != nil {
			continue // freshly added payload sections are never fuse carriers
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		idx := bytes.Index(data, needle)
		if idx < 0 {
			continue
		}
		f.fusePatches = append(f.fusePatches, fusePatch{
			offset: uint64(sec.Offset) + uint64(idx) + uint64(len(needle)-1),
			value:  '1',
		})
		found = true
	}
	return found, nil
}

// headerPadLimit returns the file offset of the first section with
// on-disk content, the slack boundary the header and load commands must
// fit within without displacing any existing segment's data.
func (f *File) headerPadLimit() uint64 {
	limit := ^uint64(0)
	for _, s := range f.Sections {
		if s.Offset == 0 {
			continue
		}
		if uint64(s.Offset) < limit {
			limit = uint64(s.Offset)
		}
	}
	if limit == ^uint64(0) {
		return uint64(f.TOCSize())
	}
	return limit
}

// originalExtent returns the end of file offset covered by every segment
// that was not created by this mutation pass (i.e. has no pending data),
// which is where newly appended segment data begins.
func (f *File) originalExtent() uint64 {
	var end uint64
	for _, l := range f.Loads {
		seg, ok := l.(*Segment)
		if !ok {
			continue
		}
		allPending := seg.Nsect > 0
		for i := uint32(0); i < seg.Nsect; i++ {
			if f.Sections[i+seg.Firstsect].pendingData == nil {
				allPending = false
				break
			}
		}
		if allPending {
			continue
		}
		if e := seg.Offset + seg.Filesz; e > end {
			end = e
		}
	}
	return end
}

// Bytes serializes the mutated binary: header and load commands are
// rewritten into the slack space preceding the first original section
// (headerPadLimit), all pre-existing section data is copied through
// verbatim at its original file offset, fuse patches are applied over
// that copy, and any newly added segments' payload bytes are appended
// after the original file's end, 16 KiB aligned.
func (f *File) Bytes() ([]byte, error) {
	base := f.originalExtent()

	var pending []*Section
	for _, l := range f.Loads {
		seg, ok := l.(*Segment)
		if !ok {
			continue
		}
		for i := uint32(0); i < seg.Nsect; i++ {
			sec := f.Sections[i+seg.Firstsect]
			if sec.pendingData != nil {
				off := roundUp64(base, segmentFileAlignment)
				sec.Offset = uint32(off)
				seg.Offset = off
				seg.Filesz = uint64(len(sec.pendingData))
				seg.Memsz = roundUp64(seg.Filesz, segmentFileAlignment)
				base = off + uint64(len(sec.pendingData))
				pending = append(pending, sec)
			}
		}
	}

	var hdr bytes.Buffer
	if err := f.FileHeader.Write(&hdr, f.ByteOrder); err != nil {
		return nil, fmt.Errorf("failed to write mach-o header: %v", err)
	}
	if err := f.writeLoadCommands(&hdr); err != nil {
		return nil, fmt.Errorf("failed to write load commands: %v", err)
	}

	limit := f.headerPadLimit()
	if uint64(hdr.Len()) > limit {
		return nil, fmt.Errorf("mutated load commands (%d bytes) exceed available header padding (%d bytes); rebuild the host with more headerpad", hdr.Len(), limit)
	}

	out := make([]byte, base)
	copy(out, hdr.Bytes())

	for _, orig := range f.Sections {
		if orig.pendingData != nil || orig.Offset == 0 {
			continue
		}
		data, err := orig.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read original section %s.%s: %v", orig.Seg, orig.Name, err)
		}
		copy(out[orig.Offset:], data)
	}

	for _, patch := range f.fusePatches {
		if patch.offset < uint64(len(out)) {
			out[patch.offset] = patch.value
		}
	}

	for _, sec := range pending {
		copy(out[sec.Offset:], sec.pendingData)
	}

	return out, nil
}

func roundUp64(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
