package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
)

// FatArch describes one architecture slice of a universal binary: its CPU
// selector and its byte range within the fat container. Align is stored as
// a power-of-two exponent, matching the on-disk fat_arch/fat_arch_64
// layout, not the resulting byte alignment itself.
type FatArch struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint64
	Size   uint64
	Align  uint32
}

// FatFile is a parsed universal (fat) Mach-O container: a small header and
// arch table followed by one complete thin Mach-O per architecture. The
// underlying parsing library this package extends treats fat files as a
// single-slice special case it never implemented (FileTOC.HdrSize's
// "MagicFat not handled yet" panic); FatFile replaces that gap with a real
// multi-slice reader/rebuilder.
type FatFile struct {
	Magic  types.Magic
	Arches []FatArch

	sr     io.ReaderAt
	closer io.Closer
}

const (
	fatArchSize   = 5 * 4                 // cputype, cpusubtype, offset, size, align (fat_arch)
	fatArch64Size = 4 + 4 + 8 + 8 + 4 + 4 // cputype, cpusubtype, offset (u64), size (u64), align, reserved (fat_arch_64)
)

// OpenFat opens the named file using os.Open and parses it as a universal
// Mach-O binary.
func OpenFat(name string) (*FatFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFatFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// NewFatFile parses a universal Mach-O header and arch table from r. The
// header and arch table are always big-endian, per the fat binary format,
// regardless of the endianness of the slices it contains.
func NewFatFile(r io.ReaderAt) (*FatFile, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[0:], 0); err != nil {
		return nil, fmt.Errorf("failed to read fat header: %v", err)
	}
	magic := types.Magic(binary.BigEndian.Uint32(hdr[0:4]))
	if magic != types.MagicFat && magic != types.MagicFat64 {
		return nil, &FormatError{0, "not a fat Mach-O file", nil}
	}
	nArch := binary.BigEndian.Uint32(hdr[4:8])
	if nArch == 0 || nArch > 64 {
		return nil, &FormatError{4, "implausible fat_arch count", nArch}
	}

	ff := &FatFile{Magic: magic, sr: r}
	entrySize := fatArchSize
	if magic == types.MagicFat64 {
		entrySize = fatArch64Size
	}

	buf := make([]byte, int(nArch)*entrySize)
	if _, err := r.ReadAt(buf, 8); err != nil {
		return nil, fmt.Errorf("failed to read fat arch table: %v", err)
	}

	for i := 0; i < int(nArch); i++ {
		e := buf[i*entrySize : (i+1)*entrySize]
		var a FatArch
		a.CPU = types.CPU(binary.BigEndian.Uint32(e[0:4]))
		a.SubCPU = types.CPUSubtype(binary.BigEndian.Uint32(e[4:8]))
		if magic == types.MagicFat64 {
			a.Offset = binary.BigEndian.Uint64(e[8:16])
			a.Size = binary.BigEndian.Uint64(e[16:24])
			a.Align = binary.BigEndian.Uint32(e[24:28])
		} else {
			a.Offset = uint64(binary.BigEndian.Uint32(e[8:12]))
			a.Size = uint64(binary.BigEndian.Uint32(e[12:16]))
			a.Align = binary.BigEndian.Uint32(e[16:20])
		}
		ff.Arches = append(ff.Arches, a)
	}
	return ff, nil
}

// Close closes the underlying file, if FatFile owns one.
func (ff *FatFile) Close() error {
	if ff.closer != nil {
		err := ff.closer.Close()
		ff.closer = nil
		return err
	}
	return nil
}

// Slice parses architecture slice i as a standalone thin Mach-O file.
func (ff *FatFile) Slice(i int) (*File, error) {
	if i < 0 || i >= len(ff.Arches) {
		return nil, fmt.Errorf("fat slice index %d out of range (have %d)", i, len(ff.Arches))
	}
	a := ff.Arches[i]
	sr := io.NewSectionReader(ff.sr, int64(a.Offset), int64(a.Size))
	return NewFile(sr)
}

// Rebuild re-emits the fat container, substituting mutated[i] for any slice
// whose index is present (the bytes of a File.Bytes() call on that slice)
// and copying every other slice through verbatim from the original file.
// Offsets are recomputed sequentially, honoring each arch's declared
// alignment, since a mutated slice rarely keeps its original size.
func (ff *FatFile) Rebuild(mutated map[int][]byte) ([]byte, error) {
	entrySize := fatArchSize
	if ff.Magic == types.MagicFat64 {
		entrySize = fatArch64Size
	}
	headerLen := 8 + len(ff.Arches)*entrySize

	slices := make([][]byte, len(ff.Arches))
	for i, a := range ff.Arches {
		if b, ok := mutated[i]; ok {
			slices[i] = b
			continue
		}
		raw := make([]byte, a.Size)
		if _, err := ff.sr.ReadAt(raw, int64(a.Offset)); err != nil {
			return nil, fmt.Errorf("failed to copy unmodified fat slice %d: %v", i, err)
		}
		slices[i] = raw
	}

	newOffsets := make([]uint64, len(ff.Arches))
	cursor := uint64(headerLen)
	for i, a := range ff.Arches {
		align := uint64(1) << a.Align
		if align == 0 {
			align = 1
		}
		cursor = roundUp64(cursor, align)
		newOffsets[i] = cursor
		cursor += uint64(len(slices[i]))
	}

	buf := new(bytes.Buffer)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(ff.Magic))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(ff.Arches)))
	buf.Write(hdr[:])

	for i, a := range ff.Arches {
		e := make([]byte, entrySize)
		binary.BigEndian.PutUint32(e[0:4], uint32(a.CPU))
		binary.BigEndian.PutUint32(e[4:8], uint32(a.SubCPU))
		if ff.Magic == types.MagicFat64 {
			binary.BigEndian.PutUint64(e[8:16], newOffsets[i])
			binary.BigEndian.PutUint64(e[16:24], uint64(len(slices[i])))
			binary.BigEndian.PutUint32(e[24:28], a.Align)
		} else {
			binary.BigEndian.PutUint32(e[8:12], uint32(newOffsets[i]))
			binary.BigEndian.PutUint32(e[12:16], uint32(len(slices[i])))
			binary.BigEndian.PutUint32(e[16:20], a.Align)
		}
		buf.Write(e)
	}

	for i, off := range newOffsets {
		if pad := int64(off) - int64(buf.Len()); pad > 0 {
			buf.Write(make([]byte, pad))
		}
		buf.Write(slices[i])
	}
	return buf.Bytes(), nil
}
