package pec

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unicode/utf16"
)

// resKey identifies one resource by (type ID, name) — spec.md §4.2.3 only
// ever addresses RT_RCDATA resources by a named entry, so a single
// language entry (LANG_NEUTRAL) per name is all this driver models.
type resKey struct {
	typ  uint32
	name string
}

// resourceDir is an in-memory, fully decoded view of a `.rsrc` directory
// tree, scoped to the resource types this driver manages. Any other
// top-level resource type (icons, version info, manifests) present in an
// existing `.rsrc` is intentionally not round-tripped — see DESIGN.md for
// the scope decision — so Put/Remove never claim to preserve them.
type resourceDir struct {
	entries map[resKey][]byte
}

func newResourceTree() *resourceDir {
	return &resourceDir{entries: make(map[resKey][]byte)}
}

func (t *resourceDir) find(typ uint32, name string) ([]byte, bool) {
	v, ok := t.entries[resKey{typ, name}]
	return v, ok
}

func (t *resourceDir) put(typ uint32, name string, data []byte) {
	t.entries[resKey{typ, name}] = append([]byte(nil), data...)
}

func (t *resourceDir) remove(typ uint32, name string) {
	delete(t.entries, resKey{typ, name})
}

const (
	resDirHdrSize   = 16
	resDirEntrySize = 8
	resDataEntrySize = 16
	highBit         = 0x80000000
)

// parseResourceTree decodes the RT_RCDATA subtree of a `.rsrc` section's
// raw bytes (sectionVA is that section's mapped virtual address, needed
// to turn a data entry's RVA back into an offset within data). Malformed
// or unrecognized sub-structures are skipped rather than treated as fatal
// — a best-effort read mirrors how debug/pe itself tolerates resource
// trees it doesn't fully understand.
func parseResourceTree(data []byte, sectionVA uint32) (*resourceDir, error) {
	t := newResourceTree()
	if len(data) < resDirHdrSize {
		return nil, fmt.Errorf("resource section too small for a root directory")
	}

	named := int(binary.LittleEndian.Uint16(data[12:14]))
	ids := int(binary.LittleEndian.Uint16(data[14:16]))
	total := named + ids
	for i := 0; i < total; i++ {
		eoff := resDirHdrSize + i*resDirEntrySize
		if eoff+resDirEntrySize > len(data) {
			break
		}
		nameOrID := binary.LittleEndian.Uint32(data[eoff : eoff+4])
		offsetToData := binary.LittleEndian.Uint32(data[eoff+4 : eoff+8])
		if nameOrID != rtRCData {
			continue
		}
		if offsetToData&highBit == 0 {
			continue // a type-level entry must point at a subdirectory
		}
		parseRCDataSubdir(data, sectionVA, offsetToData&^highBit, t)
	}
	return t, nil
}

func parseRCDataSubdir(data []byte, sectionVA, off uint32, t *resourceDir) {
	if int(off)+resDirHdrSize > len(data) {
		return
	}
	named := int(binary.LittleEndian.Uint16(data[off+12 : off+14]))
	ids := int(binary.LittleEndian.Uint16(data[off+14 : off+16]))
	total := named + ids
	for i := 0; i < total; i++ {
		eoff := int(off) + resDirHdrSize + i*resDirEntrySize
		if eoff+resDirEntrySize > len(data) {
			break
		}
		nameOrID := binary.LittleEndian.Uint32(data[eoff : eoff+4])
		offsetToData := binary.LittleEndian.Uint32(data[eoff+4 : eoff+8])
		if nameOrID&highBit == 0 {
			continue // only named entries carry the payload names we manage
		}
		name, ok := decodeResourceString(data, nameOrID&^highBit)
		if !ok || offsetToData&highBit == 0 {
			continue
		}
		langOff := offsetToData &^ highBit
		dataEntryOff, ok := firstLangDataEntry(data, langOff)
		if !ok {
			continue
		}
		payload, ok := readDataEntry(data, sectionVA, dataEntryOff)
		if !ok {
			continue
		}
		t.entries[resKey{typ: rtRCData, name: name}] = payload
	}
}

func firstLangDataEntry(data []byte, off uint32) (uint32, bool) {
	if int(off)+resDirHdrSize+resDirEntrySize > len(data) {
		return 0, false
	}
	eoff := int(off) + resDirHdrSize
	offsetToData := binary.LittleEndian.Uint32(data[eoff+4 : eoff+8])
	if offsetToData&highBit != 0 {
		return 0, false // a nested subdirectory where a data entry was expected
	}
	return offsetToData, true
}

func readDataEntry(data []byte, sectionVA, off uint32) ([]byte, bool) {
	if int(off)+resDataEntrySize > len(data) {
		return nil, false
	}
	rva := binary.LittleEndian.Uint32(data[off : off+4])
	size := binary.LittleEndian.Uint32(data[off+4 : off+8])
	if rva < sectionVA {
		return nil, false
	}
	start := rva - sectionVA
	if uint64(start)+uint64(size) > uint64(len(data)) {
		return nil, false
	}
	return append([]byte(nil), data[start:start+size]...), true
}

func decodeResourceString(data []byte, off uint32) (string, bool) {
	if int(off)+2 > len(data) {
		return "", false
	}
	n := int(binary.LittleEndian.Uint16(data[off : off+2]))
	start := int(off) + 2
	if start+2*n > len(data) {
		return "", false
	}
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = binary.LittleEndian.Uint16(data[start+2*i : start+2*i+2])
	}
	return string(utf16.Decode(units)), true
}

// utf16Name renders name the way a named resource directory entry stores
// it: a 2-byte length prefix followed by UTF-16LE code units, no NUL
// terminator, per IMAGE_RESOURCE_DIR_STRING_U.
func utf16Name(name string) []byte {
	units := utf16.Encode([]rune(name))
	out := make([]byte, 2+2*len(units))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(units)))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2+2*i:4+2*i], u)
	}
	return out
}

// serialize lays out a brand new resource-directory tree from scratch,
// containing only the entries this driver tracks: one type-level
// directory (RT_RCDATA), one named entry per resource, one LANG_NEUTRAL
// language entry per name, then the data entries, name strings, and data
// blocks in that fixed order. sectionVA is the virtual address the
// caller intends to map this content at, needed up front since each
// IMAGE_RESOURCE_DATA_ENTRY stores an absolute RVA rather than a
// section-relative offset.
func (t *resourceDir) serialize(sectionVA uint32) []byte {
	byType := make(map[uint32][]string)
	for k := range t.entries {
		byType[k.typ] = append(byType[k.typ], k.name)
	}
	var types []uint32
	for typ, names := range byType {
		sort.Strings(names)
		byType[typ] = names
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	offset := uint32(resDirHdrSize + len(types)*resDirEntrySize)

	type typeLayout struct {
		typ       uint32
		names     []string
		subdirOff uint32
	}
	typeLayouts := make([]typeLayout, 0, len(types))
	for _, typ := range types {
		names := byType[typ]
		tl := typeLayout{typ: typ, names: names, subdirOff: offset}
		offset += uint32(resDirHdrSize + len(names)*resDirEntrySize)
		typeLayouts = append(typeLayouts, tl)
	}

	langOff := make(map[resKey]uint32)
	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			langOff[resKey{tl.typ, name}] = offset
			offset += resDirHdrSize + resDirEntrySize
		}
	}

	dataEntryOff := make(map[resKey]uint32)
	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			dataEntryOff[resKey{tl.typ, name}] = offset
			offset += resDataEntrySize
		}
	}

	stringOff := make(map[resKey]uint32)
	stringBytes := make(map[resKey][]byte)
	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			b := utf16Name(name)
			stringBytes[k] = b
			stringOff[k] = offset
			offset += uint32(len(b))
		}
	}

	dataOff := make(map[resKey]uint32)
	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			offset = roundUp32(offset, 4)
			dataOff[k] = offset
			offset += uint32(len(t.entries[k]))
		}
	}

	buf := make([]byte, offset)

	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(typeLayouts)))
	for i, tl := range typeLayouts {
		eoff := resDirHdrSize + i*resDirEntrySize
		binary.LittleEndian.PutUint32(buf[eoff:eoff+4], tl.typ)
		binary.LittleEndian.PutUint32(buf[eoff+4:eoff+8], tl.subdirOff|highBit)
	}

	for _, tl := range typeLayouts {
		p := tl.subdirOff
		binary.LittleEndian.PutUint16(buf[p+12:p+14], uint16(len(tl.names)))
		for i, name := range tl.names {
			k := resKey{tl.typ, name}
			eoff := p + resDirHdrSize + uint32(i)*resDirEntrySize
			binary.LittleEndian.PutUint32(buf[eoff:eoff+4], stringOff[k]|highBit)
			binary.LittleEndian.PutUint32(buf[eoff+4:eoff+8], langOff[k]|highBit)
		}
	}

	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			p := langOff[k]
			binary.LittleEndian.PutUint16(buf[p+14:p+16], 1)
			eoff := p + resDirHdrSize
			binary.LittleEndian.PutUint32(buf[eoff:eoff+4], 0) // LANG_NEUTRAL
			binary.LittleEndian.PutUint32(buf[eoff+4:eoff+8], dataEntryOff[k])
		}
	}

	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			p := dataEntryOff[k]
			payload := t.entries[k]
			binary.LittleEndian.PutUint32(buf[p:p+4], sectionVA+dataOff[k])
			binary.LittleEndian.PutUint32(buf[p+4:p+8], uint32(len(payload)))
		}
	}

	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			copy(buf[stringOff[k]:], stringBytes[k])
		}
	}

	for _, tl := range typeLayouts {
		for _, name := range tl.names {
			k := resKey{tl.typ, name}
			copy(buf[dataOff[k]:], t.entries[k])
		}
	}

	return buf
}
