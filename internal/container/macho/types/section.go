package types

import "fmt"

// A Section32 is a 32-bit Mach-O section header, embedded inline after its
// owning LC_SEGMENT load command.
type Section32 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint32
	Size     uint32
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
}

// A Section64 is a 64-bit Mach-O section header, embedded inline after its
// owning LC_SEGMENT_64 load command.
type Section64 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
	Reserve3 uint32
}

// A SectionFlag holds a section's type (low byte) and attributes (remaining
// three bytes), matching the packed layout of the on-disk `flags` field.
type SectionFlag uint32

const (
	SectionTypeMask       SectionFlag = 0x000000ff
	SectionAttributesMask SectionFlag = 0xffffff00

	SectionRegular            SectionFlag = 0x0
	SectionZerofill           SectionFlag = 0x1
	SectionCStringLiterals    SectionFlag = 0x2
	SectionFourByteLiterals   SectionFlag = 0x3
	SectionEightByteLiterals  SectionFlag = 0x4
	SectionLiteralPointers    SectionFlag = 0x5
	SectionNonLazySymbols     SectionFlag = 0x6
	SectionLazySymbols        SectionFlag = 0x7
	SectionSymbolStubs        SectionFlag = 0x8
	SectionModInitFuncs       SectionFlag = 0x9
	SectionModTermFuncs       SectionFlag = 0xa
	SectionCoalesced          SectionFlag = 0xb
	SectionGBZerofill         SectionFlag = 0xc
	SectionInterposing        SectionFlag = 0xd
	SectionSixteenByteLit     SectionFlag = 0xe
	SectionDtraceDof          SectionFlag = 0xf
	SectionLazyDylibSymbols   SectionFlag = 0x10
	SectionThreadLocalRegular SectionFlag = 0x11
	SectionThreadLocalZeroFil SectionFlag = 0x12

	SectionAttrPureInstructions SectionFlag = 0x80000000
	SectionAttrNoTOC            SectionFlag = 0x40000000
	SectionAttrStripStaticSyms  SectionFlag = 0x20000000
	SectionAttrNoDeadStrip      SectionFlag = 0x10000000
	SectionAttrLiveSupport      SectionFlag = 0x08000000
	SectionAttrSelfModifying    SectionFlag = 0x04000000
	SectionAttrDebug            SectionFlag = 0x02000000
	SectionAttrSomeInstructions SectionFlag = 0x00000400
	SectionAttrExtReloc         SectionFlag = 0x00000200
	SectionAttrLocReloc         SectionFlag = 0x00000100
)

// Type returns the section's type (the low byte of the flags field).
func (f SectionFlag) Type() SectionFlag {
	return f & SectionTypeMask
}

// IsRegular reports whether the section carries no special type or
// attribute bits, i.e. it is ordinary code or data.
func (f SectionFlag) IsRegular() bool {
	return f == SectionRegular
}

var sectionTypeNames = map[SectionFlag]string{
	SectionZerofill:           "ZEROFILL",
	SectionCStringLiterals:    "CSTRING_LITERALS",
	SectionFourByteLiterals:   "4BYTE_LITERALS",
	SectionEightByteLiterals:  "8BYTE_LITERALS",
	SectionLiteralPointers:    "LITERAL_POINTERS",
	SectionNonLazySymbols:     "NON_LAZY_SYMBOL_POINTERS",
	SectionLazySymbols:        "LAZY_SYMBOL_POINTERS",
	SectionSymbolStubs:        "SYMBOL_STUBS",
	SectionModInitFuncs:       "MOD_INIT_FUNC_POINTERS",
	SectionModTermFuncs:       "MOD_TERM_FUNC_POINTERS",
	SectionCoalesced:          "COALESCED",
	SectionGBZerofill:         "GB_ZEROFILL",
	SectionInterposing:        "INTERPOSING",
	SectionSixteenByteLit:     "16BYTE_LITERALS",
	SectionDtraceDof:          "DTRACE_DOF",
	SectionLazyDylibSymbols:   "LAZY_DYLIB_SYMBOL_POINTERS",
	SectionThreadLocalRegular: "THREAD_LOCAL_REGULAR",
	SectionThreadLocalZeroFil: "THREAD_LOCAL_ZEROFILL",
}

func (f SectionFlag) String() string {
	if name, ok := sectionTypeNames[f.Type()]; ok {
		return name
	}
	return fmt.Sprintf("S_%#x", uint32(f.Type()))
}

// AttributesString renders the attribute bits (everything above the type
// byte) as a comma-separated list, empty when none are set.
func (f SectionFlag) AttributesString() string {
	attrs := f & SectionAttributesMask
	var s string
	add := func(bit SectionFlag, name string) {
		if attrs&bit != 0 {
			if s != "" {
				s += ","
			}
			s += name
		}
	}
	add(SectionAttrPureInstructions, "PURE_INSTRUCTIONS")
	add(SectionAttrNoTOC, "NO_TOC")
	add(SectionAttrStripStaticSyms, "STRIP_STATIC_SYMS")
	add(SectionAttrNoDeadStrip, "NO_DEAD_STRIP")
	add(SectionAttrLiveSupport, "LIVE_SUPPORT")
	add(SectionAttrSelfModifying, "SELF_MODIFYING_CODE")
	add(SectionAttrDebug, "DEBUG")
	add(SectionAttrSomeInstructions, "SOME_INSTRUCTIONS")
	add(SectionAttrExtReloc, "EXT_RELOC")
	add(SectionAttrLocReloc, "LOC_RELOC")
	return s
}
