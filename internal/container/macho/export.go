package macho

import (
	"bytes"
	"fmt"

	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
)

// writeLoadCommands serializes every load command in f.Loads to buf in
// file order, dispatching on command type so fixed-size fields round-trip
// exactly. Segments also emit their section headers inline, matching the
// on-disk layout (section headers immediately follow their owning segment
// command). Unrecognized command types fall back to their raw captured
// bytes, the same defensive path the parser uses for unknown loads.
func (f *File) writeLoadCommands(buf *bytes.Buffer) error {
	for _, l := range f.Loads {
		switch l.Command() {
		case types.LC_SEGMENT:
			fallthrough
		case types.LC_SEGMENT_64:
			seg := l.(*Segment)
			if err := seg.Write(buf, f.ByteOrder); err != nil {
				return err
			}
			for i := uint32(0); i < seg.Nsect; i++ {
				if err := f.Sections[i+seg.Firstsect].Write(buf, f.ByteOrder); err != nil {
					return err
				}
			}
		case types.LC_SYMTAB:
			if err := l.(*Symtab).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYSYMTAB:
			if err := l.(*Dysymtab).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_CODE_SIGNATURE:
			if err := l.(*CodeSignature).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_ENCRYPTION_INFO:
			if err := l.(*EncryptionInfo).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYLD_INFO:
			if err := l.(*DyldInfo).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYLD_INFO_ONLY:
			if err := l.(*DyldInfoOnly).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_FUNCTION_STARTS:
			if err := l.(*FunctionStarts).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_MAIN:
			if err := l.(*EntryPoint).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DATA_IN_CODE:
			if err := l.(*DataInCode).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYLIB_CODE_SIGN_DRS:
			if err := l.(*DylibCodeSignDrs).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_ENCRYPTION_INFO_64:
			if err := l.(*EncryptionInfo64).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_LINKER_OPTIMIZATION_HINT:
			if err := l.(*LinkerOptimizationHint).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYLD_EXPORTS_TRIE:
			if err := l.(*DyldExportsTrie).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_DYLD_CHAINED_FIXUPS:
			if err := l.(*DyldChainedFixups).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		case types.LC_FILESET_ENTRY:
			if err := l.(*FilesetEntry).Write(buf, f.ByteOrder); err != nil {
				return err
			}
		default:
			if _, err := buf.Write(l.Raw()); err != nil {
				return fmt.Errorf("failed to write %s to buffer: %v", l.Command().String(), err)
			}
		}
	}
	return nil
}
