package container

// Canonical payload slot names, used as the name argument to Container.Put/
// Get/Has/Remove regardless of which format a given driver wraps. Each
// driver translates these into its format's native addressing scheme via
// the tables below — the single source of truth spec.md §6 calls for,
// avoiding three copies of the same name family across machoc/elfc/pec.
const (
	NodeSEABlob = "NODE_SEA_BLOB"
	SmolVFSBlob = "SMOL_VFS_BLOB"
	PressedData = "PRESSED_DATA"
)

// MachOSegment returns the segment a canonical slot name lives in. The SEA
// and VFS blobs share the NODE_SEA segment; the compressed-stub payload
// lives in its own SMOL segment.
func MachOSegment(name string) string {
	if name == PressedData {
		return "SMOL"
	}
	return "NODE_SEA"
}

// MachOSection returns the double-underscore-prefixed section name Mach-O
// uses for a canonical slot name.
func MachOSection(name string) string {
	switch name {
	case NodeSEABlob:
		return "__NODE_SEA_BLOB"
	case SmolVFSBlob:
		return "__SMOL_VFS_BLOB"
	case PressedData:
		return "__PRESSED_DATA"
	default:
		return "__" + name
	}
}

// ELFNoteOwner returns the PT_NOTE owner name for a canonical slot name.
// ELF notes use the canonical name verbatim as the owner.
func ELFNoteOwner(name string) string {
	return name
}

// PEResourceName returns the uppercased RT_RCDATA resource name for a
// canonical slot name. Only the SEA and VFS blobs are PE resources; the
// compressed-stub payload is a dedicated section handled separately by
// PESectionName.
func PEResourceName(name string) string {
	return name
}

// PESectionName returns the raw PE section name used for the
// compressed-stub payload, which — unlike the SEA/VFS blobs — is not a
// .rsrc resource but a standalone section.
func PESectionName() string {
	return ".pressed_data"
}

// IsPESection reports whether a canonical slot name is carried as a raw PE
// section (true only for the compressed-stub payload) rather than an
// RT_RCDATA resource.
func IsPESection(name string) bool {
	return name == PressedData
}
