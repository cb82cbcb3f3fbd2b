// Package container defines the uniform Executable Container contract
// implemented per-format by internal/container/machoc, internal/container/elfc,
// and internal/container/pec, and the format-dispatching Open that picks
// among them using internal/detect. This mirrors the teacher's own
// "one concrete File type per concern, uniform accessor methods" shape
// (compare blacktop/go-macho's Segment/Section getters) lifted one level
// up so the three format drivers look identical from the command surface.
package container

import "github.com/SocketDev/socket-btm-sub000/internal/detect"

// Container is a parsed executable with named payload slots. Put/Remove
// mutate in-memory state only; Save performs the actual write, following
// the same "mutate now, write once" lifecycle blacktop/go-macho's File
// itself uses for load commands.
type Container interface {
	// Format reports which container format this handle was parsed as.
	Format() detect.Format

	// Has reports whether the named payload slot is present.
	Has(name string) bool

	// Get returns the raw bytes of the named payload slot.
	Get(name string) ([]byte, error)

	// Put writes data into the named payload slot, creating or replacing
	// it. overwrite=false on an existing slot returns rerr.ErrSectionExists;
	// the command surface always calls with overwrite=true per spec.
	Put(name string, data []byte, overwrite bool) error

	// Remove deletes the named payload slot. No-op if absent.
	Remove(name string) error

	// Save re-emits the container to path using the Integrity Layer's
	// atomic write discipline, running any format-specific re-signing
	// or rebuild step first.
	Save(path string) error
}
