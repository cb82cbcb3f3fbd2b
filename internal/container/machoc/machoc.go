// Package machoc adapts the Mach-O parser/mutator in
// internal/container/macho to the container.Container interface,
// implementing spec.md §4.2.1's put/remove/write semantics: code-signature
// removal after segment mutation (never before — see the parser-bug-
// avoidance ordering note), fuse flipping on SEA injection, ad-hoc
// re-signing after write, and the "first slice only" simplification for
// fat (universal) binaries with an opt-in to mutate every slice.
package machoc

import (
	"fmt"
	"runtime"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/integrity"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
	"github.com/SocketDev/socket-btm-sub000/internal/rlog"
)

// rwx and readOnly are the two VM protection combinations spec.md §4.2.1
// assigns to newly created segments: NODE_SEA (read+write+execute, since
// the host interpreter maps the blob directly) and SMOL (read-only, since
// the compressed stub payload is never executed in place).
const (
	rwx      = types.VmProtection(7)
	readOnly = types.VmProtection(1)
)

// Driver wraps a parsed Mach-O (thin or fat) and tracks which canonical
// slot names were touched by a SEA put, so Save knows whether to run fuse
// flipping before the final write.
type Driver struct {
	path      string
	thin      *macho.File
	fat       *macho.FatFile
	allSlices bool
	sawSEA    bool

	cached []*macho.File // lazily parsed fat slices, reused across calls so mutations persist
}

// Open parses path as a Mach-O container, operating on the first
// architecture slice if the file is a fat (universal) binary — the
// acknowledged simplification of spec.md §4.2.1/§9.
func Open(path string) (container.Container, error) {
	return open(path, false)
}

// OpenAllSlices parses path the same way Open does, but a subsequent Save
// applies every queued mutation to every architecture slice of a fat
// binary instead of only the first, per the fat-handling supplement of
// SPEC_FULL.md §6.
func OpenAllSlices(path string) (container.Container, error) {
	return open(path, true)
}

func open(path string, allSlices bool) (container.Container, error) {
	if detect.File(path) != detect.MachO {
		return nil, fmt.Errorf("%w: %s: not a Mach-O file", rerr.ErrInvalidFormat, path)
	}

	if ff, err := macho.OpenFat(path); err == nil {
		return &Driver{path: path, fat: ff, allSlices: allSlices}, nil
	}

	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
	}
	return &Driver{path: path, thin: f}, nil
}

func (d *Driver) Format() detect.Format { return detect.MachO }

// slices returns every thin File this driver acts on: the single thin
// file, or slice 0 of a fat file (plus every remaining slice when
// allSlices is set). Fat slices are parsed once and cached so that a Put
// followed by a Save (or a second Put) observes earlier mutations instead
// of re-parsing a pristine copy from the original reader each time.
func (d *Driver) slices() ([]*macho.File, func(), error) {
	if d.thin != nil {
		return []*macho.File{d.thin}, func() {}, nil
	}

	n := 1
	if d.allSlices {
		n = len(d.fat.Arches)
	}
	if len(d.cached) < n {
		for i := len(d.cached); i < n; i++ {
			f, err := d.fat.Slice(i)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsing fat slice %d: %v", rerr.ErrInvalidFormat, i, err)
			}
			d.cached = append(d.cached, f)
		}
	}
	return d.cached[:n], func() {}, nil
}

func (d *Driver) Has(name string) bool {
	files, _, err := d.slices()
	if err != nil || len(files) == 0 {
		return false
	}
	return files[0].Section(container.MachOSegment(name), container.MachOSection(name)) != nil
}

func (d *Driver) Get(name string) ([]byte, error) {
	files, _, err := d.slices()
	if err != nil {
		return nil, err
	}
	sec := files[0].Section(container.MachOSegment(name), container.MachOSection(name))
	if sec == nil {
		return nil, fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
	}
	return sec.Data()
}

func (d *Driver) Put(name string, data []byte, overwrite bool) error {
	files, _, err := d.slices()
	if err != nil {
		return err
	}
	for _, f := range files {
		if !overwrite && f.Section(container.MachOSegment(name), container.MachOSection(name)) != nil {
			return fmt.Errorf("%w: %s", rerr.ErrSectionExists, name)
		}

		prot := rwx
		if container.MachOSegment(name) == "SMOL" {
			prot = readOnly
		}
		f.PutSection(container.MachOSegment(name), container.MachOSection(name), data, prot)

		if name == container.NodeSEABlob {
			d.sawSEA = true
		}
	}
	return nil
}

func (d *Driver) Remove(name string) error {
	files, _, err := d.slices()
	if err != nil {
		return err
	}
	for _, f := range files {
		f.RemoveSegment(container.MachOSegment(name))
	}
	return nil
}

// Save applies the write-side contract of spec.md §4.2.1 steps 1, 6, 7, 8:
// remove any code signature only after every segment/section mutation has
// been queued, flip the fuse if a SEA payload was put, serialize, write
// atomically, and ad-hoc re-sign on macOS.
func (d *Driver) Save(path string) error {
	files, cleanup, err := d.slices()
	if err != nil {
		return err
	}
	defer cleanup()

	mutated := make(map[int][]byte, len(files))
	for i, f := range files {
		f.RemoveCodeSignature()

		if d.sawSEA {
			if found, err := f.FlipFuse(); err != nil {
				return fmt.Errorf("%w: flipping fuse: %v", rerr.ErrWriteFailed, err)
			} else if !found {
				rlog.Warnf("fuse literal not found; binary may not support SEA")
			}
		}

		out, err := f.Bytes()
		if err != nil {
			return fmt.Errorf("%w: serializing Mach-O: %v", rerr.ErrWriteFailed, err)
		}
		mutated[i] = out
	}

	var final []byte
	if d.thin != nil {
		final = mutated[0]
	} else {
		final, err = d.fat.Rebuild(mutated)
		if err != nil {
			return fmt.Errorf("%w: rebuilding fat container: %v", rerr.ErrWriteFailed, err)
		}
	}

	if err := integrity.WriteExecutableFile(path, final); err != nil {
		return err
	}

	if runtime.GOOS == "darwin" {
		if err := macho.SignAdHoc(path); err != nil {
			return fmt.Errorf("%w: %v", rerr.ErrWriteFailed, err)
		}
	}
	return nil
}
