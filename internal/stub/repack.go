// Repack implements the compressed-stub rebuild algorithm of spec.md
// §4.4: given a stub and a (possibly modified) inner binary, produce a
// new stub embedding a freshly compressed copy of that inner binary
// under a freshly derived cache key.
package stub

import (
	"fmt"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/cachekey"
	"github.com/SocketDev/socket-btm-sub000/internal/compress"
	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/container/macho"
	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// Repack rebuilds originalStubPath into outputPath, replacing its
// embedded compressed inner binary with a fresh compression of
// innerPath. The seven steps below follow spec.md §4.4's ordering
// exactly: in particular the inner binary is ad-hoc signed (step 1)
// before it is ever compressed, and the rebuilt stub is re-signed
// (step 6) only after its PRESSED_DATA slot has already been replaced
// — mutating the container before touching its signature, the inverse
// of what intuition suggests, is what keeps the Mach-O driver's own
// parser from choking on a signature that no longer matches the bytes
// it was computed over.
func Repack(originalStubPath, innerPath, outputPath string) error {
	// Step 1: ad-hoc codesign the (possibly rebuilt) inner binary on
	// macOS. No-op on every other host.
	if err := macho.SignAdHoc(innerPath); err != nil {
		return fmt.Errorf("%w: signing inner binary: %v", rerr.ErrWriteFailed, err)
	}

	innerData, err := os.ReadFile(innerPath)
	if err != nil {
		return fmt.Errorf("%w: reading inner binary %s: %v", rerr.ErrFileNotFound, innerPath, err)
	}

	// Step 2: compress the inner binary into a temporary compressed
	// buffer. There is no on-disk intermediate file here — Compress
	// already holds the whole result in memory, so "the temp
	// compressed file" of spec.md is represented by compressed below
	// and only ever touches disk as part of the final stub write.
	compressed, err := compress.Compress(innerData)
	if err != nil {
		return err
	}

	// Step 3: derive the new cache key from the freshly compressed bytes.
	newKey := cachekey.Derive(compressed)

	// Step 4: build the new PRESSED_DATA payload.
	pd := &PressedData{
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: uint64(len(innerData)),
		CacheKey:         newKey,
		Platform:         CurrentPlatformTriple(),
		Compressed:       compressed,
	}
	encoded, err := Encode(pd)
	if err != nil {
		return fmt.Errorf("%w: encoding new compressed-stub payload: %v", rerr.ErrInvalidFormat, err)
	}

	// Step 5: replace the stub's PRESSED_DATA slot via the
	// format-appropriate container driver, in one parse/write cycle.
	// Mach-O: the SMOL segment is removed here and Put recreates it;
	// ELF: Put rewrites the note, keeping the program header table at
	// its file offset; PE: Put appends a replacement .pressed_data.
	format := detect.File(originalStubPath)
	if format == detect.Unknown {
		return fmt.Errorf("%w: %s: unrecognized executable format", rerr.ErrInvalidFormat, originalStubPath)
	}
	c, err := container.Open(originalStubPath)
	if err != nil {
		return err
	}
	if format == detect.MachO {
		// Drop the whole SMOL segment so Put recreates it from scratch.
		if err := c.Remove(container.PressedData); err != nil {
			return fmt.Errorf("%w: removing SMOL segment: %v", rerr.ErrWriteFailed, err)
		}
	}
	if err := c.Put(container.PressedData, encoded, true); err != nil {
		return fmt.Errorf("%w: replacing compressed-stub payload: %v", rerr.ErrWriteFailed, err)
	}
	if err := c.Save(outputPath); err != nil {
		return err
	}

	// Step 6: ad-hoc codesign the rebuilt stub on macOS, after its
	// contents are already final.
	if err := macho.SignAdHoc(outputPath); err != nil {
		return fmt.Errorf("%w: signing rebuilt stub: %v", rerr.ErrWriteFailed, err)
	}

	// Step 7: nothing written the compressed buffer to a standalone
	// temp file, so there is nothing left to clean up here; the
	// buffer is simply released with this function's return.
	return nil
}
