// Package compress implements the rewriter's compress/decompress contract
// (spec.md §4.3) over compress/zlib. No LZFSE binding exists anywhere in
// the retrieval pack this module was grounded on, and the teacher itself
// already leans on compress/zlib for an analogous "compressed region
// inside a container" concern (decompressing __TEXT __unwind_info and
// dyld-shared-cache sections in cmds.go), so the interface below is
// shaped to be a one-file swap if an LZFSE binding ever becomes
// available: Compress/Decompress never leak the codec into callers.
package compress

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// MaxDecompressedSize is the hard cap on decompressed output, matching
// spec.md §4.3. Exceeding it is a fatal error, not a truncation.
const MaxDecompressedSize = 512 * 1024 * 1024

// Compress returns the zlib-compressed form of in.
func Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates in. When expectedSize is positive, the decompressed
// length must equal it (checked after inflating); either way, the cap
// is enforced by reading at most MaxDecompressedSize+1 bytes so an
// adversarial stream can't exhaust memory before the check fires.
func Decompress(in []byte, expectedSize int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrDecompressionFailed, err)
	}
	defer r.Close()

	limited := io.LimitReader(r, MaxDecompressedSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrDecompressionFailed, err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d byte cap", rerr.ErrDecompressionFailed, MaxDecompressedSize)
	}
	if expectedSize > 0 && int64(len(out)) != expectedSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", rerr.ErrDecompressionFailed, len(out), expectedSize)
	}
	return out, nil
}
