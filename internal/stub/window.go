package stub

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// Detection window sizes, spec.md §4.4: how far into the file the scan
// looks for Marker, tuned per container format since each format's
// loader stub is a different size (the ELF stub links in a much larger
// static runtime, hence its wider window).
const (
	WindowMachO = 64 * 1024
	WindowPE    = 128 * 1024
	WindowELF   = 1408 * 1024
)

func windowSize(f detect.Format) int {
	switch f {
	case detect.MachO:
		return WindowMachO
	case detect.PE:
		return WindowPE
	case detect.ELF:
		return WindowELF
	default:
		return WindowELF
	}
}

// Detect scans the leading detection window of path for Marker. Only
// the window needs to hold the marker and the fixed header that
// follows it — the compressed payload itself, which can be hundreds of
// megabytes, is read separately by seeking once the header reports its
// size. A match additionally requires the cache-key field to have
// cache-key shape (spec.md §4.4's secondary check), since DecodeHeader
// already enforces that.
func Detect(path string) (*PressedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrFileNotFound, path, err)
	}
	defer f.Close()

	n := windowSize(detect.File(path))
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("%w: %s: %v", rerr.ErrFileNotFound, path, err)
	}
	buf = buf[:read]

	markerBytes := []byte(Marker)
	searchFrom := 0
	for {
		rel := bytes.Index(buf[searchFrom:], markerBytes)
		if rel < 0 {
			return nil, fmt.Errorf("%w: %s: no compressed-stub marker found", rerr.ErrInvalidFormat, path)
		}
		start := searchFrom + rel

		pd, headerLen, err := DecodeHeader(buf[start:])
		if err == nil {
			if err := readCompressedTail(f, pd, int64(start+headerLen)); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", rerr.ErrInvalidFormat, path, err)
			}
			return pd, nil
		}
		searchFrom = start + 1
		if searchFrom >= len(buf) {
			return nil, fmt.Errorf("%w: %s: marker found but payload did not decode: %v", rerr.ErrInvalidFormat, path, err)
		}
	}
}

// readCompressedTail fills pd.Compressed by seeking to the absolute
// file offset where the compressed bytes begin, rather than requiring
// them to already be inside the detection window.
func readCompressedTail(f *os.File, pd *PressedData, compressedOff int64) error {
	if pd.CompressedSize > uint64(MaxUncompressedSize)*2 {
		return fmt.Errorf("implausible compressed size %d", pd.CompressedSize)
	}
	buf := make([]byte, pd.CompressedSize)
	if _, err := f.Seek(compressedOff, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("reading compressed payload: %w", err)
	}
	pd.Compressed = buf
	return nil
}

// IsStub is a convenience wrapper reporting whether path looks like a
// compressed stub without surfacing the decode error to the caller.
func IsStub(path string) bool {
	_, err := Detect(path)
	return err == nil
}
