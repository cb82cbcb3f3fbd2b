package stub

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SocketDev/socket-btm-sub000/internal/compress"
	"github.com/SocketDev/socket-btm-sub000/internal/integrity"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// Extract decompresses pd into the content-addressed cache entry for
// pd.CacheKey and returns the path to the extracted inner binary.
// Extraction is idempotent: if the target already exists it is assumed
// valid and returned as-is without decompressing again, since the
// cache key is itself a content hash of the compressed bytes — two
// stubs with the same key always decompress to the same output.
func Extract(pd *PressedData) (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	entryDir := EntryDir(root, pd.CacheKey)
	target := filepath.Join(entryDir, NodeBinaryName())

	if fi, err := os.Stat(target); err == nil && fi.Size() > 0 {
		return target, nil
	}

	out, err := compress.Decompress(pd.Compressed, int64(pd.UncompressedSize))
	if err != nil {
		return "", err
	}

	if err := integrity.WriteExecutableFile(target, out); err != nil {
		return "", fmt.Errorf("%w: extracting to %s: %v", rerr.ErrWriteFailed, target, err)
	}
	return target, nil
}
