// Package rerr defines the shared error taxonomy used across the binary
// rewriter: a fixed set of sentinel errors any operation wraps with
// fmt.Errorf("...: %w", ...), plus the numeric exit codes the command
// surface reports for each.
package rerr

import "errors"

// Sentinel errors. Every error surfaced by the rewriter wraps exactly one
// of these with %w, so callers can use errors.Is regardless of how much
// context has been added on top.
var (
	ErrInvalidArgs        = errors.New("invalid arguments")
	ErrFileNotFound       = errors.New("file not found")
	ErrInvalidFormat      = errors.New("invalid format")
	ErrSectionExists      = errors.New("section exists")
	ErrSectionNotFound    = errors.New("section not found")
	ErrCompressionFailed  = errors.New("compression failed")
	ErrDecompressionFailed = errors.New("decompression failed")
	ErrWriteFailed        = errors.New("write failed")
	ErrUnknown            = errors.New("unknown error")
)

// codes maps each sentinel to the negative exit code the command surface
// returns via os.Exit.
var codes = map[error]int{
	ErrInvalidArgs:         -1,
	ErrFileNotFound:        -2,
	ErrInvalidFormat:       -3,
	ErrSectionExists:       -4,
	ErrSectionNotFound:     -5,
	ErrCompressionFailed:   -6,
	ErrDecompressionFailed: -7,
	ErrWriteFailed:         -8,
	ErrUnknown:             -9,
}

// Code returns the numeric exit code for err, matching against the
// taxonomy via errors.Is so wrapped errors resolve correctly. Unrecognized
// errors map to ErrUnknown's code.
func Code(err error) int {
	if err == nil {
		return 0
	}
	for sentinel, code := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return codes[ErrUnknown]
}
