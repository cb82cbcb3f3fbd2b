package container

import (
	"fmt"

	"github.com/SocketDev/socket-btm-sub000/internal/container/elfc"
	"github.com/SocketDev/socket-btm-sub000/internal/container/machoc"
	"github.com/SocketDev/socket-btm-sub000/internal/container/pec"
	"github.com/SocketDev/socket-btm-sub000/internal/detect"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// Open parses path with the Format Detector and returns the matching
// format driver, mirroring the three-way debug/elf-debug/macho-debug/pe
// dispatch other binary-introspection tools in the corpus use for the same
// "which parser do I hand this file to" decision.
func Open(path string) (Container, error) {
	switch f := detect.File(path); f {
	case detect.MachO:
		return machoc.Open(path)
	case detect.ELF:
		return elfc.Open(path)
	case detect.PE:
		return pec.Open(path)
	default:
		return nil, fmt.Errorf("%w: %s: unrecognized executable format", rerr.ErrInvalidFormat, path)
	}
}
