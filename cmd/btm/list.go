package main

import (
	"fmt"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// wellKnownSlots is the fixed namespace spec.md §4.2.4 says list iterates:
// the SEA and VFS blobs plus the compressed-stub payload, in that order.
var wellKnownSlots = []string{container.NodeSEABlob, container.SmolVFSBlob, container.PressedData}

func runList(args []string) error {
	fs := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrInvalidArgs, err)
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("%w: list requires an <input> argument", rerr.ErrInvalidArgs)
	}

	c, err := container.Open(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("format: %s\n", c.Format())
	for _, name := range wellKnownSlots {
		if !c.Has(name) {
			continue
		}
		data, err := c.Get(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %d bytes\n", name, len(data))
	}
	return nil
}
