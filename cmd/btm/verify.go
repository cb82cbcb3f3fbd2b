package main

import (
	"fmt"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// runVerify confirms a payload slot is present and non-empty, per
// spec.md §4.2.4's verify contract. SMOL_VFS_BLOB is the one slot that may
// be empty: --vfs-compat writes it as a zero-byte marker.
func runVerify(args []string) error {
	fs := newFlagSet("verify")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrInvalidArgs, err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: verify requires <input> and <name> arguments", rerr.ErrInvalidArgs)
	}
	input, name := fs.Arg(0), fs.Arg(1)

	c, err := container.Open(input)
	if err != nil {
		return err
	}
	if !c.Has(name) {
		return fmt.Errorf("%w: %s", rerr.ErrSectionNotFound, name)
	}
	data, err := c.Get(name)
	if err != nil {
		return err
	}
	if len(data) == 0 && name != container.SmolVFSBlob {
		return fmt.Errorf("%w: %s is present but empty", rerr.ErrSectionNotFound, name)
	}
	fmt.Printf("%s: ok (%d bytes)\n", name, len(data))
	return nil
}
