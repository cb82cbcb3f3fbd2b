package main

import (
	"fmt"
	"os"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

func runExtract(args []string) error {
	fs := newFlagSet("extract")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrInvalidArgs, err)
	}
	if fs.NArg() < 3 {
		return fmt.Errorf("%w: extract requires <input>, <name>, and <output> arguments", rerr.ErrInvalidArgs)
	}
	input, name, output := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	c, err := container.Open(input)
	if err != nil {
		return err
	}
	data, err := c.Get(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", rerr.ErrWriteFailed, output, err)
	}
	return nil
}
