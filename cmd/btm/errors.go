package main

import "github.com/SocketDev/socket-btm-sub000/internal/rerr"

const exitInvalidArgs = -1

// codeFor reports the numeric exit code spec.md §6 associates with err,
// deferring to the shared taxonomy for anything that came from a
// container or stub operation.
func codeFor(err error) int {
	return rerr.Code(err)
}
