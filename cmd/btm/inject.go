package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
	"github.com/SocketDev/socket-btm-sub000/internal/seaconfig"
	"github.com/SocketDev/socket-btm-sub000/internal/stub"
)

type injectFlags struct {
	sea         string
	vfs         string
	vfsOnDisk   string
	vfsInMemory string
	vfsCompat   bool
	skipRepack  bool
}

func runInject(args []string) error {
	fs := newFlagSet("inject")
	f := injectFlags{}
	fs.StringVar(&f.sea, "sea", "", "path to a SEA blob, or a .json SEA config")
	fs.StringVar(&f.vfs, "vfs", "", "path to a VFS payload")
	fs.StringVar(&f.vfsOnDisk, "vfs-on-disk", "", "path to an on-disk-mode VFS payload")
	fs.StringVar(&f.vfsInMemory, "vfs-in-memory", "", "path to an in-memory-mode VFS payload")
	fs.BoolVar(&f.vfsCompat, "vfs-compat", false, "write a zero-byte VFS payload signaling VFS support")
	fs.BoolVar(&f.skipRepack, "skip-repack", false, "for compressed stubs, write the modified inner binary directly instead of repacking a new stub")
	var positional []string
	for rest := args; ; {
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", rerr.ErrInvalidArgs, err)
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if len(positional) < 2 {
		return fmt.Errorf("%w: inject requires <input> and <output> arguments", rerr.ErrInvalidArgs)
	}
	input, output := positional[0], positional[1]

	vfsPath, vfsSelected, err := resolveVFSFlag(f)
	if err != nil {
		return err
	}
	if vfsSelected && f.sea == "" {
		return fmt.Errorf("%w: a VFS payload requires --sea in the same invocation", rerr.ErrInvalidArgs)
	}

	target := input
	var stubPD *stub.PressedData
	var cacheTarget string
	if stub.IsStub(input) {
		pd, err := stub.Detect(input)
		if err != nil {
			return err
		}
		cacheTarget, err = stub.Extract(pd)
		if err != nil {
			return err
		}
		stubPD = pd
		target = cacheTarget
	}

	c, err := container.Open(target)
	if err != nil {
		return err
	}

	if f.sea != "" {
		seaBytes, err := resolveSEABlob(f.sea, target)
		if err != nil {
			return err
		}
		if err := c.Put(container.NodeSEABlob, seaBytes, true); err != nil {
			return err
		}
	}

	if f.vfsCompat {
		if err := c.Put(container.SmolVFSBlob, []byte{}, true); err != nil {
			return err
		}
	} else if vfsSelected {
		vfsBytes, err := os.ReadFile(vfsPath)
		if err != nil {
			return fmt.Errorf("%w: reading VFS payload %s: %v", rerr.ErrFileNotFound, vfsPath, err)
		}
		if err := c.Put(container.SmolVFSBlob, vfsBytes, true); err != nil {
			return err
		}
	}

	if stubPD == nil {
		return c.Save(output)
	}

	// The host was a compressed stub: write the modified inner binary back
	// to its cache location, then either hand it back as-is (--skip-repack)
	// or repack it into a fresh stub at output.
	if err := c.Save(cacheTarget); err != nil {
		return err
	}
	if f.skipRepack {
		return copyFile(cacheTarget, output)
	}
	return stub.Repack(input, cacheTarget, output)
}

// resolveVFSFlag enforces that at most one of the three VFS path flags is
// given and returns which path (if any) was selected.
func resolveVFSFlag(f injectFlags) (string, bool, error) {
	set := 0
	path := ""
	for _, v := range []string{f.vfs, f.vfsOnDisk, f.vfsInMemory} {
		if v != "" {
			set++
			path = v
		}
	}
	if set > 1 {
		return "", false, fmt.Errorf("%w: only one of --vfs, --vfs-on-disk, --vfs-in-memory may be given", rerr.ErrInvalidArgs)
	}
	return path, set == 1, nil
}

// resolveSEABlob returns the SEA payload bytes for the --sea flag. A
// .json value is treated as a SEA config: targetExe is spawned with
// --experimental-sea-config <path>, and the blob is read from the
// "output" field of that JSON file once the spawn completes.
func resolveSEABlob(seaPath, targetExe string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(seaPath), ".json") {
		data, err := os.ReadFile(seaPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading SEA blob %s: %v", rerr.ErrFileNotFound, seaPath, err)
		}
		return data, nil
	}

	configData, err := os.ReadFile(seaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading SEA config %s: %v", rerr.ErrFileNotFound, seaPath, err)
	}

	cmd := exec.Command(targetExe, "--experimental-sea-config", seaPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: spawning %s --experimental-sea-config %s: %v: %s", rerr.ErrInvalidArgs, targetExe, seaPath, err, out)
	}

	outputPath, err := seaconfig.ReadOutputPath(configData)
	if err != nil {
		return nil, err
	}
	blobPath := filepath.Join(filepath.Dir(seaPath), outputPath)
	data, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading generated SEA blob %s: %v", rerr.ErrFileNotFound, blobPath, err)
	}
	return data, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrFileNotFound, err)
	}
	if err := os.WriteFile(dst, data, 0o755); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrWriteFailed, err)
	}
	return nil
}
