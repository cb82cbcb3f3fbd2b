package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/container"
)

// buildSyntheticELF writes a minimal well-formed 64-bit ELF with ample
// program-header-table slack, the same shape internal/container/elfc's
// own tests use, so the command surface can be exercised without needing
// a real compiled binary on hand.
func buildSyntheticELF(t *testing.T) []byte {
	t.Helper()
	const phentsize = 56
	const ehsize = 64
	phoff := uint64(ehsize)
	tableEnd := phoff + 2*phentsize
	secondOff := tableEnd + 0x1000
	total := secondOff + 0x40

	buf := make([]byte, total)
	le := func(b []byte, v uint64, n int) {
		for i := 0; i < n; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1
	le(buf[16:18], 2, 2)
	le(buf[18:20], 0x3e, 2)
	le(buf[20:24], 1, 4)
	le(buf[24:32], 0x400000, 8)
	le(buf[32:40], phoff, 8)
	le(buf[52:54], ehsize, 2)
	le(buf[54:56], phentsize, 2)
	le(buf[56:58], 2, 2)

	writeLoad := func(idx int, off, size uint64) {
		p := buf[phoff+uint64(idx)*phentsize : phoff+uint64(idx+1)*phentsize]
		le(p[0:4], 1, 4)
		le(p[4:8], 5, 4)
		le(p[8:16], off, 8)
		le(p[16:24], 0x400000+off, 8)
		le(p[24:32], 0x400000+off, 8)
		le(p[32:40], size, 8)
		le(p[40:48], size, 8)
		le(p[48:56], 0x1000, 8)
	}
	writeLoad(0, 0, tableEnd)
	writeLoad(1, secondOff, total-secondOff)
	return buf
}

func writeSyntheticELF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.elf")
	if err := os.WriteFile(path, buildSyntheticELF(t), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInjectSEABlobThenListAndVerify(t *testing.T) {
	host := writeSyntheticELF(t)
	seaBlob := filepath.Join(t.TempDir(), "sea.blob")
	if err := os.WriteFile(seaBlob, bytes.Repeat([]byte{0x11}, 1024), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(t.TempDir(), "host.out.elf")

	if code := run([]string{"inject", host, output, "--sea", seaBlob}); code != 0 {
		t.Fatalf("inject exit code = %d, want 0", code)
	}

	c, err := container.Open(output)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !c.Has(container.NodeSEABlob) {
		t.Fatal("missing NODE_SEA_BLOB after inject")
	}

	if code := run([]string{"verify", output, container.NodeSEABlob}); code != 0 {
		t.Fatalf("verify exit code = %d, want 0", code)
	}

	extractOut := filepath.Join(t.TempDir(), "extracted.blob")
	if code := run([]string{"extract", output, container.NodeSEABlob, extractOut}); code != 0 {
		t.Fatalf("extract exit code = %d, want 0", code)
	}
	got, err := os.ReadFile(extractOut)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(seaBlob)
	if !bytes.Equal(got, want) {
		t.Fatal("extracted SEA blob does not match the injected bytes")
	}
}

func TestInjectVFSWithoutSEAFails(t *testing.T) {
	host := writeSyntheticELF(t)
	vfsBlob := filepath.Join(t.TempDir(), "vfs.blob")
	os.WriteFile(vfsBlob, []byte("vfs"), 0o644)
	output := filepath.Join(t.TempDir(), "host.out.elf")

	if code := run([]string{"inject", host, output, "--vfs", vfsBlob}); code == 0 {
		t.Fatal("expected a non-zero exit code injecting --vfs without --sea")
	}
}

func TestInjectVFSCompatWritesZeroByteSlot(t *testing.T) {
	host := writeSyntheticELF(t)
	seaBlob := filepath.Join(t.TempDir(), "sea.blob")
	os.WriteFile(seaBlob, []byte("sea"), 0o644)
	output := filepath.Join(t.TempDir(), "host.out.elf")

	if code := run([]string{"inject", host, output, "--sea", seaBlob, "--vfs-compat"}); code != 0 {
		t.Fatalf("inject exit code = %d, want 0", code)
	}
	c, err := container.Open(output)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !c.Has(container.SmolVFSBlob) {
		t.Fatal("missing SMOL_VFS_BLOB after --vfs-compat")
	}
	data, err := c.Get(container.SmolVFSBlob)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("vfs-compat payload length = %d, want 0", len(data))
	}
}

func TestListOnHostWithNoPayloads(t *testing.T) {
	host := writeSyntheticELF(t)
	if code := run([]string{"list", host}); code != 0 {
		t.Fatalf("list exit code = %d, want 0", code)
	}
}

func TestVersionAndHelp(t *testing.T) {
	if code := run([]string{"version"}); code != 0 {
		t.Fatalf("version exit code = %d, want 0", code)
	}
	if code := run([]string{"help"}); code != 0 {
		t.Fatalf("help exit code = %d, want 0", code)
	}
	if code := run(nil); code != 0 {
		t.Fatalf("no-args exit code = %d, want 0", code)
	}
}

func TestUnknownSubcommand(t *testing.T) {
	if code := run([]string{"bogus"}); code == 0 {
		t.Fatal("expected a non-zero exit code for an unknown subcommand")
	}
}
