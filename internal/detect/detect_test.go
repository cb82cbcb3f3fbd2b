package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBytes(t *testing.T) {
	cases := []struct {
		name string
		b    [4]byte
		want Format
	}{
		{"elf", [4]byte{0x7F, 'E', 'L', 'F'}, ELF},
		{"macho-64", [4]byte{0xFE, 0xED, 0xFA, 0xCF}, MachO},
		{"macho-32-swapped", [4]byte{0xCE, 0xFA, 0xED, 0xFE}, MachO},
		{"macho-fat", [4]byte{0xCA, 0xFE, 0xBA, 0xBE}, MachO},
		{"macho-fat64", [4]byte{0xCA, 0xFE, 0xBA, 0xBF}, MachO},
		{"pe", [4]byte{'M', 'Z', 0x90, 0x00}, PE},
		{"unknown", [4]byte{0, 1, 2, 3}, Unknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Bytes(c.b); got != c.want {
				t.Errorf("Bytes(%v) = %s, want %s", c.b, got, c.want)
			}
		})
	}
}

func TestFileMissingIsUnknown(t *testing.T) {
	if got := File(filepath.Join(t.TempDir(), "does-not-exist")); got != Unknown {
		t.Errorf("File(missing) = %s, want Unknown", got)
	}
}

func TestFileShortReadIsUnknown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short")
	if err := os.WriteFile(path, []byte{0x7F, 'E'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := File(path); got != Unknown {
		t.Errorf("File(short) = %s, want Unknown", got)
	}
}

func TestFileRealELF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elf")
	data := append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 60)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := File(path); got != ELF {
		t.Errorf("File(elf) = %s, want ELF", got)
	}
}
