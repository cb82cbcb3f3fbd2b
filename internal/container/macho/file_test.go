package macho

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"
	"unsafe"

	"github.com/SocketDev/socket-btm-sub000/internal/container/macho/types"
)

func name16(s string) (out [16]byte) {
	copy(out[:], s)
	return out
}

var (
	segHeaderSize     = uint32(unsafe.Sizeof(types.Segment64{}))
	sectionHeaderSize = uint32(unsafe.Sizeof(types.Section64{}))
)

// buildSyntheticMachO assembles a minimal but well-formed 64-bit Mach-O
// executable: a __TEXT segment holding one __cstring section with the
// given payload, and an empty __LINKEDIT segment. sectionOffset controls
// where the section payload begins in the file, which lets tests shrink
// the header-padding slack to exercise the overflow path.
func buildSyntheticMachO(t *testing.T, payload []byte, sectionOffset uint32) []byte {
	t.Helper()

	sizeCommands := segHeaderSize*2 + sectionHeaderSize

	hdr := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUArm64,
		Type:         types.MH_EXECUTE,
		NCommands:    2,
		SizeCommands: sizeCommands,
	}

	linkeditOffset := sectionOffset + uint32(len(payload))
	const linkeditSize = 16

	seg1 := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     segHeaderSize + sectionHeaderSize,
		Name:    name16("__TEXT"),
		Addr:    0x100000000,
		Memsz:   roundUp64(uint64(sectionOffset)+uint64(len(payload)), segmentFileAlignment),
		Offset:  0,
		Filesz:  uint64(sectionOffset) + uint64(len(payload)),
		Maxprot: 7,
		Prot:    5,
		Nsect:   1,
	}
	sec1 := types.Section64{
		Name:   name16("__cstring"),
		Seg:    name16("__TEXT"),
		Addr:   0x100000000 + uint64(sectionOffset),
		Size:   uint64(len(payload)),
		Offset: sectionOffset,
	}
	seg2 := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     segHeaderSize,
		Name:    name16("__LINKEDIT"),
		Addr:    0x200000000,
		Memsz:   segmentFileAlignment,
		Offset:  uint64(linkeditOffset),
		Filesz:  linkeditSize,
		Maxprot: 1,
		Prot:    1,
	}

	buf := new(bytes.Buffer)
	for _, v := range []any{hdr, seg1, sec1, seg2} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("failed to serialize synthetic header piece: %v", err)
		}
	}

	if pad := int(sectionOffset) - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	} else if pad < 0 {
		t.Fatalf("sectionOffset %d too small to hold %d bytes of load commands", sectionOffset, buf.Len())
	}
	buf.Write(payload)
	buf.Write(make([]byte, linkeditSize))

	return buf.Bytes()
}

func TestNewFileParsesSyntheticSegments(t *testing.T) {
	raw := buildSyntheticMachO(t, []byte("hello mach-o section payload"), 0x1000)

	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if f.Magic != types.Magic64 {
		t.Fatalf("Magic = %#x, want Magic64", f.Magic)
	}
	if len(f.Loads) != 2 {
		t.Fatalf("len(Loads) = %d, want 2", len(f.Loads))
	}

	text := f.Segment("__TEXT")
	if text == nil {
		t.Fatal("missing __TEXT segment")
	}
	if text.Nsect != 1 {
		t.Fatalf("__TEXT.Nsect = %d, want 1", text.Nsect)
	}

	sec := f.Section("__TEXT", "__cstring")
	if sec == nil {
		t.Fatal("missing __TEXT.__cstring section")
	}
	data, err := sec.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(data, []byte("hello mach-o section payload")) {
		t.Fatalf("section data = %q, want payload", data)
	}

	if f.Segment("__LINKEDIT") == nil {
		t.Fatal("missing __LINKEDIT segment")
	}
}

func TestFlipFuseAndBytesRoundTrip(t *testing.T) {
	payload := []byte(FuseLiteral)
	raw := buildSyntheticMachO(t, payload, 0x1000)

	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	found, err := f.FlipFuse()
	if err != nil {
		t.Fatalf("FlipFuse: %v", err)
	}
	if !found {
		t.Fatal("FlipFuse did not find the fuse literal")
	}
	if len(f.fusePatches) != 1 {
		t.Fatalf("len(fusePatches) = %d, want 1", len(f.fusePatches))
	}

	out, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	f2, err := NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("re-parsing mutated file: %v", err)
	}
	sec2 := f2.Section("__TEXT", "__cstring")
	if sec2 == nil {
		t.Fatal("mutated file lost __TEXT.__cstring")
	}
	data2, err := sec2.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}

	want := append([]byte(nil), payload...)
	want[len(want)-1] = '1'
	if !bytes.Equal(data2, want) {
		t.Fatalf("flipped section data = %q, want %q", data2, want)
	}
}

func TestPutSectionAddsNewSegment(t *testing.T) {
	raw := buildSyntheticMachO(t, []byte("unrelated original content"), 0x1000)
	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	blob := []byte("embedded single-executable blob contents")
	f.PutSection("__SOCKET_SEA", "__blob", blob, types.VmProtection(7))

	out, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	f2, err := NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("re-parsing mutated file: %v", err)
	}

	if f2.Segment("__SOCKET_SEA") == nil {
		t.Fatal("missing new __SOCKET_SEA segment")
	}
	sec := f2.Section("__SOCKET_SEA", "__blob")
	if sec == nil {
		t.Fatal("missing new __blob section")
	}
	data, err := sec.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(data, blob) {
		t.Fatalf("new section data = %q, want %q", data, blob)
	}

	orig := f2.Section("__TEXT", "__cstring")
	if orig == nil {
		t.Fatal("original __TEXT.__cstring section disappeared")
	}
	origData, err := orig.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(origData, []byte("unrelated original content")) {
		t.Fatalf("original section content changed: %q", origData)
	}
}

func TestPutSectionReplacesExisting(t *testing.T) {
	raw := buildSyntheticMachO(t, []byte("x"), 0x1000)
	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	f.PutSection("__SOCKET_SEA", "__blob", []byte("first"), types.VmProtection(7))
	f.PutSection("__SOCKET_SEA", "__blob", []byte("second, a longer payload"), types.VmProtection(7))

	seg := f.Segment("__SOCKET_SEA")
	if seg == nil {
		t.Fatal("missing __SOCKET_SEA segment")
	}
	if seg.Nsect != 1 {
		t.Fatalf("Nsect = %d, want 1 (replace should not duplicate)", seg.Nsect)
	}

	out, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	f2, err := NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("re-parsing mutated file: %v", err)
	}
	sec := f2.Section("__SOCKET_SEA", "__blob")
	if sec == nil {
		t.Fatal("missing __blob section after replace")
	}
	data, err := sec.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(data, []byte("second, a longer payload")) {
		t.Fatalf("section data = %q, want the second payload", data)
	}
}

func TestBytesFailsWhenHeaderPadExhausted(t *testing.T) {
	// Leave almost no slack between the load commands and the first
	// section's file content, so a single new segment+section cannot fit.
	raw := buildSyntheticMachO(t, []byte("y"), 300)
	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	f.PutSection("__SOCKET_SEA", "__blob", []byte("more bytes than the slack allows"), types.VmProtection(7))

	if _, err := f.Bytes(); err == nil {
		t.Fatal("Bytes: expected header-pad overflow error, got nil")
	}
}

func TestRemoveSegment(t *testing.T) {
	raw := buildSyntheticMachO(t, []byte("z"), 0x1000)
	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	before := len(f.Loads)
	f.RemoveSegment("__LINKEDIT")

	if len(f.Loads) != before-1 {
		t.Fatalf("len(Loads) = %d, want %d", len(f.Loads), before-1)
	}
	if f.Segment("__LINKEDIT") != nil {
		t.Fatal("__LINKEDIT still present after RemoveSegment")
	}
	if f.Segment("__TEXT") == nil {
		t.Fatal("RemoveSegment should not touch unrelated segments")
	}
}

func TestRemoveCodeSignature(t *testing.T) {
	f := &File{}
	f.ByteOrder = binary.LittleEndian
	f.Magic = types.Magic64

	f.AddLoad(LoadCmdBytes{types.LoadCmd(types.LC_CODE_SIGNATURE), LoadBytes(make([]byte, 8))})
	f.AddLoad(LoadCmdBytes{types.LoadCmd(types.LC_UUID), LoadBytes(make([]byte, 8))})

	f.RemoveCodeSignature()

	if len(f.Loads) != 1 {
		t.Fatalf("len(Loads) = %d, want 1", len(f.Loads))
	}
	if f.Loads[0].Command() != types.LC_UUID {
		t.Fatalf("remaining load = %s, want LC_UUID", f.Loads[0].Command())
	}
}

func TestSignAdHocAndVerifyNoopOffDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("exercises only the non-darwin no-op path")
	}
	if err := SignAdHoc("/nonexistent/path"); err != nil {
		t.Fatalf("SignAdHoc should no-op off darwin, got: %v", err)
	}
	if err := VerifySignature("/nonexistent/path"); err != nil {
		t.Fatalf("VerifySignature should no-op off darwin, got: %v", err)
	}
}

func TestRoundUp64(t *testing.T) {
	cases := []struct{ n, align, want uint64 }{
		{0, 0x4000, 0},
		{1, 0x4000, 0x4000},
		{0x4000, 0x4000, 0x4000},
		{0x4001, 0x4000, 0x8000},
	}
	for _, c := range cases {
		if got := roundUp64(c.n, c.align); got != c.want {
			t.Errorf("roundUp64(%#x, %#x) = %#x, want %#x", c.n, c.align, got, c.want)
		}
	}
}
