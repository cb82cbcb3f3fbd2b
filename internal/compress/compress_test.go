package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat("payload bytes for round-trip testing ", 100))

	out, err := Compress(in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(out, int64(len(in)))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, in) {
		t.Fatal("round-tripped bytes differ from input")
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	out, err := Compress([]byte("hello"))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(out, 999); err == nil {
		t.Fatal("expected a size-mismatch error")
	}
}

func TestDecompressInvalidInput(t *testing.T) {
	if _, err := Decompress([]byte("not zlib data"), 0); err == nil {
		t.Fatal("expected an error decompressing garbage input")
	}
}

func TestDecompressEmpty(t *testing.T) {
	out, err := Compress(nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(out, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
}
