package stub

import (
	"bytes"
	"testing"

	"github.com/SocketDev/socket-btm-sub000/internal/cachekey"
)

func validPressedData() *PressedData {
	compressed := bytes.Repeat([]byte{0x5A}, 256)
	return &PressedData{
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: 4096,
		CacheKey:         cachekey.Derive(compressed),
		Platform:         CurrentPlatformTriple(),
		Compressed:       compressed,
	}
}

func TestMarkerIsExactly32Bytes(t *testing.T) {
	if len(Marker) != 32 {
		t.Fatalf("Marker length = %d, want 32", len(Marker))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pd := validPressedData()
	raw, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.CompressedSize != pd.CompressedSize || got.UncompressedSize != pd.UncompressedSize {
		t.Fatalf("size mismatch: got %+v, want %+v", got, pd)
	}
	if got.CacheKey != pd.CacheKey {
		t.Fatalf("cache key mismatch: got %s, want %s", got.CacheKey, pd.CacheKey)
	}
	if got.Platform != pd.Platform {
		t.Fatalf("platform mismatch: got %+v, want %+v", got.Platform, pd.Platform)
	}
	if !bytes.Equal(got.Compressed, pd.Compressed) {
		t.Fatal("compressed payload mismatch after round-trip")
	}
}

func TestEncodeDecodeWithSmolConfig(t *testing.T) {
	pd := validPressedData()
	pd.HasSmolConfig = true
	pd.SmolConfig = bytes.Repeat([]byte{0x11}, smolConfigSize)

	raw, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.HasSmolConfig {
		t.Fatal("HasSmolConfig lost across round-trip")
	}
	if !bytes.Equal(got.SmolConfig, pd.SmolConfig) {
		t.Fatal("smol config mismatch after round-trip")
	}
	if !bytes.Equal(got.Compressed, pd.Compressed) {
		t.Fatal("compressed payload mismatch after round-trip with smol config")
	}
}

func TestDecodeRejectsBadMarker(t *testing.T) {
	pd := validPressedData()
	raw, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw[0] ^= 0xFF
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected an error decoding a payload with a corrupted marker")
	}
}

func TestDecodeRejectsOversizedUncompressed(t *testing.T) {
	pd := validPressedData()
	pd.UncompressedSize = MaxUncompressedSize + 1
	raw, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected an error decoding a payload exceeding the uncompressed size cap")
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	pd := validPressedData()
	raw, err := Encode(pd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(raw[:len(raw)-10]); err == nil {
		t.Fatal("expected an error decoding a truncated payload")
	}
}

func TestEncodeRejectsBadCacheKeyShape(t *testing.T) {
	pd := validPressedData()
	pd.CacheKey = "not-hex"
	if _, err := Encode(pd); err == nil {
		t.Fatal("expected an error encoding a malformed cache key")
	}
}
