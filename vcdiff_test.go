package vcdiff

import (
	"bytes"
	"errors"
	"testing"
)

func emptyDelta() []byte {
	return []byte{VCDIFFMagic1, VCDIFFMagic2, VCDIFFMagic3, StandardHeaderByte4, 0x00}
}

func TestNewDecoder(t *testing.T) {
	source := []byte("hello world")
	decoder := NewDecoder(source)

	if decoder == nil {
		t.Fatal("NewDecoder returned nil")
	}
}

func TestDecodeEmptyDelta(t *testing.T) {
	source := []byte("hello world")

	decoder := NewDecoder(source)
	result, err := decoder.Decode(emptyDelta())

	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(result) != 0 {
		t.Fatalf("Decode of a header-only delta should produce no target bytes, got %d", len(result))
	}
}

func TestDecodeFunction(t *testing.T) {
	source := []byte("hello world")

	result, err := Decode(source, emptyDelta())

	if err != nil {
		t.Fatalf("Decode function failed: %v", err)
	}

	if len(result) != 0 {
		t.Fatalf("Decode of a header-only delta should produce no target bytes, got %d", len(result))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	source := []byte("The quick brown fox jumps over the lazy dog.")
	target := []byte("The quick brown fox leaps over the lazy dog and runs away.")

	for _, interleaved := range []bool{false, true} {
		enc := NewEncoder(interleaved)
		if err := enc.Init(uint32(len(source))); err != nil {
			t.Fatalf("Init failed: %v", err)
		}

		if err := enc.Copy(0, 20); err != nil { // "The quick brown fox "
			t.Fatalf("Copy failed: %v", err)
		}
		if err := enc.Add([]byte("leaps"), 0, 5); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := enc.Copy(25, 18); err != nil { // " over the lazy dog"
			t.Fatalf("Copy failed: %v", err)
		}
		if err := enc.Add([]byte(" and runs away."), 0, 15); err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		var delta bytes.Buffer
		if err := enc.WriteHeader(&delta, false); err != nil {
			t.Fatalf("WriteHeader failed: %v", err)
		}
		if err := enc.Output(&delta); err != nil {
			t.Fatalf("Output failed: %v", err)
		}

		result, err := Decode(source, delta.Bytes())
		if err != nil {
			t.Fatalf("interleaved=%v: Decode failed: %v", interleaved, err)
		}
		if !bytes.Equal(result, target) {
			t.Fatalf("interleaved=%v: round trip mismatch:\n got  %q\n want %q", interleaved, result, target)
		}
	}
}

func TestEncodeDecodeRoundTripWithChecksum(t *testing.T) {
	source := []byte("abcdefgh")
	target := []byte("abcdefghabcdefgh")

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := enc.Copy(0, 8); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := enc.Copy(0, 8); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	enc.AddChecksum(ComputeChecksum(1, target))

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	result, err := Decode(source, delta.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(result, target) {
		t.Fatalf("round trip mismatch: got %q want %q", result, target)
	}
}

func TestEncodeDecodeRoundTripDetectsChecksumMismatch(t *testing.T) {
	source := []byte("abcdefgh")
	target := []byte("abcdefghabcdefgh")

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := enc.Copy(0, 8); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := enc.Copy(0, 8); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	enc.AddChecksum(ComputeChecksum(1, target) + 1) // deliberately wrong

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	_, err := Decode(source, delta.Bytes())
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	if !errors.Is(err, ErrInvalidChecksum) {
		t.Fatalf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestEncodeDecodeSingleByteRun(t *testing.T) {
	source := []byte("x")
	target := []byte("aaaaaaaaaa")

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := enc.Run(10, 'a'); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	result, err := Decode(source, delta.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(result, target) {
		t.Fatalf("round trip mismatch: got %q want %q", result, target)
	}
}

// TestEncodeDecodeSelfOverlappingCopy exercises a COPY whose address range
// overlaps the target bytes it is still in the middle of producing - the
// RLE-style self-reference pattern used to expand a short seed into a long
// repeating run (RFC 3284 Section 5.1).
func TestEncodeDecodeSelfOverlappingCopy(t *testing.T) {
	source := []byte("ab")
	target := []byte("abababababababababab") // 2-byte seed repeated ten times

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	// COPY 2 bytes from the dictionary, then COPY the remaining length
	// starting at the address of the first target byte just produced - that
	// COPY's own range runs past the end of the bytes written so far, so it
	// reads back bytes it is itself still appending (the classic RLE
	// expansion of a short seed).
	if err := enc.Copy(0, 2); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := enc.Copy(uint32(len(source)), uint32(len(target)-2)); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	result, err := Decode(source, delta.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(result, target) {
		t.Fatalf("round trip mismatch: got %q want %q", result, target)
	}
}

func TestDecodeRejectsWindowTruncation(t *testing.T) {
	source := []byte("abcdefgh")

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := enc.Copy(0, 8); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	truncated := delta.Bytes()[:delta.Len()-1]
	if _, err := Decode(source, truncated); err == nil {
		t.Fatal("expected an error for a window truncated by one byte")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("x"), []byte{0xff, 0xff, 0xff, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected an error for bad magic bytes")
	}
}

func TestDecodeRejectsTruncation(t *testing.T) {
	full := emptyDelta()
	_, err := Decode([]byte("x"), full[:len(full)-1])
	if err == nil {
		t.Fatal("expected an error for a truncated header")
	}
}

func TestParseDeltaHeaderOnly(t *testing.T) {
	parsed, err := ParseDelta(emptyDelta())
	if err != nil {
		t.Fatalf("ParseDelta failed: %v", err)
	}
	if len(parsed.Windows) != 0 {
		t.Fatalf("expected 0 windows, got %d", len(parsed.Windows))
	}
}
