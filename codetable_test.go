package vcdiff

import (
	"bytes"
	"testing"
)

// TestCodeTableSerializeImageLayout locks down the columnar wire layout
// (inst1[256] inst2[256] size1[256] size2[256] mode1[256] mode2[256]) against
// known entries of the default table, and checks SerializeImage/
// CodeTableFromImage round-trip exactly.
func TestCodeTableSerializeImageLayout(t *testing.T) {
	image := DefaultCodeTable.SerializeImage()
	if len(image) != CodeTableImageSize {
		t.Fatalf("expected image length %d, got %d", CodeTableImageSize, len(image))
	}

	// Opcode 0 is RUN size 0 / NoOp.
	if InstructionType(image[0]) != Run {
		t.Fatalf("image[0] (opcode 0 slot 0 type) = %d, want Run", image[0])
	}
	if InstructionType(image[InstructionTableSize]) != NoOp {
		t.Fatalf("image[%d] (opcode 0 slot 1 type) = %d, want NoOp", InstructionTableSize, image[InstructionTableSize])
	}

	// Opcode 19 is the first COPY row: mode 0, size 0 (explicit VarInt size).
	if InstructionType(image[19]) != Copy {
		t.Fatalf("image[19] (opcode 19 slot 0 type) = %d, want Copy", image[19])
	}
	if size := image[2*InstructionTableSize+19]; size != 0 {
		t.Fatalf("image[%d] (opcode 19 slot 0 size) = %d, want 0", 2*InstructionTableSize+19, size)
	}
	if mode := image[4*InstructionTableSize+19]; mode != 0 {
		t.Fatalf("image[%d] (opcode 19 slot 0 mode) = %d, want 0", 4*InstructionTableSize+19, mode)
	}

	rebuilt, err := CodeTableFromImage(image)
	if err != nil {
		t.Fatalf("CodeTableFromImage failed: %v", err)
	}
	if !bytes.Equal(rebuilt.SerializeImage(), image) {
		t.Fatal("CodeTableFromImage/SerializeImage round trip mismatch")
	}
}

// TestDecodeNestedCodeTableVector encodes a real custom-code-table delta (a
// single-byte variant of the default table, embedded as a VCD_CODETABLE
// header per RFC 3284/spec.md section 9) and checks ParseDelta reconstructs
// exactly that table - a vector-based check, not just a no-panic fuzz pass.
func TestDecodeNestedCodeTableVector(t *testing.T) {
	meta := codeTableMetaDictionary

	// A custom table differing from the default only in the mode of the
	// first COPY row's first slot (opcode 19).
	const modeCol = 4 * InstructionTableSize
	const diffAt = modeCol + 19

	custom := append([]byte(nil), meta...)
	custom[diffAt] ^= 0x01

	enc := NewEncoder(false)
	if err := enc.Init(uint32(len(meta))); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := enc.Copy(0, diffAt); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := enc.Add(custom[diffAt:diffAt+1], 0, 1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := enc.Copy(diffAt+1, uint32(len(custom)-diffAt-1)); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	var nested bytes.Buffer
	if err := enc.Output(&nested); err != nil {
		t.Fatalf("Output failed: %v", err)
	}

	var full bytes.Buffer
	full.Write([]byte{VCDIFFMagic1, VCDIFFMagic2, VCDIFFMagic3, StandardHeaderByte4, VCDCodetable})
	full.Write(AppendUvarint64(nil, uint64(DefaultNearSize)))
	full.Write(AppendUvarint64(nil, uint64(DefaultSameSize)))
	full.WriteByte(byte(2 + DefaultNearSize + DefaultSameSize))
	full.Write(nested.Bytes())

	parsed, err := ParseDelta(full.Bytes())
	if err != nil {
		t.Fatalf("ParseDelta failed: %v", err)
	}

	expected, err := CodeTableFromImage(custom)
	if err != nil {
		t.Fatalf("CodeTableFromImage(custom) failed: %v", err)
	}
	if !bytes.Equal(parsed.CodeTable.SerializeImage(), expected.SerializeImage()) {
		t.Fatal("decoded custom code table does not match the encoded vector")
	}
	if parsed.NearSize != DefaultNearSize || parsed.SameSize != DefaultSameSize {
		t.Fatalf("got NearSize=%d SameSize=%d, want %d/%d", parsed.NearSize, parsed.SameSize, DefaultNearSize, DefaultSameSize)
	}
}
