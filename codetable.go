package vcdiff

import "fmt"

// CodeTable represents the VCDIFF instruction code table
type CodeTable struct {
	entries [256][2]Instruction
}

// Get returns the instruction at the given code and slot
func (ct *CodeTable) Get(code byte, slot int) Instruction {
	return ct.entries[code][slot]
}

// BuildDefaultCodeTable creates the default code table specified in RFC 3284
func BuildDefaultCodeTable() *CodeTable {
	ct := &CodeTable{}

	// Initialize all entries to NoOp
	for i := 0; i < 256; i++ {
		ct.entries[i][0] = NewInstruction(NoOp, 0, 0)
		ct.entries[i][1] = NewInstruction(NoOp, 0, 0)
	}

	// Entry 0: RUN with size 0
	ct.entries[0][0] = NewInstruction(Run, 0, 0)

	// Entries 1-18: ADD with sizes 0-17
	for i := byte(0); i < 18; i++ {
		ct.entries[i+1][0] = NewInstruction(Add, i, 0)
	}

	index := 19

	// Entries 19-162: COPY instructions with different modes and sizes
	for mode := byte(0); mode < 9; mode++ {
		// COPY with size 0 (size will be read from stream)
		ct.entries[index][0] = NewInstruction(Copy, 0, mode)
		index++

		// COPY with sizes 4-18
		for size := byte(4); size < 19; size++ {
			ct.entries[index][0] = NewInstruction(Copy, size, mode)
			index++
		}
	}

	// Entries 163-234: Combined ADD+COPY instructions
	for mode := byte(0); mode < 6; mode++ {
		for addSize := byte(1); addSize < 5; addSize++ {
			for copySize := byte(4); copySize < 7; copySize++ {
				ct.entries[index][0] = NewInstruction(Add, addSize, 0)
				ct.entries[index][1] = NewInstruction(Copy, copySize, mode)
				index++
			}
		}
	}

	// Entries 235-246: More combined ADD+COPY instructions
	for mode := byte(6); mode < 9; mode++ {
		for addSize := byte(1); addSize < 5; addSize++ {
			ct.entries[index][0] = NewInstruction(Add, addSize, 0)
			ct.entries[index][1] = NewInstruction(Copy, 4, mode)
			index++
		}
	}

	// Entries 247-255: COPY+ADD combinations
	for mode := byte(0); mode < 9; mode++ {
		ct.entries[index][0] = NewInstruction(Copy, 4, mode)
		ct.entries[index][1] = NewInstruction(Add, 1, 0)
		index++
	}

	return ct
}

// DefaultCodeTable is the default code table instance
var DefaultCodeTable = BuildDefaultCodeTable()

// CodeTableImageSize is the byte size of a serialized code table image: six
// 256-entry columns (inst1, inst2, size1, size2, mode1, mode2).
const CodeTableImageSize = InstructionTableSize * 2 * 3

// SerializeImage encodes ct into the 1536-byte wire image used both as the
// custom-code-table meta-dictionary and as the format a custom table's
// nested VCDIFF delta decodes into. The layout is columnar, matching the
// standard VCDIFF code table transfer format (RFC 3284 / open-vcdiff's
// VCDiffCodeTableData): all 256 first-slot instruction types, then all 256
// second-slot instruction types, then the two size columns, then the two
// mode columns - not grouped per opcode. A standard custom-code-table file
// produced by any other RFC 3284 implementation decodes against this same
// layout.
func (ct *CodeTable) SerializeImage() []byte {
	buf := make([]byte, CodeTableImageSize)
	for opcode := 0; opcode < InstructionTableSize; opcode++ {
		inst1 := ct.entries[opcode][0]
		inst2 := ct.entries[opcode][1]
		buf[opcode] = byte(inst1.Type)
		buf[InstructionTableSize+opcode] = byte(inst2.Type)
		buf[2*InstructionTableSize+opcode] = inst1.Size
		buf[3*InstructionTableSize+opcode] = inst2.Size
		buf[4*InstructionTableSize+opcode] = inst1.Mode
		buf[5*InstructionTableSize+opcode] = inst2.Mode
	}
	return buf
}

// CodeTableFromImage reconstructs a CodeTable from a CodeTableImageSize-byte
// wire image, the inverse of SerializeImage.
func CodeTableFromImage(image []byte) (*CodeTable, error) {
	if len(image) != CodeTableImageSize {
		return nil, fmt.Errorf("%w: code table image is %d bytes, expected %d", ErrInvalidFormat, len(image), CodeTableImageSize)
	}
	ct := &CodeTable{}
	for opcode := 0; opcode < InstructionTableSize; opcode++ {
		typ1 := InstructionType(image[opcode])
		typ2 := InstructionType(image[InstructionTableSize+opcode])
		size1 := image[2*InstructionTableSize+opcode]
		size2 := image[3*InstructionTableSize+opcode]
		mode1 := image[4*InstructionTableSize+opcode]
		mode2 := image[5*InstructionTableSize+opcode]
		if typ1 > Copy {
			return nil, fmt.Errorf("%w: code table opcode %d slot 0 has invalid instruction type %d", ErrInvalidFormat, opcode, typ1)
		}
		if typ2 > Copy {
			return nil, fmt.Errorf("%w: code table opcode %d slot 1 has invalid instruction type %d", ErrInvalidFormat, opcode, typ2)
		}
		ct.entries[opcode][0] = NewInstruction(typ1, size1, mode1)
		ct.entries[opcode][1] = NewInstruction(typ2, size2, mode2)
	}
	return ct, nil
}

// codeTableMetaDictionary is the "code table of code tables" dictionary
// custom code tables are decoded against (spec.md section 9): the default
// table's own serialized image. Computed once from the hard-coded default
// table rather than transcribed by hand, which is exactly equivalent and
// avoids a 1536-byte literal prone to transcription error.
var codeTableMetaDictionary = DefaultCodeTable.SerializeImage()
