package vcdiff

// InstructionMap is the derived, encoder-side index over a CodeTable: given
// an instruction (and, for COPY, a mode), find the cheapest opcode that
// encodes it either alone or as the second half of a compound opcode whose
// first half is already pending.
//
// Construction walks the table from opcode 0 to 255; ties are broken in
// favor of the lower opcode, matching the decode side's table (which has
// exactly one row per opcode, so "lower opcode" is the only tie-break that
// makes the map deterministic across implementations).
type InstructionMap struct {
	first  map[instKey]byte
	second map[secondKey]byte
}

type instKey struct {
	typ  InstructionType
	size byte
	mode byte
}

type secondKey struct {
	first byte
	typ   InstructionType
	size  byte
	mode  byte
}

// BuildInstructionMap derives an InstructionMap from ct. The result is
// read-only after construction and may be shared by any number of encoders.
func BuildInstructionMap(ct *CodeTable) *InstructionMap {
	im := &InstructionMap{
		first:  make(map[instKey]byte),
		second: make(map[secondKey]byte),
	}
	for opcode := 0; opcode < InstructionTableSize; opcode++ {
		first := ct.Get(byte(opcode), 0)
		second := ct.Get(byte(opcode), 1)

		if first.Type != NoOp {
			k := instKey{first.Type, first.Size, first.Mode}
			if _, exists := im.first[k]; !exists {
				im.first[k] = byte(opcode)
			}
		}
		if second.Type != NoOp {
			// second is keyed by the single opcode that would already be
			// pending for first, not by this compound opcode's own byte:
			// SecondOpcode is always called with an already-emitted single
			// opcode in hand, looking to upgrade it in place.
			firstOpcode, ok := im.first[instKey{first.Type, first.Size, first.Mode}]
			if ok {
				k := secondKey{firstOpcode, second.Type, second.Size, second.Mode}
				if _, exists := im.second[k]; !exists {
					im.second[k] = byte(opcode)
				}
			}
		}
	}
	return im
}

// FirstOpcode looks up a single (non-compound-pending) opcode whose first
// slot matches (typ, size, mode). size == 0 means "explicit VarInt size
// follows in the stream".
func (im *InstructionMap) FirstOpcode(typ InstructionType, size byte, mode byte) (byte, bool) {
	op, ok := im.first[instKey{typ, size, mode}]
	return op, ok
}

// SecondOpcode looks up a compound opcode that upgrades firstOpcode (already
// emitted as a single-instruction opcode) by appending (typ, size, mode) as
// its second instruction.
func (im *InstructionMap) SecondOpcode(firstOpcode byte, typ InstructionType, size byte, mode byte) (byte, bool) {
	op, ok := im.second[secondKey{firstOpcode, typ, size, mode}]
	return op, ok
}

// DefaultInstructionMap is the instruction map derived from DefaultCodeTable.
// Safe for concurrent read-only use by any number of encoders.
var DefaultInstructionMap = BuildInstructionMap(DefaultCodeTable)
