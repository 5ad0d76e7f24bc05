package vcdiff

import (
	"bytes"
	"fmt"
	"io"
)

// Encoder builds a VCDIFF delta against a fixed-size dictionary, one window
// at a time. Callers drive it directly: Init a window, issue Add/Run/Copy
// calls in target order, optionally AddChecksum, then Output to flush.
//
// An Encoder owns mutable per-window state and is not safe for concurrent
// use; DefaultCodeTable and DefaultInstructionMap (or any custom pair
// supplied via WithCustomCodeTable) are read-only and may be shared by many
// encoders.
type Encoder struct {
	interleaved bool

	codeTable      *CodeTable
	instructionMap *InstructionMap
	nearSize       int
	sameSize       int

	initialized    bool
	dictionarySize uint32
	addressCache   *AddressCache

	data         []byte
	instructions []byte
	addresses    []byte

	lastOpcodeIndex int // -1 means none pending
	windowTarget    uint32
	hasChecksum     bool
	checksum        uint32

	totalTarget uint32
}

// EncoderOption configures a new Encoder.
type EncoderOption func(*Encoder)

// WithCustomCodeTable configures the encoder to emit opcodes against a
// custom code table instead of DefaultCodeTable. The table is never
// embedded in the output header (spec.md section 9: custom code tables are
// an encoder-configuration input here, not an emitted feature) - the
// decoder on the other end must be configured with the same table
// out-of-band.
func WithCustomCodeTable(ct *CodeTable, nearSize, sameSize int) EncoderOption {
	return func(e *Encoder) {
		e.codeTable = ct
		e.instructionMap = BuildInstructionMap(ct)
		e.nearSize = nearSize
		e.sameSize = sameSize
	}
}

// NewEncoder creates an Encoder. interleaved selects interleaved layout
// (data and address bytes routed inline into the instructions section)
// versus segregated layout (three separate sections).
func NewEncoder(interleaved bool, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		interleaved:     interleaved,
		codeTable:       DefaultCodeTable,
		instructionMap:  DefaultInstructionMap,
		nearSize:        DefaultNearSize,
		sameSize:        DefaultSameSize,
		lastOpcodeIndex: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init resets per-window state (address cache, target length,
// last-opcode-index) and enables the encoder for a new window against a
// dictionary of the given size. Re-callable between windows; Output also
// calls it implicitly.
func (e *Encoder) Init(dictionarySize uint32) error {
	e.dictionarySize = dictionarySize
	e.addressCache = NewAddressCache(e.nearSize, e.sameSize)
	e.resetWindowState()
	e.initialized = true
	return nil
}

func (e *Encoder) resetWindowState() {
	e.data = e.data[:0]
	e.instructions = e.instructions[:0]
	e.addresses = e.addresses[:0]
	e.lastOpcodeIndex = -1
	e.windowTarget = 0
	e.hasChecksum = false
	e.checksum = 0
}

// Add appends length bytes of data[offset:offset+length] as an ADD
// instruction.
func (e *Encoder) Add(data []byte, offset, length int) error {
	if !e.initialized {
		return errUsageBeforeInit("Add")
	}
	if offset < 0 || length < 0 || offset+length > len(data) {
		return errSliceOutOfBounds("Add", offset, length, len(data))
	}
	if err := e.encodeInstruction(Add, uint32(length), 0); err != nil {
		return err
	}
	e.appendDataPayload(data[offset : offset+length])
	e.windowTarget += uint32(length)
	return nil
}

// Run appends a RUN instruction: size copies of b.
func (e *Encoder) Run(size uint32, b byte) error {
	if !e.initialized {
		return errUsageBeforeInit("Run")
	}
	if err := e.encodeInstruction(Run, size, 0); err != nil {
		return err
	}
	e.appendDataPayload([]byte{b})
	e.windowTarget += size
	return nil
}

// Copy appends a COPY instruction referencing size bytes starting at offset
// in the combined dictionary||target-so-far address space.
func (e *Encoder) Copy(offset, size uint32) error {
	if !e.initialized {
		return errUsageBeforeInit("Copy")
	}
	here := e.dictionarySize + e.windowTarget
	if offset >= here {
		return errInvalidValue("Copy offset", 0, offset, fmt.Sprintf("must be < dictionary_size+target_length (%d)", here))
	}
	mode, encoded := e.addressCache.EncodeAddress(offset, here)
	if err := e.encodeInstruction(Copy, size, mode); err != nil {
		return err
	}
	e.appendAddressPayload(encoded)
	e.windowTarget += size
	return nil
}

// AddChecksum records an Adler32 checksum to be emitted with the current
// window.
func (e *Encoder) AddChecksum(checksum uint32) {
	e.hasChecksum = true
	e.checksum = checksum
}

// TargetLength returns the total number of target bytes encoded across all
// windows flushed so far by Output.
func (e *Encoder) TargetLength() uint32 {
	return e.totalTarget
}

// appendDataPayload routes an ADD/RUN instruction's literal data bytes to
// the instructions buffer directly in interleaved mode, or to the separate
// data section otherwise. The caller has just emitted the opcode (and any
// explicit size VarInt) for this same instruction, so appending here keeps
// the instructions buffer's byte order exactly matching decode order in
// interleaved mode.
func (e *Encoder) appendDataPayload(payload []byte) {
	if e.interleaved {
		e.instructions = append(e.instructions, payload...)
	} else {
		e.data = append(e.data, payload...)
	}
}

// appendAddressPayload is appendDataPayload's COPY-address counterpart,
// routing to the instructions buffer (interleaved) or the separate address
// section (segregated).
func (e *Encoder) appendAddressPayload(payload []byte) {
	if e.interleaved {
		e.instructions = append(e.instructions, payload...)
	} else {
		e.addresses = append(e.addresses, payload...)
	}
}

// encodeInstruction implements the compound-opcode-upgrade algorithm
// (spec.md section 4.4): a pending single-instruction opcode is upgraded in
// place into a compound opcode whenever the code table has one, instead of
// always emitting a fresh opcode byte per instruction.
func (e *Encoder) encodeInstruction(inst InstructionType, size uint32, mode byte) error {
	if e.lastOpcodeIndex >= 0 {
		prevOpcode := e.instructions[e.lastOpcodeIndex]

		if size > 0 && size <= 255 {
			if op, ok := e.instructionMap.SecondOpcode(prevOpcode, inst, byte(size), mode); ok {
				e.instructions[e.lastOpcodeIndex] = op
				e.lastOpcodeIndex = -1
				return nil
			}
		}
		if op, ok := e.instructionMap.SecondOpcode(prevOpcode, inst, 0, mode); ok {
			e.instructions[e.lastOpcodeIndex] = op
			e.lastOpcodeIndex = -1
			e.instructions = AppendUvarint64(e.instructions, uint64(size))
			return nil
		}
	}

	if size > 0 && size <= 255 {
		if op, ok := e.instructionMap.FirstOpcode(inst, byte(size), mode); ok {
			e.instructions = append(e.instructions, op)
			e.lastOpcodeIndex = len(e.instructions) - 1
			return nil
		}
	}

	if op, ok := e.instructionMap.FirstOpcode(inst, 0, mode); ok {
		e.instructions = append(e.instructions, op)
		e.instructions = AppendUvarint64(e.instructions, uint64(size))
		// Not upgrade-eligible: a trailing VarInt now sits between this
		// opcode and the end of the buffer, so rewriting the opcode byte in
		// place to a compound one would strand that VarInt as corrupt
		// trailing bytes (DESIGN.md open question 3).
		e.lastOpcodeIndex = -1
		return nil
	}

	return errNoOpcodeForInstruction(inst, size, mode)
}

// Output frames and flushes the current window to sink if any instruction
// was emitted, then implicitly re-inits for the next window (same
// dictionary size, fresh address cache and buffers).
func (e *Encoder) Output(sink io.Writer) error {
	if !e.initialized {
		return errUsageBeforeInit("Output")
	}

	if len(e.instructions) > 0 {
		if err := e.flushWindow(sink); err != nil {
			return err
		}
	}

	dictionarySize := e.dictionarySize
	e.resetWindowState()
	e.dictionarySize = dictionarySize
	e.addressCache = NewAddressCache(e.nearSize, e.sameSize)
	return nil
}

func (e *Encoder) flushWindow(sink io.Writer) error {
	dataLen := 0
	addrLen := 0
	if !e.interleaved {
		dataLen = len(e.data)
		addrLen = len(e.addresses)
	}
	instLen := len(e.instructions)

	var deltaBody bytes.Buffer
	if err := WriteUvarint32(&deltaBody, e.windowTarget); err != nil {
		return err
	}
	deltaBody.WriteByte(DeltaIndicatorNone)
	if err := WriteUvarint32(&deltaBody, uint32(dataLen)); err != nil {
		return err
	}
	if err := WriteUvarint32(&deltaBody, uint32(instLen)); err != nil {
		return err
	}
	if err := WriteUvarint32(&deltaBody, uint32(addrLen)); err != nil {
		return err
	}
	if e.hasChecksum {
		if err := WriteUvarint64(&deltaBody, uint64(e.checksum)); err != nil {
			return err
		}
	}

	expectedLen := CalcVarintLen(uint64(e.windowTarget)) + 1 +
		CalcVarintLen(uint64(dataLen)) + CalcVarintLen(uint64(instLen)) + CalcVarintLen(uint64(addrLen)) +
		dataLen + instLen + addrLen
	if e.hasChecksum {
		expectedLen += CalcVarintLen(uint64(e.checksum))
	}

	if !e.interleaved {
		deltaBody.Write(e.data)
	}
	deltaBody.Write(e.instructions)
	if !e.interleaved {
		deltaBody.Write(e.addresses)
	}

	if deltaBody.Len() != expectedLen {
		return errFramedLengthMismatch(expectedLen, deltaBody.Len())
	}

	winIndicator := byte(VCDSource)
	if e.hasChecksum {
		winIndicator |= VCDAdler32
	}

	if _, err := sink.Write([]byte{winIndicator}); err != nil {
		return err
	}
	if err := WriteUvarint32(sink, e.dictionarySize); err != nil {
		return err
	}
	if err := WriteUvarint32(sink, 0); err != nil {
		return err
	}
	if err := WriteUvarint32(sink, uint32(deltaBody.Len())); err != nil {
		return err
	}
	if _, err := sink.Write(deltaBody.Bytes()); err != nil {
		return err
	}

	e.totalTarget += e.windowTarget
	return nil
}

// WriteHeader emits the five-byte VCDIFF file header. extended selects the
// fourth header byte: false writes the standard 0x00 version byte, true
// writes 'S' (the SDCH extended-header marker). Hdr_Indicator is always
// 0x00: this encoder never emits VCD_DECOMPRESS or VCD_CODETABLE, even when
// configured with a custom code table (see WithCustomCodeTable).
func (e *Encoder) WriteHeader(sink io.Writer, extended bool) error {
	magic := []byte{VCDIFFMagic1, VCDIFFMagic2, VCDIFFMagic3}
	if _, err := sink.Write(magic); err != nil {
		return err
	}
	versionByte := byte(StandardHeaderByte4)
	if extended {
		versionByte = ExtendedHeaderByte4
	}
	if _, err := sink.Write([]byte{versionByte, 0x00}); err != nil {
		return err
	}
	return nil
}
