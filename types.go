package vcdiff

// VCDIFF magic bytes and version - RFC 3284 Section 4.1
const (
	VCDIFFMagic1  = 0xD6 // First magic byte: 'V' with high bit set
	VCDIFFMagic2  = 0xC3 // Second magic byte: 'C' with high bit set
	VCDIFFMagic3  = 0xC4 // Third magic byte: 'D' with high bit set
	VCDIFFVersion = 0x00 // Version 0 as defined in RFC 3284
)

// VCDIFFMagic is the expected magic number sequence - RFC 3284 Section 4.1
var VCDIFFMagic = [3]byte{VCDIFFMagic1, VCDIFFMagic2, VCDIFFMagic3}

// Header indicator flags - RFC 3284 Section 4.1
const (
	VCDDecompress = 0x01 // VCD_DECOMPRESS: secondary compression used
	VCDCodetable  = 0x02 // VCD_CODETABLE: custom instruction table used
	VCDAppHeader  = 0x04 // VCD_APPHEADER: application header present
)

// Window indicator flags - RFC 3284 Section 4.2
const (
	VCDSource  = 0x01 // VCD_SOURCE: window uses source data
	VCDTarget  = 0x02 // VCD_TARGET: window uses target data
	VCDAdler32 = 0x04 // VCD_ADLER32: window includes Adler-32 checksum (non-standard extension)
)

// Variable-length integer encoding constants - RFC 3284 Section 2
const (
	VarintContinuationBit = 0x80 // High bit indicates continuation
	VarintValueMask       = 0x7F // Mask for 7-bit value portion
	VarintMaxShift        = 32   // Maximum shift to prevent overflow
	VarintShiftIncrement  = 7    // Bits to shift for each byte
)

// Single-instruction opcode ranges of the default code table - RFC 3284
// Section 5. Opcodes 163-255 are compound (two instructions per opcode) and
// fall in none of these ranges.
const (
	RunInstructionMin  = 0   // RUN instructions: 0
	RunInstructionMax  = 0   // RUN instructions: 0
	AddInstructionMin  = 1   // ADD instructions: 1-18
	AddInstructionMax  = 18  // ADD instructions: 1-18
	CopyInstructionMin = 19  // COPY instructions: 19-162
	CopyInstructionMax = 162 // COPY instructions: 19-162
)

// Address cache configuration - RFC 3284 Section 5.3
const (
	NearCacheSize        = 4   // Number of slots in the "near" address cache
	SameCacheSize        = 3   // Number of buckets in the "same" address cache (table holds SameCacheSize*256 entries)
	InstructionTableSize = 256 // Size of instruction code table
)

// File format validation constants
const (
	MinimumFileSize = 4 // Minimum VCDIFF file size (magic + version)
)

// Fourth header byte - RFC 3284 Section 4.1 plus the SDCH extended-header
// convention: a fourth byte of 'S' (0x53) in place of the plain version byte
// signals that the extended (SDCH) feature set may be present.
const (
	StandardHeaderByte4 = VCDIFFVersion // 0x00: no extensions
	ExtendedHeaderByte4 = 'S'           // 0x53: extensions enabled
)

// Delta_Indicator - RFC 3284 Section 4.3. This codec never sets any bit:
// secondary compression is out of scope and this encoder never emits one.
const (
	DeltaIndicatorNone = 0x00
)

// Default per-section size cap used by the streaming driver to bound memory
// use against malicious or corrupt input. Configurable via
// StreamingDecoder.SetMaxTargetWindowSize and friends.
const DefaultMaxSectionSize = 64 * 1024 * 1024 // 64 MiB

// Default address cache geometry - RFC 3284 Section 5.3/5.4.
const (
	DefaultNearSize = NearCacheSize // 4
	DefaultSameSize = 3             // 3 (table itself has SameSize*256 entries)
	DefaultMaxMode  = 2 + DefaultNearSize + DefaultSameSize
)

type Header struct {
	Magic     [3]byte
	Version   byte
	Indicator byte
}

type Window struct {
	WinIndicator             byte   // Win_Indicator - RFC 3284 Section 4.2
	SourceSegmentSize        uint32 // Source segment size - RFC 3284 Section 4.2
	SourceSegmentPosition    uint32 // Source segment position - RFC 3284 Section 4.2
	TargetWindowLength       uint32 // Length of the target window - RFC 3284 Section 4.3
	DeltaEncodingLength      uint32 // Length of the delta encoding - RFC 3284 Section 4.3
	DeltaIndicator           byte   // Delta_Indicator - RFC 3284 Section 4.3
	DataSectionLength        uint32 // Length of data for ADDs and RUNs - RFC 3284 Section 4.3
	InstructionSectionLength uint32 // Length of instructions section - RFC 3284 Section 4.3
	AddressSectionLength     uint32 // Length of addresses for COPYs - RFC 3284 Section 4.3
	DataSection              []byte // Data section for ADDs and RUNs - RFC 3284 Section 4.3
	InstructionSection       []byte // Instructions and sizes section - RFC 3284 Section 4.3
	AddressSection           []byte // Addresses section for COPYs - RFC 3284 Section 4.3
	Checksum                 uint32 // Adler-32 checksum of target window (VCD_ADLER32 extension)
	HasChecksum              bool   // Whether VCD_ADLER32 bit is set in WinIndicator
}

type ParsedDelta struct {
	Header       Header
	Windows      []Window
	Instructions []RuntimeInstruction

	// CodeTable is DefaultCodeTable unless the header carried a custom
	// code table (VCD_CODETABLE), in which case it is the table decoded
	// from the embedded nested delta.
	CodeTable *CodeTable
	NearSize  int
	SameSize  int
}
