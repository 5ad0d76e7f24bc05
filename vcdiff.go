package vcdiff

import (
	"bytes"
	"fmt"
	"io"
)

// Decoder decodes a VCDIFF delta against a fixed dictionary held by the
// implementation. Use NewDecoder for repeated decodes against the same
// dictionary, or the Decode package function for one-shot use.
type Decoder interface {
	Decode(delta []byte) ([]byte, error)
}

type decoder struct {
	source         []byte
	allowVCDTarget bool
}

// NewDecoder creates a Decoder bound to source. VCD_TARGET windows (whose
// source segment references previously decoded target rather than source)
// are rejected by default; enable with DecoderOption.
func NewDecoder(source []byte, opts ...DecoderOption) Decoder {
	d := &decoder{source: source}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecoderOption configures a Decoder created by NewDecoder.
type DecoderOption func(*decoder)

// WithVCDTarget enables VCD_TARGET window support.
func WithVCDTarget() DecoderOption {
	return func(d *decoder) { d.allowVCDTarget = true }
}

func (d *decoder) Decode(delta []byte) ([]byte, error) {
	parsed, err := decodeAgainstSource(d.source, delta, d.allowVCDTarget)
	if err != nil {
		return nil, err
	}
	return parsed.target, nil
}

// Decode decodes delta against source in one call, equivalent to
// NewDecoder(source).Decode(delta).
func Decode(source []byte, delta []byte) ([]byte, error) {
	return NewDecoder(source).Decode(delta)
}

// ParseDelta parses a VCDIFF delta into its structural components (header,
// windows, resolved instructions) without requiring a dictionary. COPY
// addresses are resolved for reporting, but window target bytes are not
// reconstructed - use Decode for that.
func ParseDelta(delta []byte) (*ParsedDelta, error) {
	if len(delta) < MinimumFileSize {
		return nil, ErrInvalidFormat
	}

	reader := bytes.NewReader(delta)

	header, codeTable, nearSize, sameSize, err := parseHeader(reader, 1)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedDelta{
		Header:    header,
		CodeTable: codeTable,
		NearSize:  nearSize,
		SameSize:  sameSize,
	}

	addressCache := NewAddressCache(nearSize, sameSize)

	for reader.Len() > 0 {
		window := Window{}
		if err := parseWindow(reader, &window); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		parsed.Windows = append(parsed.Windows, window)

		// No dictionary is bound here, so a window's source segment length
		// is taken from the window's own claimed size - sufficient to
		// report COPY addresses without needing to resolve actual bytes.
		insts, err := describeWindowInstructions(&window, codeTable, window.SourceSegmentSize, addressCache)
		if err != nil {
			return nil, err
		}
		parsed.Instructions = append(parsed.Instructions, insts...)
	}

	return parsed, nil
}

// fullyParsedDelta is the product of a full delta decode against a real
// dictionary: the parsed header/windows plus the reconstructed target.
type fullyParsedDelta struct {
	header  Header
	windows []Window
	target  []byte
}

// decodeAgainstSource parses delta's header and runs every window against
// source (or, for VCD_TARGET windows, against previously decoded target),
// accumulating the reconstructed bytes. This is the shared implementation
// behind decoder.Decode.
func decodeAgainstSource(source []byte, delta []byte, allowVCDTarget bool) (*fullyParsedDelta, error) {
	if len(delta) < MinimumFileSize {
		return nil, ErrInvalidFormat
	}

	reader := bytes.NewReader(delta)

	header, codeTable, nearSize, sameSize, err := parseHeader(reader, 1)
	if err != nil {
		return nil, err
	}

	result := &fullyParsedDelta{header: header}
	addressCache := NewAddressCache(nearSize, sameSize)

	for reader.Len() > 0 {
		window := Window{}
		if err := parseWindow(reader, &window); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		result.windows = append(result.windows, window)

		sourceSegment, err := sourceSegmentFor(&window, source, result.target, allowVCDTarget)
		if err != nil {
			return nil, err
		}

		windowTarget, err := runWindow(&window, codeTable, sourceSegment, addressCache)
		if err != nil {
			return nil, err
		}
		result.target = append(result.target, windowTarget...)
	}

	return result, nil
}

// parseHeader parses the five-byte VCDIFF file header and, when the
// custom-code-table bit is set, the near_size/same_size/max_mode VarInts and
// the nested code table delta that follow it. Returns the active code table
// and address cache geometry for the rest of the decode.
func parseHeader(reader *bytes.Reader, recursionBudget int) (Header, *CodeTable, int, int, error) {
	var header Header
	startPos := reader.Len()

	var magic [3]byte
	n, err := io.ReadFull(reader, magic[:])
	if err != nil {
		return header, nil, 0, 0, errUnexpectedEOF("VCDIFF magic bytes", 3-n)
	}
	if !bytes.Equal(magic[:], VCDIFFMagic[:]) {
		return header, nil, 0, 0, fmt.Errorf("%w: expected %02x%02x%02x but got %02x%02x%02x",
			ErrInvalidMagic, VCDIFFMagic[0], VCDIFFMagic[1], VCDIFFMagic[2], magic[0], magic[1], magic[2])
	}

	version, err := reader.ReadByte()
	if err != nil {
		return header, nil, 0, 0, errUnexpectedEOF("version byte", 1)
	}
	if version != StandardHeaderByte4 && version != ExtendedHeaderByte4 {
		return header, nil, 0, 0, errInvalidValue("version", 3, version,
			fmt.Sprintf("expected 0x%02x (standard) or 0x%02x ('S', extended)", StandardHeaderByte4, ExtendedHeaderByte4))
	}

	indicator, err := reader.ReadByte()
	if err != nil {
		return header, nil, 0, 0, errUnexpectedEOF("header indicator", 1)
	}
	validHeaderBits := byte(VCDDecompress | VCDCodetable | VCDAppHeader)
	if indicator & ^validHeaderBits != 0 {
		return header, nil, 0, 0, errInvalidValue("header indicator", startPos-reader.Len()-1, indicator, "reserved bits must be zero")
	}

	header.Magic = magic
	header.Version = version
	header.Indicator = indicator

	if indicator&VCDDecompress != 0 {
		return header, nil, 0, 0, fmt.Errorf("%w: secondary compression (VCD_DECOMPRESS) is not supported", ErrPolicyViolation)
	}
	if indicator&VCDAppHeader != 0 {
		return header, nil, 0, 0, fmt.Errorf("%w: application header (VCD_APPHEADER) is not supported", ErrPolicyViolation)
	}

	codeTable := DefaultCodeTable
	nearSize := DefaultNearSize
	sameSize := DefaultSameSize

	if indicator&VCDCodetable != 0 {
		if recursionBudget <= 0 {
			return header, nil, 0, 0, fmt.Errorf("%w: custom code table nesting exceeds recursion guard", ErrPolicyViolation)
		}

		customNear, err := ReadVarint(reader)
		if err != nil {
			return header, nil, 0, 0, fmt.Errorf("error reading custom code table near_size: %w", err)
		}
		customSame, err := ReadVarint(reader)
		if err != nil {
			return header, nil, 0, 0, fmt.Errorf("error reading custom code table same_size: %w", err)
		}
		maxMode, err := reader.ReadByte()
		if err != nil {
			return header, nil, 0, 0, errUnexpectedEOF("custom code table max_mode byte", 1)
		}
		expectedMaxMode := 2 + int(customNear) + int(customSame)
		if int(maxMode) != expectedMaxMode {
			return header, nil, 0, 0, errInvalidValue("custom code table max_mode", startPos-reader.Len()-1, maxMode,
				fmt.Sprintf("expected %d given near_size=%d same_size=%d", expectedMaxMode, customNear, customSame))
		}

		custom, err := decodeNestedCodeTable(reader, recursionBudget-1)
		if err != nil {
			return header, nil, 0, 0, fmt.Errorf("error decoding custom code table: %w", err)
		}

		codeTable = custom
		nearSize = int(customNear)
		sameSize = int(customSame)
	}

	return header, codeTable, nearSize, sameSize, nil
}

// parseWindow parses a single VCDIFF delta window, including its nested
// delta-encoding framing (RFC 3284 Section 4.3).
func parseWindow(reader *bytes.Reader, window *Window) error {
	if reader.Len() == 0 {
		return io.EOF
	}
	startLen := reader.Len()

	indicator, err := reader.ReadByte()
	if err != nil {
		return errUnexpectedEOF("window indicator", 1)
	}

	validBits := byte(VCDSource | VCDTarget | VCDAdler32)
	if indicator & ^validBits != 0 {
		return errInvalidValue("window indicator", startLen-reader.Len()-1, indicator, "reserved bits must be zero")
	}
	if indicator&VCDSource != 0 && indicator&VCDTarget != 0 {
		return errInvalidValue("window indicator", startLen-reader.Len()-1, indicator, "VCD_SOURCE and VCD_TARGET are mutually exclusive")
	}

	window.WinIndicator = indicator

	if indicator&(VCDSource|VCDTarget) != 0 {
		sourceSize, err := ReadVarint(reader)
		if err != nil {
			return fmt.Errorf("error reading source segment size: %w", err)
		}
		window.SourceSegmentSize = sourceSize

		sourcePos, err := ReadVarint(reader)
		if err != nil {
			return fmt.Errorf("error reading source segment position: %w", err)
		}
		window.SourceSegmentPosition = sourcePos
	}

	deltaSize, err := ReadVarint(reader)
	if err != nil {
		return fmt.Errorf("error reading delta encoding length: %w", err)
	}
	if deltaSize > DefaultMaxSectionSize {
		return errSectionTooLarge("delta encoding", deltaSize, DefaultMaxSectionSize)
	}
	window.DeltaEncodingLength = deltaSize

	deltaData := make([]byte, deltaSize)
	if _, err := io.ReadFull(reader, deltaData); err != nil {
		return errTruncatedStream("reading delta encoding section")
	}

	return parseDeltaBody(deltaData, window, indicator)
}

// parseDeltaBody parses a window's delta-encoding body (RFC 3284 Section
// 4.3): target length, Delta_Indicator, section lengths, optional
// checksum, then the three section buffers. data must already be the
// complete, exact-length body (the caller has already resolved
// Length-of-delta-encoding and sliced out exactly that many bytes) - this
// function never itself needs more data than it's given, which is what
// lets the streaming driver call it only once a window's delta encoding
// has been fully buffered.
func parseDeltaBody(data []byte, window *Window, winIndicator byte) error {
	deltaReader := bytes.NewReader(data)

	targetSize, err := ReadVarint(deltaReader)
	if err != nil {
		return fmt.Errorf("error reading target window length: %w", err)
	}
	window.TargetWindowLength = targetSize

	deltaIndicator, err := deltaReader.ReadByte()
	if err != nil {
		return errUnexpectedEOF("delta indicator", 1)
	}
	if deltaIndicator != DeltaIndicatorNone {
		return errInvalidValue("delta indicator", 0, deltaIndicator, "secondary compression is not supported, expected 0x00")
	}
	window.DeltaIndicator = deltaIndicator

	dataLength, err := ReadVarint(deltaReader)
	if err != nil {
		return fmt.Errorf("error reading data section length: %w", err)
	}
	window.DataSectionLength = dataLength

	instructionLength, err := ReadVarint(deltaReader)
	if err != nil {
		return fmt.Errorf("error reading instruction section length: %w", err)
	}
	window.InstructionSectionLength = instructionLength

	addressLength, err := ReadVarint(deltaReader)
	if err != nil {
		return fmt.Errorf("error reading address section length: %w", err)
	}
	window.AddressSectionLength = addressLength

	for _, size := range []uint32{dataLength, instructionLength, addressLength} {
		if size > DefaultMaxSectionSize {
			return errSectionTooLarge("window", size, DefaultMaxSectionSize)
		}
	}

	if winIndicator&VCDAdler32 != 0 {
		window.HasChecksum = true
		checksum, err := ReadVarint(deltaReader)
		if err != nil {
			return fmt.Errorf("error reading Adler32 checksum: %w", err)
		}
		window.Checksum = checksum
	}

	window.DataSection = make([]byte, dataLength)
	if _, err := io.ReadFull(deltaReader, window.DataSection); err != nil {
		return errTruncatedStream("reading data section")
	}

	window.InstructionSection = make([]byte, instructionLength)
	if _, err := io.ReadFull(deltaReader, window.InstructionSection); err != nil {
		return errTruncatedStream("reading instruction section")
	}

	window.AddressSection = make([]byte, addressLength)
	if addressLength > 0 {
		if _, err := io.ReadFull(deltaReader, window.AddressSection); err != nil {
			return errTruncatedStream("reading address section")
		}
	}

	return nil
}
