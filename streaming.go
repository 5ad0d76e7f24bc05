package vcdiff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// streamState is the streaming driver's position in RFC 3284 Section 4.6's
// state machine, collapsed to the two states that matter between
// DecodeChunk calls: a window's own sub-states never straddle a call,
// since tryParseWindow either finds a complete window buffered or reports
// ErrNeedMoreData without consuming anything.
type streamState int

const (
	streamExpectHeader streamState = iota
	streamExpectWinIndicator
)

// StreamingDecoder decodes a VCDIFF delta fed in arbitrarily small chunks,
// including one byte at a time. All parsing is restartable at any byte
// boundary: a chunk that ends mid-structure simply buffers until enough
// bytes arrive to complete the current header or window.
type StreamingDecoder struct {
	allowVCDTarget      bool
	maxTargetFileSize   uint64
	maxTargetWindowSize uint32

	dictionary []byte
	buf        []byte
	state      streamState

	codeTable    *CodeTable
	nearSize     int
	sameSize     int
	addressCache *AddressCache

	target          []byte
	totalTargetSize uint64

	started  bool
	finished bool
}

// NewStreamingDecoder creates a StreamingDecoder. Call StartDecoding before
// feeding any chunks.
func NewStreamingDecoder() *StreamingDecoder {
	return &StreamingDecoder{
		maxTargetWindowSize: DefaultMaxSectionSize,
	}
}

// SetAllowVCDTarget controls whether windows whose source segment is a
// slice of previously decoded target (rather than the dictionary) are
// accepted. Default false.
func (sd *StreamingDecoder) SetAllowVCDTarget(allow bool) {
	sd.allowVCDTarget = allow
}

// SetMaxTargetFileSize caps the total number of target bytes produced
// across the whole decode. 0 means unlimited.
func (sd *StreamingDecoder) SetMaxTargetFileSize(limit uint64) {
	sd.maxTargetFileSize = limit
}

// SetMaxTargetWindowSize caps both a single window's target length and any
// individual section's length. 0 resets to DefaultMaxSectionSize.
func (sd *StreamingDecoder) SetMaxTargetWindowSize(limit uint32) {
	if limit == 0 {
		limit = DefaultMaxSectionSize
	}
	sd.maxTargetWindowSize = limit
}

// StartDecoding resets the driver and binds it to dictionary for the
// decode that follows.
func (sd *StreamingDecoder) StartDecoding(dictionary []byte) error {
	sd.dictionary = dictionary
	sd.buf = sd.buf[:0]
	sd.state = streamExpectHeader
	sd.codeTable = nil
	sd.addressCache = nil
	sd.target = sd.target[:0]
	sd.totalTargetSize = 0
	sd.started = true
	sd.finished = false
	return nil
}

// DecodeChunk feeds buf[offset:offset+length] to the driver, writing any
// newly decoded target bytes to sink before returning. It may be called
// with arbitrarily small slices, including length 1.
func (sd *StreamingDecoder) DecodeChunk(buf []byte, offset, length int, sink io.Writer) error {
	if !sd.started {
		return errUsageBeforeInit("DecodeChunk")
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return errSliceOutOfBounds("DecodeChunk", offset, length, len(buf))
	}

	sd.buf = append(sd.buf, buf[offset:offset+length]...)

	for {
		progressed, err := sd.tryAdvance(sink)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// FinishDecoding signals end of input. It fails unless the driver is
// between windows (EXPECT_WIN_INDICATOR) with no partial window buffered -
// anything else means the stream was truncated.
func (sd *StreamingDecoder) FinishDecoding() error {
	if !sd.started {
		return errUsageBeforeInit("FinishDecoding")
	}
	if sd.state != streamExpectWinIndicator {
		return errTruncatedStream("expecting the VCDIFF header")
	}
	if len(sd.buf) != 0 {
		return errTruncatedStream("expecting a window indicator")
	}
	sd.finished = true
	return nil
}

// tryAdvance makes exactly one unit of progress (parsing the header, or
// decoding one window) if enough bytes are buffered, reporting (false, nil)
// when more input is needed.
func (sd *StreamingDecoder) tryAdvance(sink io.Writer) (bool, error) {
	switch sd.state {
	case streamExpectHeader:
		consumed, header, codeTable, nearSize, sameSize, err := tryParseHeader(sd.buf)
		if errors.Is(err, ErrNeedMoreData) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		_ = header
		sd.codeTable = codeTable
		sd.nearSize = nearSize
		sd.sameSize = sameSize
		sd.addressCache = NewAddressCache(nearSize, sameSize)
		sd.buf = sd.buf[consumed:]
		sd.state = streamExpectWinIndicator
		return true, nil

	case streamExpectWinIndicator:
		if len(sd.buf) == 0 {
			return false, nil
		}
		consumed, window, err := tryParseWindow(sd.buf, sd.maxTargetWindowSize)
		if errors.Is(err, ErrNeedMoreData) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if window.TargetWindowLength > sd.maxTargetWindowSize {
			return false, errSectionTooLarge("target window", window.TargetWindowLength, sd.maxTargetWindowSize)
		}

		sourceSegment, err := sourceSegmentFor(&window, sd.dictionary, sd.target, sd.allowVCDTarget)
		if err != nil {
			return false, err
		}
		windowTarget, err := runWindow(&window, sd.codeTable, sourceSegment, sd.addressCache)
		if err != nil {
			return false, err
		}

		sd.totalTargetSize += uint64(len(windowTarget))
		if sd.maxTargetFileSize != 0 && sd.totalTargetSize > sd.maxTargetFileSize {
			return false, fmt.Errorf("%w: total target size %d exceeds configured limit %d", ErrPolicyViolation, sd.totalTargetSize, sd.maxTargetFileSize)
		}

		if sd.allowVCDTarget {
			sd.target = append(sd.target, windowTarget...)
		}
		if _, err := sink.Write(windowTarget); err != nil {
			return false, err
		}

		sd.buf = sd.buf[consumed:]
		return true, nil
	}

	return false, nil
}

// tryParseHeader attempts to parse a complete VCDIFF file header (including
// any custom code table it carries) from the start of buf, without
// consuming anything if the header isn't fully buffered yet.
func tryParseHeader(buf []byte) (consumed int, header Header, codeTable *CodeTable, nearSize, sameSize int, err error) {
	if len(buf) < 5 {
		return 0, header, nil, 0, 0, ErrNeedMoreData
	}

	var magic [3]byte
	copy(magic[:], buf[:3])
	if !bytes.Equal(magic[:], VCDIFFMagic[:]) {
		return 0, header, nil, 0, 0, fmt.Errorf("%w: expected %02x%02x%02x but got %02x%02x%02x",
			ErrInvalidMagic, VCDIFFMagic[0], VCDIFFMagic[1], VCDIFFMagic[2], magic[0], magic[1], magic[2])
	}

	version := buf[3]
	if version != StandardHeaderByte4 && version != ExtendedHeaderByte4 {
		return 0, header, nil, 0, 0, errInvalidValue("version", 3, version,
			fmt.Sprintf("expected 0x%02x (standard) or 0x%02x ('S', extended)", StandardHeaderByte4, ExtendedHeaderByte4))
	}

	indicator := buf[4]
	validHeaderBits := byte(VCDDecompress | VCDCodetable | VCDAppHeader)
	if indicator & ^validHeaderBits != 0 {
		return 0, header, nil, 0, 0, errInvalidValue("header indicator", 4, indicator, "reserved bits must be zero")
	}

	header.Magic = magic
	header.Version = version
	header.Indicator = indicator
	pos := 5

	if indicator&VCDDecompress != 0 {
		return 0, header, nil, 0, 0, fmt.Errorf("%w: secondary compression (VCD_DECOMPRESS) is not supported", ErrPolicyViolation)
	}
	if indicator&VCDAppHeader != 0 {
		return 0, header, nil, 0, 0, fmt.Errorf("%w: application header (VCD_APPHEADER) is not supported", ErrPolicyViolation)
	}

	if indicator&VCDCodetable == 0 {
		return pos, header, DefaultCodeTable, DefaultNearSize, DefaultSameSize, nil
	}

	customNear, n, err2 := ReadVarint32Bytes(buf[pos:])
	if err2 != nil {
		return 0, header, nil, 0, 0, err2
	}
	pos += n

	customSame, n, err2 := ReadVarint32Bytes(buf[pos:])
	if err2 != nil {
		return 0, header, nil, 0, 0, err2
	}
	pos += n

	if pos >= len(buf) {
		return 0, header, nil, 0, 0, ErrNeedMoreData
	}
	maxMode := buf[pos]
	pos++

	expectedMaxMode := 2 + int(customNear) + int(customSame)
	if int(maxMode) != expectedMaxMode {
		return 0, header, nil, 0, 0, errInvalidValue("custom code table max_mode", pos-1, maxMode,
			fmt.Sprintf("expected %d given near_size=%d same_size=%d", expectedMaxMode, customNear, customSame))
	}

	imageConsumed, image, err2 := tryDecodeCodeTableImage(buf[pos:])
	if err2 != nil {
		return 0, header, nil, 0, 0, err2
	}
	pos += imageConsumed

	custom, err2 := CodeTableFromImage(image)
	if err2 != nil {
		return 0, header, nil, 0, 0, err2
	}

	return pos, header, custom, int(customNear), int(customSame), nil
}

// tryDecodeCodeTableImage decodes the nested delta (against
// codeTableMetaDictionary) embedded in a custom-code-table header, from the
// start of buf, reporting ErrNeedMoreData if it isn't fully buffered yet.
func tryDecodeCodeTableImage(buf []byte) (consumed int, image []byte, err error) {
	target := make([]byte, 0, CodeTableImageSize)
	addressCache := NewAddressCache(DefaultNearSize, DefaultSameSize)
	pos := 0

	for len(target) < CodeTableImageSize {
		n, window, werr := tryParseWindow(buf[pos:], DefaultMaxSectionSize)
		if werr != nil {
			return 0, nil, werr
		}

		sourceSegment, serr := sourceSegmentFor(&window, codeTableMetaDictionary, target, false)
		if serr != nil {
			return 0, nil, serr
		}
		windowTarget, rerr := runWindow(&window, DefaultCodeTable, sourceSegment, addressCache)
		if rerr != nil {
			return 0, nil, rerr
		}

		target = append(target, windowTarget...)
		pos += n
	}

	if len(target) != CodeTableImageSize {
		return 0, nil, errFramedLengthMismatch(CodeTableImageSize, len(target))
	}

	return pos, target, nil
}

// tryParseWindow attempts to parse one complete window from the start of
// buf, reporting ErrNeedMoreData (consuming nothing) if the window's
// framed length extends past what's buffered.
func tryParseWindow(buf []byte, maxSectionSize uint32) (consumed int, window Window, err error) {
	if len(buf) == 0 {
		return 0, window, ErrNeedMoreData
	}
	pos := 0

	indicator := buf[pos]
	pos++

	validBits := byte(VCDSource | VCDTarget | VCDAdler32)
	if indicator & ^validBits != 0 {
		return 0, window, errInvalidValue("window indicator", 0, indicator, "reserved bits must be zero")
	}
	if indicator&VCDSource != 0 && indicator&VCDTarget != 0 {
		return 0, window, errInvalidValue("window indicator", 0, indicator, "VCD_SOURCE and VCD_TARGET are mutually exclusive")
	}
	window.WinIndicator = indicator

	if indicator&(VCDSource|VCDTarget) != 0 {
		size, n, verr := ReadVarint32Bytes(buf[pos:])
		if verr != nil {
			return 0, window, verr
		}
		window.SourceSegmentSize = size
		pos += n

		posVal, n, verr := ReadVarint32Bytes(buf[pos:])
		if verr != nil {
			return 0, window, verr
		}
		window.SourceSegmentPosition = posVal
		pos += n
	}

	deltaSize, n, verr := ReadVarint32Bytes(buf[pos:])
	if verr != nil {
		return 0, window, verr
	}
	if deltaSize > maxSectionSize {
		return 0, window, errSectionTooLarge("delta encoding", deltaSize, maxSectionSize)
	}
	window.DeltaEncodingLength = deltaSize
	pos += n

	if pos+int(deltaSize) > len(buf) {
		return 0, window, ErrNeedMoreData
	}
	deltaData := buf[pos : pos+int(deltaSize)]
	pos += int(deltaSize)

	if err := parseDeltaBody(deltaData, &window, indicator); err != nil {
		return 0, window, err
	}

	return pos, window, nil
}
