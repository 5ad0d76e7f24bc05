package vcdiff

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", Err...) when more
// context is available; callers can still match with errors.Is.
var (
	ErrInvalidMagic    = errors.New("invalid VCDIFF magic bytes")
	ErrInvalidVersion  = errors.New("unsupported VCDIFF version")
	ErrInvalidFormat   = errors.New("invalid VCDIFF format")
	ErrCorruptedData   = errors.New("corrupted VCDIFF data")
	ErrInvalidChecksum = errors.New("invalid checksum")

	// ErrNeedMoreData signals that a streaming parse could not make
	// progress because the buffered input ends mid-structure. It is never
	// terminal: callers retry after buffering more bytes.
	ErrNeedMoreData = errors.New("need more input data")

	// ErrPolicyViolation covers configured limits and disabled features
	// encountered in otherwise well-formed input (VCD_TARGET disallowed,
	// section size caps exceeded, secondary compression requested).
	ErrPolicyViolation = errors.New("policy violation")

	// ErrUsage covers encoder API misuse (calls before Init, bad slice
	// bounds) rather than malformed wire data.
	ErrUsage = errors.New("usage error")

	// ErrInternal covers invariants the codec itself is responsible for
	// maintaining (framed length mismatches, a code table with no opcode
	// for some required instruction).
	ErrInternal = errors.New("internal invariant violation")
)

func errUnexpectedEOF(context string, bytesNeeded int) error {
	return fmt.Errorf("unexpected EOF while reading %s: need %d bytes", context, bytesNeeded)
}

func errDataOverrun(instruction string, offset int, needed int, available int) error {
	return fmt.Errorf("%s instruction at offset %d requires %d bytes but only %d available in data section",
		instruction, offset, needed, available)
}

func errInvalidValue(field string, offset int, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s at offset %d: value %v, %s", field, offset, value, reason)
}

func errOutOfBounds(instruction string, address uint32, size uint32, maxBound uint32) error {
	return fmt.Errorf("%s instruction address %d + size %d exceeds bounds (max %d)",
		instruction, address, size, maxBound)
}

func errSectionTooLarge(section string, length uint32, cap uint32) error {
	return fmt.Errorf("%w: %s section length %d exceeds configured cap %d", ErrPolicyViolation, section, length, cap)
}

func errVCDTargetDisallowed() error {
	return fmt.Errorf("%w: window uses VCD_TARGET but it is disallowed", ErrPolicyViolation)
}

func errUsageBeforeInit(op string) error {
	return fmt.Errorf("%w: %s called before Init", ErrUsage, op)
}

func errSliceOutOfBounds(op string, offset, length, bufLen int) error {
	return fmt.Errorf("%w: %s slice [%d:%d+%d] out of bounds for %d-byte buffer", ErrUsage, op, offset, offset, length, bufLen)
}

func errNoOpcodeForInstruction(inst InstructionType, size uint32, mode byte) error {
	return fmt.Errorf("%w: code table has no opcode for %s size=%d mode=%d", ErrInternal, inst, size, mode)
}

func errFramedLengthMismatch(expected, actual int) error {
	return fmt.Errorf("%w: delta window framed length %d disagrees with %d bytes actually written", ErrInternal, expected, actual)
}

func errTruncatedStream(state string) error {
	return fmt.Errorf("%w: stream ended while %s", ErrCorruptedData, state)
}
