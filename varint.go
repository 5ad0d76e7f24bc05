package vcdiff

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// ReadVarint reads a variable-length integer as defined in RFC 3284 Section 2
// Follows the same algorithm as the C# MiscUtil reference implementation
func ReadVarint(reader *bytes.Reader) (uint32, error) {
	var result uint32
	startLen := reader.Len()

	for i := 0; i < 5; i++ { // Maximum 5 bytes for 32-bit integer
		b, err := reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				bytesRead := startLen - reader.Len()
				return 0, fmt.Errorf("unexpected EOF while reading varint at offset %d: expected continuation or termination byte", bytesRead)
			}
			return 0, err
		}

		// Shift previous result left by 7 bits and add the new 7-bit value
		// This matches the C# reference: ret = (ret << 7) | (b&0x7f);
		result = (result << 7) | uint32(b&VarintValueMask)

		// Check if continuation bit is clear (end of varint)
		if b&VarintContinuationBit == 0 {
			return result, nil
		}
	}

	// If we've read 5 bytes without finding the end, the data is invalid
	startOffset := startLen - reader.Len() - 5
	return 0, fmt.Errorf("invalid varint at offset %d: exceeds maximum 5-byte encoding (continuation bit never cleared)", startOffset)
}

// CalcVarintLen returns the number of bytes WriteUvarint64 would emit for v,
// without emitting them.
func CalcVarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendUvarint64 appends the big-endian base-128 encoding of v to buf and
// returns the extended slice. Used for both the 32-bit and 64-bit writers;
// callers are responsible for knowing v fits the width they intend (32-bit
// values always produce at most 5 bytes, so the shared encoder naturally
// satisfies WriteUvarint32's 5-byte cap).
func AppendUvarint64(buf []byte, v uint64) []byte {
	var groups [10]byte
	n := 0
	groups[n] = byte(v & uint64(VarintValueMask))
	n++
	v >>= VarintShiftIncrement
	for v > 0 {
		groups[n] = byte(v & uint64(VarintValueMask))
		n++
		v >>= VarintShiftIncrement
	}
	for i := n - 1; i >= 0; i-- {
		b := groups[i]
		if i != 0 {
			b |= VarintContinuationBit
		}
		buf = append(buf, b)
	}
	return buf
}

// WriteUvarint32 writes the VarInt encoding of v (1-5 bytes).
func WriteUvarint32(w io.Writer, v uint32) error {
	var scratch [5]byte
	buf := AppendUvarint64(scratch[:0], uint64(v))
	_, err := w.Write(buf)
	return err
}

// WriteUvarint64 writes the VarInt encoding of v (1-10 bytes).
func WriteUvarint64(w io.Writer, v uint64) error {
	var scratch [10]byte
	buf := AppendUvarint64(scratch[:0], v)
	_, err := w.Write(buf)
	return err
}

// ReadVarint32Bytes reads a big-endian base-128 VarInt from the start of buf,
// capped at 5 bytes as required for a 32-bit value. It returns the decoded
// value and the number of bytes consumed.
//
// If buf ends before a terminating byte is found (and fewer than 5 bytes
// have been seen), it returns ErrNeedMoreData with consumed == 0: the caller
// should retry once more bytes are buffered. Exceeding 5 bytes, or a value
// that does not fit in 32 bits, is reported as ErrCorruptedData - a
// malformed encoding, not a truncated one.
func ReadVarint32Bytes(buf []byte) (value uint32, consumed int, err error) {
	var result uint64
	for i := 0; i < 5; i++ {
		if i >= len(buf) {
			return 0, 0, ErrNeedMoreData
		}
		b := buf[i]
		result = (result << VarintShiftIncrement) | uint64(b&VarintValueMask)
		if b&VarintContinuationBit == 0 {
			if result > math.MaxUint32 {
				return 0, 0, fmt.Errorf("%w: 32-bit varint value %d overflows uint32", ErrCorruptedData, result)
			}
			return uint32(result), i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: varint exceeds maximum 5-byte encoding for a 32-bit value", ErrCorruptedData)
}

// ReadVarint64Bytes is ReadVarint32Bytes's 64-bit counterpart, capped at 10
// bytes.
func ReadVarint64Bytes(buf []byte) (value uint64, consumed int, err error) {
	var result uint64
	for i := 0; i < 10; i++ {
		if i >= len(buf) {
			return 0, 0, ErrNeedMoreData
		}
		b := buf[i]
		if result > (math.MaxUint64 >> VarintShiftIncrement) {
			return 0, 0, fmt.Errorf("%w: 64-bit varint overflows uint64", ErrCorruptedData)
		}
		result = (result << VarintShiftIncrement) | uint64(b&VarintValueMask)
		if b&VarintContinuationBit == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: varint exceeds maximum 10-byte encoding for a 64-bit value", ErrCorruptedData)
}
