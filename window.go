package vcdiff

import (
	"bytes"
	"fmt"
	"io"
)

// sourceSegmentFor resolves the bytes a window's COPY instructions may
// reference: a slice of the dictionary (VCD_SOURCE) or a slice of
// previously decoded target (VCD_TARGET). Returns nil, nil if the window
// sets neither bit (COPY is then simply unavailable in that window).
func sourceSegmentFor(w *Window, dictionary []byte, priorTarget []byte, allowVCDTarget bool) ([]byte, error) {
	if w.WinIndicator&VCDTarget != 0 {
		if !allowVCDTarget {
			return nil, errVCDTargetDisallowed()
		}
		start := uint64(w.SourceSegmentPosition)
		end := start + uint64(w.SourceSegmentSize)
		if end > uint64(len(priorTarget)) {
			return nil, errOutOfBounds("VCD_TARGET source segment", w.SourceSegmentPosition, w.SourceSegmentSize, uint32(len(priorTarget)))
		}
		return priorTarget[start:end], nil
	}
	if w.WinIndicator&VCDSource != 0 {
		start := uint64(w.SourceSegmentPosition)
		end := start + uint64(w.SourceSegmentSize)
		if end > uint64(len(dictionary)) {
			return nil, errOutOfBounds("source segment", w.SourceSegmentPosition, w.SourceSegmentSize, uint32(len(dictionary)))
		}
		return dictionary[start:end], nil
	}
	return nil, nil
}

// runWindow executes one window's instruction stream against its resolved
// source segment, producing exactly TargetWindowLength bytes of target.
//
// A single combined decode-and-execute pass (rather than a parse phase
// followed by an execute phase) is what lets this same function serve both
// segregated and interleaved layouts: in interleaved layout the data and
// address bytes for an instruction sit immediately after its opcode in the
// very stream being read, so they must be consumed in instruction order as
// they're encountered, not pre-extracted into a side table.
func runWindow(w *Window, codeTable *CodeTable, sourceSegment []byte, addressCache *AddressCache) ([]byte, error) {
	sourceLen := uint32(len(sourceSegment))
	target := make([]byte, 0, w.TargetWindowLength)

	instStream := bytes.NewReader(w.InstructionSection)
	interleaved := w.DataSectionLength == 0 && w.AddressSectionLength == 0

	var dataStream *bytes.Reader
	if interleaved {
		dataStream = instStream
		addressCache.ResetWithStream(instStream)
	} else {
		dataStream = bytes.NewReader(w.DataSection)
		addressCache.Reset(w.AddressSection)
	}

	instOffset := 0
	for {
		code, err := instStream.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading instruction code at offset %d: %v", instOffset, err)
		}

		for slot := 0; slot < 2; slot++ {
			inst := codeTable.Get(code, slot)
			if inst.Type == NoOp {
				continue
			}

			size := uint32(inst.Size)
			if size == 0 {
				size, err = ReadVarint(instStream)
				if err != nil {
					return nil, fmt.Errorf("error reading size for %s instruction at offset %d: %v", inst.Type, instOffset, err)
				}
			}

			switch inst.Type {
			case Add:
				buf := make([]byte, size)
				n, rerr := io.ReadFull(dataStream, buf)
				if rerr != nil {
					return nil, errDataOverrun("ADD", instOffset, int(size), n)
				}
				target = append(target, buf...)

			case Run:
				b, rerr := dataStream.ReadByte()
				if rerr != nil {
					return nil, fmt.Errorf("RUN instruction at offset %d requires 1 byte but none available: %v", instOffset, rerr)
				}
				for i := uint32(0); i < size; i++ {
					target = append(target, b)
				}

			case Copy:
				here := sourceLen + uint32(len(target))
				addr, aerr := addressCache.DecodeAddress(here, inst.Mode)
				if aerr != nil {
					return nil, aerr
				}

				if addr < sourceLen {
					end := addr + size
					if end > sourceLen {
						return nil, errOutOfBounds("COPY", addr, size, sourceLen)
					}
					target = append(target, sourceSegment[addr:end]...)
				} else {
					targetAddr := addr - sourceLen
					for i := uint32(0); i < size; i++ {
						if targetAddr+i >= uint32(len(target)) {
							return nil, fmt.Errorf("COPY instruction would read beyond target bounds: position %d, target size %d",
								targetAddr+i, len(target))
						}
						target = append(target, target[targetAddr+i])
					}
				}

			default:
				return nil, ErrInvalidFormat
			}
		}
		instOffset++
	}

	if uint32(len(target)) != w.TargetWindowLength {
		return nil, fmt.Errorf("%w: window produced %d target bytes, expected %d", ErrCorruptedData, len(target), w.TargetWindowLength)
	}

	if !interleaved {
		if dataStream.Len() != 0 {
			return nil, fmt.Errorf("%w: %d unconsumed bytes remain in data section", ErrCorruptedData, dataStream.Len())
		}
		if addressCache.addressStream.Len() != 0 {
			return nil, fmt.Errorf("%w: %d unconsumed bytes remain in address section", ErrCorruptedData, addressCache.addressStream.Len())
		}
	}

	if w.HasChecksum {
		computed := ComputeChecksum(1, target)
		if computed != w.Checksum {
			return nil, fmt.Errorf("%w: expected 0x%08x, got 0x%08x", ErrInvalidChecksum, w.Checksum, computed)
		}
	}

	return target, nil
}

// describeWindowInstructions resolves a window's instructions into
// RuntimeInstruction records for introspection tooling (the CLI's parse and
// analyze subcommands), including the COPY address each instruction
// resolves to. It mirrors runWindow's single combined pass but only tracks
// the running target length (needed to compute "here" for COPY) rather
// than materializing copied bytes, since nothing here needs the
// reconstructed target itself.
func describeWindowInstructions(w *Window, codeTable *CodeTable, sourceLen uint32, addressCache *AddressCache) ([]RuntimeInstruction, error) {
	var out []RuntimeInstruction
	virtualLen := uint32(0)

	instStream := bytes.NewReader(w.InstructionSection)
	interleaved := w.DataSectionLength == 0 && w.AddressSectionLength == 0

	var dataStream *bytes.Reader
	if interleaved {
		dataStream = instStream
		addressCache.ResetWithStream(instStream)
	} else {
		dataStream = bytes.NewReader(w.DataSection)
		addressCache.Reset(w.AddressSection)
	}

	instOffset := 0
	for {
		code, err := instStream.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading instruction code at offset %d: %v", instOffset, err)
		}

		for slot := 0; slot < 2; slot++ {
			inst := codeTable.Get(code, slot)
			if inst.Type == NoOp {
				continue
			}

			size := uint32(inst.Size)
			if size == 0 {
				size, err = ReadVarint(instStream)
				if err != nil {
					return nil, fmt.Errorf("error reading size for %s instruction at offset %d: %v", inst.Type, instOffset, err)
				}
			}

			runtimeInst := RuntimeInstruction{Type: inst.Type, Size: size, Mode: inst.Mode}

			switch inst.Type {
			case Add:
				buf := make([]byte, size)
				n, rerr := io.ReadFull(dataStream, buf)
				if rerr != nil {
					return nil, errDataOverrun("ADD", instOffset, int(size), n)
				}
				runtimeInst.Data = buf
				virtualLen += size

			case Run:
				b, rerr := dataStream.ReadByte()
				if rerr != nil {
					return nil, fmt.Errorf("RUN instruction at offset %d requires 1 byte but none available: %v", instOffset, rerr)
				}
				runtimeInst.Data = []byte{b}
				virtualLen += size

			case Copy:
				here := sourceLen + virtualLen
				addr, aerr := addressCache.DecodeAddress(here, inst.Mode)
				if aerr != nil {
					return nil, aerr
				}
				runtimeInst.Addr = addr
				virtualLen += size
			}

			out = append(out, runtimeInst)
		}
		instOffset++
	}

	return out, nil
}
