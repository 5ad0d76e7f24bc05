package vcdiff

import (
	"bytes"
	"fmt"
)

const (
	SelfMode = 0
	HereMode = 1
)

// AddressCache manages address encoding/decoding for COPY instructions. The
// same struct and Update logic serve both the encoder (EncodeAddress) and
// the decoder (DecodeAddress), so the two sides evolve identically given the
// same sequence of COPY addresses.
type AddressCache struct {
	nearSize int
	sameSize int

	near      []uint32
	nearCount int // number of near slots ever written, saturating at nearSize
	nextSlot  int

	same    []uint32
	sameSet []bool

	addressStream *bytes.Reader // decode-side cursor over the window's address section
}

// NewAddressCache creates a new address cache with the specified geometry.
// nearSize is the number of near slots; sameSize is the number of same
// buckets (the same table itself holds sameSize*256 entries).
func NewAddressCache(nearSize, sameSize int) *AddressCache {
	return &AddressCache{
		nearSize: nearSize,
		sameSize: sameSize,
		near:     make([]uint32, nearSize),
		same:     make([]uint32, sameSize*256),
		sameSet:  make([]bool, sameSize*256),
	}
}

func (ac *AddressCache) clear() {
	ac.nextSlot = 0
	ac.nearCount = 0

	for i := range ac.near {
		ac.near[i] = 0
	}
	for i := range ac.same {
		ac.same[i] = 0
		ac.sameSet[i] = false
	}
}

// Reset clears cache state for a new window and attaches a fresh cursor
// over the window's (segregated) address section.
func (ac *AddressCache) Reset(addresses []byte) {
	ac.clear()
	ac.addressStream = bytes.NewReader(addresses)
}

// ResetWithStream clears cache state for a new window and attaches an
// existing cursor to read addresses from - used for interleaved layout,
// where addresses, data and instructions all share one underlying stream.
func (ac *AddressCache) ResetWithStream(r *bytes.Reader) {
	ac.clear()
	ac.addressStream = r
}

// DecodeAddress decodes an address using the specified mode, reading from
// the address stream installed by Reset.
func (ac *AddressCache) DecodeAddress(here uint32, mode byte) (uint32, error) {
	var addr uint32

	maxMode := byte(2 + ac.nearSize + ac.sameSize - 1)
	if mode > maxMode {
		return 0, fmt.Errorf("invalid address cache mode %d: valid modes are 0-%d", mode, maxMode)
	}

	switch mode {
	case SelfMode:
		v, err := ReadVarint(ac.addressStream)
		if err != nil {
			return 0, fmt.Errorf("error reading address for SELF mode: %v", err)
		}
		addr = v

	case HereMode:
		offset, err := ReadVarint(ac.addressStream)
		if err != nil {
			return 0, fmt.Errorf("error reading offset for HERE mode: %v", err)
		}
		if offset > here {
			return 0, fmt.Errorf("HERE mode offset %d exceeds current position %d", offset, here)
		}
		addr = here - offset

	default:
		if int(mode-2) < ac.nearSize {
			cacheIndex := int(mode - 2)
			if cacheIndex >= ac.nearCount {
				return 0, fmt.Errorf("near cache slot %d has not been initialized", cacheIndex)
			}
			offset, err := ReadVarint(ac.addressStream)
			if err != nil {
				return 0, fmt.Errorf("error reading offset for near cache mode %d: %v", mode, err)
			}
			addr = ac.near[cacheIndex] + offset
		} else {
			m := int(mode) - (2 + ac.nearSize)
			b, err := ac.addressStream.ReadByte()
			if err != nil {
				return 0, err
			}
			idx := m*256 + int(b)
			if !ac.sameSet[idx] {
				return 0, fmt.Errorf("same cache bucket %d slot %d has not been initialized", m, b)
			}
			addr = ac.same[idx]
		}
	}

	ac.Update(addr)
	return addr, nil
}

// EncodeAddress picks the shortest encoding of addr (an absolute position in
// source-segment||target-so-far) relative to here, the current position.
// Ties are broken in favor of the lower mode index, keeping encoder output
// deterministic across implementations. The cache is updated as a side
// effect, exactly as it would be on decode.
func (ac *AddressCache) EncodeAddress(addr, here uint32) (mode byte, encoded []byte) {
	var scratch [5]byte

	mode = SelfMode
	encoded = AppendUvarint64(scratch[:0], uint64(addr))

	if addr <= here {
		offset := here - addr
		var s [5]byte
		candidate := AppendUvarint64(s[:0], uint64(offset))
		if len(candidate) < len(encoded) {
			mode, encoded = HereMode, candidate
		}
	}

	for i := 0; i < ac.nearCount; i++ {
		if addr < ac.near[i] {
			continue
		}
		offset := addr - ac.near[i]
		var s [5]byte
		candidate := AppendUvarint64(s[:0], uint64(offset))
		if len(candidate) < len(encoded) {
			mode, encoded = byte(2+i), candidate
		}
	}

	if ac.sameSize > 0 {
		idx := int(addr % uint32(ac.sameSize*256))
		if ac.sameSet[idx] && ac.same[idx] == addr {
			bucket := idx / 256
			low := byte(idx % 256)
			if 1 < len(encoded) {
				mode, encoded = byte(2+ac.nearSize+bucket), []byte{low}
			}
		}
	}

	ac.Update(addr)
	return mode, encoded
}

// Update records a COPY address into both the near and same caches. Called
// once per successfully encoded or decoded COPY, regardless of which mode
// produced the address.
func (ac *AddressCache) Update(address uint32) {
	if ac.nearSize > 0 {
		ac.near[ac.nextSlot] = address
		ac.nextSlot = (ac.nextSlot + 1) % ac.nearSize
		if ac.nearCount < ac.nearSize {
			ac.nearCount++
		}
	}

	if ac.sameSize > 0 {
		idx := address % uint32(ac.sameSize*256)
		ac.same[idx] = address
		ac.sameSet[idx] = true
	}
}
