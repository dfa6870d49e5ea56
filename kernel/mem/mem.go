// Package mem defines memory sizes and the address arithmetic shared by the
// kernel and the board.
package mem

import "strconv"

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// WordSize is the size of a register and the alignment of the user stack.
const WordSize = 8 * Byte

// String returns the size using the largest unit that divides it exactly.
func (s Size) String() string {
	switch {
	case s != 0 && s%Gb == 0:
		return strconv.FormatUint(uint64(s/Gb), 10) + "G"
	case s != 0 && s%Mb == 0:
		return strconv.FormatUint(uint64(s/Mb), 10) + "M"
	case s != 0 && s%Kb == 0:
		return strconv.FormatUint(uint64(s/Kb), 10) + "K"
	default:
		return strconv.FormatUint(uint64(s), 10) + "B"
	}
}

// AlignUp rounds s up to the next multiple of align, which must be a power
// of two.
func (s Size) AlignUp(align Size) Size {
	return (s + align - 1) &^ (align - 1)
}

// IsAligned returns true if s is a multiple of align, which must be a power of
// two.
func (s Size) IsAligned(align Size) bool {
	return s&(align-1) == 0
}
