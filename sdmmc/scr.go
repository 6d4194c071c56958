package sdmmc

import "math/bits"

// SCR bus-width flag (SD_BUS_WIDTHS bit 2) in the high word of the register
const scrBusWidth4 = 0x00040000

// SCR is the 64-bit SD configuration register, stored low word first.
type SCR [2]uint32

// CorrectSCR turns the two words drained from the FIFO into register order.
// The card sends the register most significant byte first and the FIFO packs
// bytes little-endian, so the words come out swapped and byte-reversed.
// The transform is its own inverse.
func CorrectSCR(raw [2]uint32) SCR {
	return SCR{
		bits.ReverseBytes32(raw[1]),
		bits.ReverseBytes32(raw[0]),
	}
}

// High returns bits 63:32
func (s SCR) High() uint32 {
	return s[1]
}

// Low returns bits 31:0
func (s SCR) Low() uint32 {
	return s[0]
}

// Value returns the register as a single integer
func (s SCR) Value() uint64 {
	return uint64(s[1])<<32 | uint64(s[0])
}

// Supports4Bit reports whether the card advertises a 4-bit data bus
func (s SCR) Supports4Bit() bool {
	return s.High()&scrBusWidth4 != 0
}
