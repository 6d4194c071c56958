// Package regs provides access to the SDMMC1 register window.
//
// Core code never touches memory-mapped addresses directly. It goes through a
// Bank, which lets the same bring-up code run against real MMIO (TinyGo
// targets), a /dev/mem mapping (Linux hosts), a serial bridge or a simulator.
package regs

import "errors"

// ErrBadOffset is returned for an offset outside the register window or not
// on a 32-bit boundary
var ErrBadOffset = errors.New("regs: bad register offset")

// Bank is a window of 32-bit registers addressed by byte offset.
// Implementations must perform each Load/Store as a single 32-bit access.
type Bank interface {
	// Load reads the register at the given byte offset
	Load(offset uint32) uint32

	// Store writes the register at the given byte offset
	Store(offset uint32, value uint32)
}

// Modify performs a read-modify-write: bits in clear are cleared, then bits in
// set are set. Only one Load and one Store are issued.
func Modify(b Bank, offset, clear, set uint32) {
	v := b.Load(offset)
	v = (v &^ clear) | set
	b.Store(offset, v)
}

// SetBits sets bits in a register with a single read-modify-write.
func SetBits(b Bank, offset, bits uint32) {
	Modify(b, offset, 0, bits)
}

// ClearBits clears bits in a register with a single read-modify-write.
func ClearBits(b Bank, offset, bits uint32) {
	Modify(b, offset, bits, 0)
}

// Field extracts a bitfield of width bits starting at pos.
func Field(v uint32, pos, width uint) uint32 {
	return (v >> pos) & (1<<width - 1)
}

// Valid reports whether offset names a register inside the SDMMC window
func Valid(offset uint32) bool {
	return offset < WindowSize && offset%4 == 0
}
