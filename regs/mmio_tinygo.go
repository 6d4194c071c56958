//go:build tinygo

package regs

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO is a register window at a fixed physical address, accessed with
// volatile loads and stores.
type MMIO struct {
	base uintptr
}

// NewMMIO returns a window starting at base
func NewMMIO(base uintptr) MMIO {
	return MMIO{base: base}
}

func (m MMIO) reg(offset uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(m.base + uintptr(offset)))
}

// Load reads a 32-bit register
func (m MMIO) Load(offset uint32) uint32 {
	return m.reg(offset).Get()
}

// Store writes a 32-bit register
func (m MMIO) Store(offset uint32, value uint32) {
	m.reg(offset).Set(value)
}
