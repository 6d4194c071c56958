package regs

import "sync"

// MemBank is a plain in-memory register file. It has no side effects on
// access, which makes it useful for checking exactly what a piece of code
// wrote (bitfield encoding, read-modify-write preservation).
type MemBank struct {
	mu     sync.Mutex
	values map[uint32]uint32
	writes []Write
}

// Write records a single Store on a MemBank
type Write struct {
	Offset uint32
	Value  uint32
}

// NewMemBank creates an empty register file; all registers read as zero.
func NewMemBank() *MemBank {
	return &MemBank{values: make(map[uint32]uint32)}
}

// Load returns the last value stored at offset
func (m *MemBank) Load(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[offset]
}

// Store records value at offset
func (m *MemBank) Store(offset uint32, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[offset] = value
	m.writes = append(m.writes, Write{Offset: offset, Value: value})
}

// Writes returns a copy of every Store in order
func (m *MemBank) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}
