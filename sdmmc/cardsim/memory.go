package cardsim

import (
	"sync"
	"time"
)

// Base of the simulated DMA address space (AXI SRAM on the H7)
const memoryBase = 0x24000000

type region struct {
	addr uint32
	buf  []byte
}

// Memory hands out IDMA addresses for host buffers and resolves them when
// the controller moves data. It implements sdmmc.DMA.
type Memory struct {
	mu      sync.Mutex
	regions []region
	next    uint32
}

// NewMemory creates an empty address space
func NewMemory() *Memory {
	return &Memory{next: memoryBase}
}

// Address implements sdmmc.DMA. A buffer passed again gets its old address.
func (m *Memory) Address(buf []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regions {
		if len(r.buf) == len(buf) && len(buf) > 0 && &r.buf[0] == &buf[0] {
			return r.addr
		}
	}
	addr := m.next
	m.regions = append(m.regions, region{addr: addr, buf: buf})
	// word aligned, with a gap so overruns land outside every region
	m.next += (uint32(len(buf)) + 3) &^ 3
	m.next += 0x100
	return addr
}

// Lookup returns n bytes of the buffer mapped at addr, or nil when the
// range is not inside one buffer.
func (m *Memory) Lookup(addr uint32, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regions {
		if addr < r.addr {
			continue
		}
		off := addr - r.addr
		if uint64(off)+uint64(n) <= uint64(len(r.buf)) {
			return r.buf[off : off+uint32(n)]
		}
	}
	return nil
}

// Clock is a monotonic clock that moves forward by a fixed tick on every
// reading, so bounded polls against the simulator always terminate.
type Clock struct {
	mu   sync.Mutex
	now  time.Duration
	tick time.Duration
}

// NewClock creates a clock advancing tick per Now call
func NewClock(tick time.Duration) *Clock {
	return &Clock{tick: tick}
}

// Now implements sdmmc.Clock
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.tick
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Delay records the settle delays requested through sdmmc.Delayer
type Delay struct {
	mu    sync.Mutex
	calls []uint32
}

// DelayMicros implements sdmmc.Delayer without sleeping
func (d *Delay) DelayMicros(us uint32) {
	d.mu.Lock()
	d.calls = append(d.calls, us)
	d.mu.Unlock()
}

// Calls returns the requested delays in order
func (d *Delay) Calls() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.calls...)
}
