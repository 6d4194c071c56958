//go:build linux && !tinygo

package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem maps a physical register window through /dev/mem. It is meant for
// Linux-capable parts that carry the same SDMMC block (bring-up and debug
// from userspace), and needs root.
type DevMem struct {
	file *os.File
	mem  []byte
}

// OpenDevMem maps size bytes of physical memory starting at base.
// base must be page aligned.
func OpenDevMem(base int64, size int) (*DevMem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap 0x%08x: %w", base, err)
	}
	return &DevMem{file: f, mem: mem}, nil
}

// Load reads a 32-bit register. Offsets outside the mapping read zero.
func (d *DevMem) Load(offset uint32) uint32 {
	w := d.word(offset)
	if w == nil {
		return 0
	}
	return atomic.LoadUint32(w)
}

// Store writes a 32-bit register. Offsets outside the mapping are ignored.
func (d *DevMem) Store(offset uint32, value uint32) {
	if w := d.word(offset); w != nil {
		atomic.StoreUint32(w, value)
	}
}

// word returns the mapped register, or nil when offset is unaligned or the
// word does not fit in the mapping; atomics force a single 32-bit access.
func (d *DevMem) word(offset uint32) *uint32 {
	if offset%4 != 0 || uint64(offset)+4 > uint64(len(d.mem)) {
		return nil
	}
	return (*uint32)(unsafe.Pointer(&d.mem[offset]))
}

// Close unmaps the window
func (d *DevMem) Close() error {
	if d.mem == nil {
		return nil
	}
	err := unix.Munmap(d.mem)
	d.mem = nil
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}
