package sdmmc

import (
	"math/bits"
	"time"

	"sdhost/regs"
)

const (
	// BlockSize is the only block length used for data transfers
	BlockSize = 512

	// dataTimeout is the DTIMER value (bus clock cycles)
	dataTimeout = 0xFFFFFFFF
)

// Direction of a data transfer
type Direction uint8

const (
	ToCard   Direction = 0
	FromCard Direction = 1
)

// DataPath programs the data path state machine and drains short reads.
type DataPath struct {
	bank  regs.Bank
	clock Clock
	trace *traceRing
}

// NewDataPath creates a data path controller over a register bank
func NewDataPath(bank regs.Bank, clock Clock) *DataPath {
	return &DataPath{bank: bank, clock: clock}
}

// blockSizeCode is the DBLOCKSIZE encoding: log2 of a power-of-two length
func blockSizeCode(byteCount uint32) uint32 {
	return uint32(bits.TrailingZeros32(byteCount))
}

// program sets timeout, length and DCTRL in that order, enabling the path
func (d *DataPath) program(length, blockSize uint32, dir Direction) {
	d.bank.Store(regs.DTIMER, dataTimeout)
	d.bank.Store(regs.DLEN, length)

	set := blockSizeCode(blockSize) << regs.DCTRL_DBLOCKSIZE_Pos
	if dir == FromCard {
		set |= regs.DCTRL_DTDIR
	}
	set |= regs.DCTRL_DTEN
	regs.Modify(d.bank, regs.DCTRL,
		regs.DCTRL_DTEN|regs.DCTRL_DTDIR|regs.DCTRL_DTMODE|regs.DCTRL_DBLOCKSIZE, set)
}

// BeginShortRead primes the data path for a single-block read of byteCount
// bytes into the FIFO. byteCount must be a power of two. Call it before
// issuing the data-producing command.
func (d *DataPath) BeginShortRead(byteCount uint32) {
	d.program(byteCount, byteCount, FromCard)
}

// BeginBlockTransfer primes the data path and the internal DMA for a
// transfer of blocks × 512 bytes at the given DMA address.
func (d *DataPath) BeginBlockTransfer(dir Direction, addr uint32, blocks uint32) {
	d.bank.Store(regs.IDMABASE0, addr)
	d.bank.Store(regs.IDMACTRL, regs.IDMACTRL_IDMAEN)
	d.program(blocks*BlockSize, BlockSize, dir)
}

// clearDataFlags clears all data-completion status flags
func (d *DataPath) clearDataFlags() {
	d.bank.Store(regs.ICR, regs.DataFlags)
}

// Drain reads len(dst) words from the FIFO. The FIFO is read two words per
// iteration. It returns the number of words read; the data flags are
// cleared on every exit path.
func (d *DataPath) Drain(dst []uint32, budget time.Duration) (int, error) {
	const terminal = regs.STA_RXOVERR | regs.STA_DCRCFAIL | regs.STA_DTIMEOUT |
		regs.STA_DBCKEND | regs.STA_DATAEND
	const failed = regs.STA_RXOVERR | regs.STA_DCRCFAIL | regs.STA_DTIMEOUT

	deadline := d.clock.Now() + budget
	n := 0
	expired := false
	sta := d.bank.Load(regs.STA)
	for {
		if sta&failed != 0 {
			break
		}
		if sta&terminal != 0 && n >= len(dst) {
			break
		}
		if sta&regs.STA_RXFIFOE == 0 && n < len(dst) {
			dst[n] = d.bank.Load(regs.FIFO)
			n++
			if n < len(dst) {
				dst[n] = d.bank.Load(regs.FIFO)
				n++
			}
		}
		if d.clock.Now() >= deadline {
			expired = true
			break
		}
		sta = d.bank.Load(regs.STA)
	}

	sta = d.bank.Load(regs.STA)
	d.clearDataFlags()
	d.trace.record(TraceData, uint8(n), sta)

	// an overrun loses FIFO words, so the block fails its integrity check
	switch {
	case sta&(regs.STA_DCRCFAIL|regs.STA_RXOVERR) != 0:
		return n, ErrCRCFailure
	case sta&regs.STA_DTIMEOUT != 0 || expired:
		return n, ErrTimeout
	}
	return n, nil
}
