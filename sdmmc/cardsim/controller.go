package cardsim

import (
	"sync"

	"sdhost/regs"
	"sdhost/sdmmc"
)

// Status bits the simulator computes on every STA read
const dynamicStatus = regs.STA_RXFIFOE | regs.STA_CPSMACT | regs.STA_DPSMACT

// dataJob is a block transfer waiting for its command response to be
// acknowledged.
type dataJob struct {
	toCard bool
	lba    uint32
	blocks uint32
	addr   uint32
	multi  bool
}

// Controller is a simulated SDMMC peripheral with one card attached. It
// implements regs.Bank.
//
// Writing CMD with CPSMEN set executes the command against the card.
// Block transfers run once the command's CMDREND flag is cleared through
// ICR, then raise the interrupt hook if a data interrupt is unmasked.
type Controller struct {
	mu      sync.Mutex
	regs    map[uint32]uint32
	sta     uint32
	fifo    []uint32
	pending *dataJob

	card *Card
	mem  *Memory

	irq       func()
	irqRaised int
	commands  []uint8
}

// New creates a controller with card attached. mem resolves IDMA addresses.
func New(card *Card, mem *Memory) *Controller {
	return &Controller{
		regs: make(map[uint32]uint32),
		card: card,
		mem:  mem,
	}
}

// Card returns the attached card
func (c *Controller) Card() *Card {
	return c.card
}

// SetInterruptHandler installs the function called when an unmasked data
// interrupt is raised. nil leaves interrupts pending for polling.
func (c *Controller) SetInterruptHandler(h func()) {
	c.mu.Lock()
	c.irq = h
	c.mu.Unlock()
}

// Enable implements sdmmc.InterruptController
func (c *Controller) Enable(priority uint8, handler func()) error {
	c.SetInterruptHandler(handler)
	return nil
}

// Interrupts returns how many times the interrupt hook was raised
func (c *Controller) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqRaised
}

// Commands returns the command indices executed, in order
func (c *Controller) Commands() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint8, len(c.commands))
	copy(out, c.commands)
	return out
}

// Load implements regs.Bank
func (c *Controller) Load(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case regs.STA:
		sta := c.sta &^ dynamicStatus
		if len(c.fifo) == 0 {
			sta |= regs.STA_RXFIFOE
		}
		return sta
	case regs.FIFO:
		return c.popFIFO()
	}
	return c.regs[offset]
}

// Store implements regs.Bank
func (c *Controller) Store(offset uint32, value uint32) {
	raise := false

	c.mu.Lock()
	switch offset {
	case regs.ICR:
		c.sta &^= value
		if c.pending != nil && value&regs.STA_CMDREND != 0 {
			raise = c.runData()
		}
	case regs.CMD:
		if value&regs.CMD_CPSMEN != 0 {
			// The command path consumes CPSMEN; later read-modify-writes
			// of CMD must not resend the command.
			c.regs[regs.CMD] = value &^ regs.CMD_CPSMEN
			c.execute(value)
		} else {
			c.regs[regs.CMD] = value
		}
	case regs.STA, regs.RESPCMD, regs.RESP1, regs.RESP2, regs.RESP3, regs.RESP4:
		// read-only
	default:
		c.regs[offset] = value
	}
	h := c.irq
	if raise && h != nil {
		c.irqRaised++
	}
	c.mu.Unlock()

	if raise && h != nil {
		h()
	}
}

func (c *Controller) popFIFO() uint32 {
	if len(c.fifo) == 0 {
		c.sta |= regs.STA_RXOVERR
		return 0
	}
	v := c.fifo[0]
	c.fifo = c.fifo[1:]
	if len(c.fifo) == 0 {
		c.sta |= regs.STA_DATAEND | regs.STA_DBCKEND
		c.regs[regs.DCTRL] &^= regs.DCTRL_DTEN
	}
	return v
}

// execute runs the command in the CMD value against the card
func (c *Controller) execute(cmd uint32) {
	index := uint8(cmd & regs.CMD_CMDINDEX)
	wait := (cmd & regs.CMD_WAITRESP) >> regs.CMD_WAITRESP_Pos
	arg := c.regs[regs.ARG]
	c.commands = append(c.commands, index)

	powered := c.regs[regs.POWER]&regs.POWER_PWRCTRL == regs.POWER_PWRCTRL_ON
	app := c.card.appCmd

	var r Response
	if powered {
		r = c.card.execute(index, arg)
	} else {
		r = Response{Silent: true}
	}

	if wait == uint32(sdmmc.NoResponse) {
		c.sta |= regs.STA_CMDSENT
		return
	}

	switch {
	case r.Silent:
		return
	case r.Timeout:
		c.sta |= regs.STA_CTIMEOUT
		return
	}

	c.regs[regs.RESPCMD] = uint32(r.Index)
	c.regs[regs.RESP1] = r.Words[0]
	c.regs[regs.RESP2] = r.Words[1]
	c.regs[regs.RESP3] = r.Words[2]
	c.regs[regs.RESP4] = r.Words[3]
	if r.CRCFail {
		c.sta |= regs.STA_CCRCFAIL
	} else {
		c.sta |= regs.STA_CMDREND
	}

	c.prepareData(index, arg, app, cmd)
}

// prepareData starts the data phase a command implies
func (c *Controller) prepareData(index uint8, arg uint32, app bool, cmd uint32) {
	dctrl := c.regs[regs.DCTRL]
	if dctrl&regs.DCTRL_DTEN == 0 {
		return
	}

	if app && index == sdmmc.AcmdSendSCR {
		c.fifo = append(c.fifo[:0], c.card.scrWords()...)
		return
	}

	if cmd&regs.CMD_CMDTRANS == 0 || c.regs[regs.IDMACTRL]&regs.IDMACTRL_IDMAEN == 0 {
		return
	}
	job := &dataJob{
		lba:    arg / sdmmc.BlockSize,
		blocks: c.regs[regs.DLEN] / sdmmc.BlockSize,
		addr:   c.regs[regs.IDMABASE0],
	}
	switch index {
	case sdmmc.CmdReadSingleBlock:
	case sdmmc.CmdReadMultipleBlock:
		job.multi = true
	case sdmmc.CmdWriteBlock:
		job.toCard = true
	case sdmmc.CmdWriteMultipleBlock:
		job.toCard, job.multi = true, true
	default:
		return
	}
	c.pending = job
}

// runData moves the pending job's blocks through the DMA memory and latches
// the end condition. It reports whether an unmasked data interrupt is set.
func (c *Controller) runData() bool {
	job := c.pending
	c.pending = nil

	if c.card.DataError != 0 {
		c.sta |= c.card.DataError
	} else {
		for i := uint32(0); i < job.blocks; i++ {
			buf := c.mem.Lookup(job.addr+i*sdmmc.BlockSize, sdmmc.BlockSize)
			if buf == nil {
				c.sta |= regs.STA_IDMATE
				break
			}
			if job.toCard {
				c.card.SetBlock(job.lba+i, buf)
			} else {
				copy(buf, c.card.Block(job.lba+i))
			}
		}
		c.sta |= regs.STA_DATAEND | regs.STA_DBCKEND
		c.card.finishData(job.multi)
	}
	c.regs[regs.DCOUNT] = 0
	c.regs[regs.DCTRL] &^= regs.DCTRL_DTEN

	return c.sta&c.regs[regs.MASK]&regs.DataIRQs != 0
}
