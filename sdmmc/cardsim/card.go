// Package cardsim simulates the SDMMC peripheral and an SD card behind a
// regs.Bank, so the bring-up and transfer code can run without hardware.
package cardsim

import (
	"math/bits"

	"sdhost/sdmmc"
)

// Response is what the card does with one command
type Response struct {
	Words [4]uint32 // RESP1..RESP4; short responses use Words[0]
	Index uint8     // echoed command index

	Timeout bool // latch CTIMEOUT
	CRCFail bool // latch CCRCFAIL instead of CMDREND
	Silent  bool // latch nothing; the command path never completes
}

// Handler replaces the card's built-in behaviour for one command
type Handler func(arg uint32) Response

type cmdKey struct {
	index uint8
	app   bool
}

// Default card identity
const (
	DefaultRCA = 0x59B40500
	DefaultSCR = 0x0235800000000000 // SD 3.0, 1- and 4-bit bus
)

// R1 status bits
const (
	readyForData = 1 << 8
	appCmdStatus = 1 << 5
)

// Card is a standard-capacity, version 2 SD card. Fields may be changed
// before the controller is used.
type Card struct {
	CID [4]uint32
	CSD [4]uint32
	SCR uint64 // register value, bits 63:0
	RCA uint32 // word returned by CMD3

	HighCapacity bool
	Absent       bool // no card in the slot: every response is silent
	Legacy       bool // version 1 card: CMD8 times out

	// BusyRounds is the number of ACMD41 responses with the busy bit clear
	// before the card reports power-up complete
	BusyRounds int

	// StatusSeq scripts the states reported by successive CMD13; the last
	// entry repeats. Empty means report the card's real state.
	StatusSeq []sdmmc.CardState

	// DataError is latched instead of DATAEND at the end of a data phase
	DataError uint32

	// FailStop makes CMD12 time out
	FailStop bool

	overrides map[cmdKey]Handler
	calls     [64]int
	appCalls  [64]int
	appCmd    bool
	state     sdmmc.CardState
	opRounds  int
	statusPos int
	blocks    map[uint32][]byte
}

// NewCard returns a card that completes bring-up on the first try
func NewCard() *Card {
	return &Card{
		CID:       [4]uint32{0x03534453, 0x55313647, 0x80A1B2C3, 0xD4015A00},
		CSD:       [4]uint32{0x400E0032, 0x5B590000, 0x3B377F80, 0x0A404000},
		SCR:       DefaultSCR,
		RCA:       DefaultRCA,
		overrides: make(map[cmdKey]Handler),
		blocks:    make(map[uint32][]byte),
	}
}

// Override replaces the response to a command. app selects the
// application-specific command with that index.
func (c *Card) Override(index uint8, app bool, h Handler) {
	c.overrides[cmdKey{index, app}] = h
}

// Calls returns how many times a standard command was received
func (c *Card) Calls(index uint8) int {
	return c.calls[index&0x3F]
}

// AppCalls returns how many times an application command was received
func (c *Card) AppCalls(index uint8) int {
	return c.appCalls[index&0x3F]
}

// State returns the card's current state
func (c *Card) State() sdmmc.CardState {
	return c.state
}

// Block returns a copy of a stored block; unwritten blocks read as zero
func (c *Card) Block(lba uint32) []byte {
	out := make([]byte, sdmmc.BlockSize)
	copy(out, c.blocks[lba])
	return out
}

// SetBlock stores a block
func (c *Card) SetBlock(lba uint32, data []byte) {
	b := make([]byte, sdmmc.BlockSize)
	copy(b, data)
	c.blocks[lba] = b
}

// scrWords is the SCR as it appears in the FIFO: most significant byte
// first on the wire, packed little-endian into words.
func (c *Card) scrWords() []uint32 {
	return []uint32{
		bits.ReverseBytes32(uint32(c.SCR >> 32)),
		bits.ReverseBytes32(uint32(c.SCR)),
	}
}

// r1 builds a card status response for index
func (c *Card) r1(index uint8) Response {
	status := uint32(c.state)<<9 | readyForData
	if c.appCmd {
		status |= appCmdStatus
	}
	return Response{Words: [4]uint32{status}, Index: index}
}

func (c *Card) addressed(arg uint32) bool {
	return arg>>16 == c.RCA>>16
}

// execute runs one command. noResponse commands only change state.
func (c *Card) execute(index uint8, arg uint32) Response {
	app := c.appCmd
	c.appCmd = false
	if app {
		c.appCalls[index&0x3F]++
	} else {
		c.calls[index&0x3F]++
	}

	if c.Absent {
		return Response{Silent: true}
	}
	if h, ok := c.overrides[cmdKey{index, app}]; ok {
		r := h(arg)
		if index == sdmmc.CmdAppCmd && !r.Timeout && !r.Silent {
			c.appCmd = true
		}
		return r
	}
	if app {
		return c.executeApp(index, arg)
	}

	switch index {
	case sdmmc.CmdGoIdleState:
		c.state = sdmmc.CardIdle
		c.opRounds = 0
		c.statusPos = 0
		return Response{}
	case sdmmc.CmdSendIfCond:
		if c.Legacy {
			return Response{Timeout: true}
		}
		return Response{Words: [4]uint32{arg & 0xFFF}, Index: index}
	case sdmmc.CmdAppCmd:
		c.appCmd = true
		return c.r1(index)
	case sdmmc.CmdAllSendCID:
		c.state = sdmmc.CardIdentification
		return Response{Words: c.CID, Index: 0x3F}
	case sdmmc.CmdSendRelativeAddr:
		c.state = sdmmc.CardStandby
		return Response{Words: [4]uint32{c.RCA}, Index: index}
	case sdmmc.CmdSendCSD:
		if !c.addressed(arg) {
			return Response{Timeout: true}
		}
		return Response{Words: c.CSD, Index: 0x3F}
	case sdmmc.CmdSelectDeselectCard:
		if !c.addressed(arg) {
			return Response{Timeout: true}
		}
		r := c.r1(index)
		c.state = sdmmc.CardTransfer
		return r
	case sdmmc.CmdSetBlockLen:
		return c.r1(index)
	case sdmmc.CmdSendStatus:
		if !c.addressed(arg) {
			return Response{Timeout: true}
		}
		r := c.r1(index)
		if len(c.StatusSeq) > 0 {
			st := c.StatusSeq[len(c.StatusSeq)-1]
			if c.statusPos < len(c.StatusSeq) {
				st = c.StatusSeq[c.statusPos]
				c.statusPos++
			}
			r.Words[0] = r.Words[0]&^(0xF<<9) | uint32(st)<<9
		}
		return r
	case sdmmc.CmdReadSingleBlock, sdmmc.CmdReadMultipleBlock:
		r := c.r1(index)
		c.state = sdmmc.CardSendingData
		return r
	case sdmmc.CmdWriteBlock, sdmmc.CmdWriteMultipleBlock:
		r := c.r1(index)
		c.state = sdmmc.CardReceiveData
		return r
	case sdmmc.CmdStopTransmission:
		if c.FailStop {
			return Response{Timeout: true}
		}
		r := c.r1(index)
		c.state = sdmmc.CardTransfer
		return r
	}
	return Response{Timeout: true}
}

func (c *Card) executeApp(index uint8, arg uint32) Response {
	switch index {
	case sdmmc.AcmdSDSendOpCond:
		ocr := uint32(0x00FF8000)
		if c.opRounds >= c.BusyRounds {
			ocr |= 0x80000000
			if c.HighCapacity && arg&0x40000000 != 0 {
				ocr |= 0x40000000
			}
			c.state = sdmmc.CardReady
		}
		c.opRounds++
		// R3 has no CRC; the controller flags it
		return Response{Words: [4]uint32{ocr}, Index: 0x3F, CRCFail: true}
	case sdmmc.AcmdSendSCR:
		return c.r1(index)
	case sdmmc.AcmdSetBusWidth:
		return c.r1(index)
	}
	return Response{Timeout: true}
}

// finishData returns the card to the transfer state after a single-block
// transfer; multi-block transfers wait for CMD12.
func (c *Card) finishData(multi bool) {
	if !multi {
		c.state = sdmmc.CardTransfer
	}
}
