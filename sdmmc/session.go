// Package sdmmc brings an SD card from power-on to the transfer state on
// the SDMMC peripheral and runs interrupt-completed block transfers.
//
// All card state lives in a Session owned by the caller. The bring-up
// sequence (Init) and block transfers run on the calling context; the
// completion handler (HandleInterrupt) runs from the peripheral interrupt
// and hands results back through the session's Transfer record.
package sdmmc

import (
	"time"

	"sdhost/regs"
)

// Defaults used when Config fields are zero
const (
	DefaultCommandTimeout  = 100 * time.Millisecond
	DefaultInitTimeout     = time.Second
	DefaultTransferTimeout = time.Second
	DefaultProbeTrials     = 10
	DefaultIRQPriority     = 5
	DefaultAltFunc         = 12
)

// Config holds the session parameters
type Config struct {
	PeripheralClock uint32 // SDMMC kernel clock in Hz
	TargetRate      uint32 // bus clock after bring-up, Hz

	ClockEdge           ClockEdge
	PowerSave           bool
	HardwareFlowControl bool
	DirPolarity         DirPolarity
	IRQPriority         uint8

	Pins BusPins

	CommandTimeout  time.Duration // per-command response wait
	InitTimeout     time.Duration // voltage negotiation and ready-check loops
	TransferTimeout time.Duration // block transfer completion
	ProbeTrials     int           // CMD8 attempts before giving up

	// PollCompletion makes transfer waits run the completion handler
	// themselves; use it when no interrupt line is routed.
	PollCompletion bool

	Debug DebugWriter
}

// withDefaults fills zero fields
func (c Config) withDefaults() Config {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.TransferTimeout == 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.ProbeTrials == 0 {
		c.ProbeTrials = DefaultProbeTrials
	}
	if c.IRQPriority == 0 {
		c.IRQPriority = DefaultIRQPriority
	}
	if c.TargetRate == 0 {
		c.TargetRate = initClockRate
	}
	if c.Pins.AltFunc == 0 {
		c.Pins.AltFunc = DefaultAltFunc
	}
	return c
}

// CardInfo is the identity and configuration read from the card during
// bring-up. It is fixed once Init succeeds.
type CardInfo struct {
	CID      [4]uint32
	RCA      uint32 // as returned by CMD3: address in bits 31:16, used unmodified as argument
	CSD      [4]uint32
	SCR      SCR
	OCR      uint32 // last ACMD41 response
	Version2 bool
}

// Address returns the 16-bit relative card address
func (c CardInfo) Address() uint16 {
	return uint16(c.RCA >> 16)
}

// Session is one card on one SDMMC peripheral.
// Init and the block operations must be serialized by the caller.
type Session struct {
	cfg  Config
	bank regs.Bank
	hal  HAL

	eng  *Engine
	data *DataPath

	step     Step
	card     CardInfo
	rcaSet   bool
	irqBound bool

	xfer Transfer

	trace traceRing
	debug DebugWriter
}

// New creates a session. hal.Clock must be set.
func New(bank regs.Bank, hal HAL, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:   cfg,
		bank:  bank,
		hal:   hal,
		eng:   NewEngine(bank, hal.Clock),
		data:  NewDataPath(bank, hal.Clock),
		debug: cfg.Debug,
	}
	s.eng.trace = &s.trace
	s.data.trace = &s.trace
	return s
}

// Engine returns the command engine
func (s *Session) Engine() *Engine {
	return s.eng
}

// Step returns the last bring-up step reached
func (s *Session) Step() Step {
	return s.step
}

// Ready reports whether the card accepts block-addressed commands
func (s *Session) Ready() bool {
	return s.step == StepReady
}

// Card returns the card registers read during bring-up
func (s *Session) Card() CardInfo {
	return s.card
}

// RCA returns the relative card address argument
func (s *Session) RCA() uint32 {
	return s.card.RCA
}

// Config returns the effective configuration
func (s *Session) Config() Config {
	return s.cfg
}

// LastStatus returns the status register captured by the last command wait
func (s *Session) LastStatus() uint32 {
	return s.eng.LastStatus()
}

// assignRCA stores the relative address; it can be set once per bring-up.
func (s *Session) assignRCA(rca uint32) {
	if s.rcaSet {
		return
	}
	s.card.RCA = rca
	s.rcaSet = true
}

// CardPresent reads the card-detect switch. Without one it reports true.
func (s *Session) CardPresent() bool {
	if s.hal.Pins == nil || !s.cfg.Pins.HasCardDetect {
		return true
	}
	return !s.hal.Pins.ReadPin(s.cfg.Pins.CardDetect)
}
