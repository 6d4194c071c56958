package sdmmc

import (
	"time"

	"sdhost/regs"
)

// SD command indices (physical layer)
const (
	CmdGoIdleState        = 0
	CmdSendOpCond         = 1
	CmdAllSendCID         = 2
	CmdSendRelativeAddr   = 3
	AcmdSetBusWidth       = 6
	CmdSelectDeselectCard = 7
	CmdSendIfCond         = 8
	CmdSendCSD            = 9
	CmdStopTransmission   = 12
	CmdSendStatus         = 13
	CmdSetBlockLen        = 16
	CmdReadSingleBlock    = 17
	CmdReadMultipleBlock  = 18
	CmdWriteBlock         = 24
	CmdWriteMultipleBlock = 25
	AcmdSDSendOpCond      = 41
	AcmdSendSCR           = 51
	CmdAppCmd             = 55

	maxCommandIndex = 0x3F
)

// ResponseKind selects how much response the command path waits for.
// Values are the WAITRESP field encoding.
type ResponseKind uint8

const (
	NoResponse    ResponseKind = 0b00
	ShortResponse ResponseKind = 0b01 // 32-bit, RESP1
	LongResponse  ResponseKind = 0b11 // 128-bit, RESP1..RESP4
)

func (r ResponseKind) String() string {
	switch r {
	case NoResponse:
		return "none"
	case ShortResponse:
		return "short"
	case LongResponse:
		return "long"
	default:
		return "invalid"
	}
}

// Command describes a single command issued on the command path
type Command struct {
	Arg        uint32
	Index      uint8 // 6-bit command number
	Response   ResponseKind
	WaitInt    bool
	WaitPend   bool
	CPSMEnable bool
	Suspend    bool
}

// newCommand builds the common case: command path enabled, no interrupt wait
func newCommand(index uint8, arg uint32, resp ResponseKind) Command {
	return Command{Arg: arg, Index: index, Response: resp, CPSMEnable: true}
}

// fields returns the CMD register bits this command controls
func (c Command) fields() uint32 {
	v := uint32(c.Index&maxCommandIndex) << regs.CMD_CMDINDEX_Pos
	v |= uint32(c.Response&0b11) << regs.CMD_WAITRESP_Pos
	v |= b2u(c.WaitInt) << regs.CMD_WAITINT_Pos
	v |= b2u(c.WaitPend) << regs.CMD_WAITPEND_Pos
	v |= b2u(c.CPSMEnable) << regs.CMD_CPSMEN_Pos
	v |= b2u(c.Suspend) << regs.CMD_CMDSUSPEND_Pos
	return v
}

// commandFieldMask covers every CMD bit a Command descriptor owns
const commandFieldMask = regs.CMD_CMDINDEX | regs.CMD_WAITRESP | regs.CMD_WAITINT |
	regs.CMD_WAITPEND | regs.CMD_CPSMEN | regs.CMD_CMDSUSPEND

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Engine issues commands on the command path and waits for the hardware
// to acknowledge them. It holds no card state.
type Engine struct {
	bank  regs.Bank
	clock Clock
	trace *traceRing

	// status captured at the end of the last wait, for diagnostics
	lastStatus uint32
}

// NewEngine creates a command engine over a register bank
func NewEngine(bank regs.Bank, clock Clock) *Engine {
	return &Engine{bank: bank, clock: clock}
}

// Send writes the argument register, then the command register. Bits of
// CMD not described by Command (CMDTRANS, CMDSTOP, boot bits) are preserved.
func (e *Engine) Send(c Command) {
	e.bank.Store(regs.ARG, c.Arg)
	regs.Modify(e.bank, regs.CMD, commandFieldMask, c.fields())
	e.trace.record(TraceCommand, c.Index, c.Arg)
}

// clearCmdFlags clears all command-completion status flags
func (e *Engine) clearCmdFlags() {
	e.bank.Store(regs.ICR, regs.CmdFlags)
}

// AwaitSent polls for CMDSENT, used for commands with no response.
// The command flags are cleared on every exit path.
func (e *Engine) AwaitSent(budget time.Duration) error {
	deadline := e.clock.Now() + budget
	expired := false
	for e.bank.Load(regs.STA)&regs.STA_CMDSENT == 0 {
		if e.clock.Now() >= deadline {
			expired = true
			break
		}
	}

	sta := e.bank.Load(regs.STA)
	e.clearCmdFlags()
	e.lastStatus = sta

	if sta&regs.STA_CTIMEOUT != 0 || expired {
		e.trace.record(TraceTimeout, 0, sta)
		return ErrTimeout
	}
	e.trace.record(TraceSent, 0, sta)
	return nil
}

// waitResponse polls until a terminal command condition is latched and the
// command path is idle, or the budget runs out. Flags are left set.
// done reports whether a terminal condition was reached.
func (e *Engine) waitResponse(budget time.Duration) (sta uint32, done bool) {
	deadline := e.clock.Now() + budget
	for {
		sta = e.bank.Load(regs.STA)
		if sta&regs.CmdDone != 0 && sta&regs.STA_CPSMACT == 0 {
			return sta, true
		}
		if e.clock.Now() >= deadline {
			return sta, false
		}
	}
}

// settle waits for the response, then clears the command flags and
// records the status seen. The caller classifies the outcome.
func (e *Engine) settle(budget time.Duration) (sta uint32, done bool) {
	sta, done = e.waitResponse(budget)
	e.clearCmdFlags()
	e.lastStatus = sta
	return sta, done
}

// AwaitResponse waits for the response of the last command and clears the
// command flags on every exit path.
func (e *Engine) AwaitResponse(budget time.Duration) error {
	sta, done := e.settle(budget)

	switch {
	case !done || sta&regs.STA_CTIMEOUT != 0:
		e.trace.record(TraceTimeout, 0, sta)
		return ErrTimeout
	case sta&regs.STA_CCRCFAIL != 0:
		e.trace.record(TraceCRCFail, 0, sta)
		return ErrCRCFailure
	}
	e.trace.record(TraceResponse, uint8(e.RespCmd()), sta)
	return nil
}

// RespCmd returns the command index the card echoed in its last response
func (e *Engine) RespCmd() uint32 {
	return e.bank.Load(regs.RESPCMD) & maxCommandIndex
}

// Expect checks that the last response answered command index
func (e *Engine) Expect(index uint8) error {
	if e.RespCmd() != uint32(index) {
		return ErrUnexpectedResponse
	}
	return nil
}

// Short returns a 32-bit response
func (e *Engine) Short() uint32 {
	return e.bank.Load(regs.RESP1)
}

// Long returns a 128-bit response, most significant word first
func (e *Engine) Long() [4]uint32 {
	return [4]uint32{
		e.bank.Load(regs.RESP1),
		e.bank.Load(regs.RESP2),
		e.bank.Load(regs.RESP3),
		e.bank.Load(regs.RESP4),
	}
}

// LastStatus returns the status register captured by the last wait
func (e *Engine) LastStatus() uint32 {
	return e.lastStatus
}

// exchange sends a command and waits for its response. A NoResponse
// command waits for CMDSENT instead.
func (e *Engine) exchange(c Command, budget time.Duration) error {
	e.Send(c)
	if c.Response == NoResponse {
		return e.AwaitSent(budget)
	}
	return e.AwaitResponse(budget)
}
