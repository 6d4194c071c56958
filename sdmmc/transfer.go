package sdmmc

import (
	"sync/atomic"
	"time"

	"sdhost/regs"
)

// TransferResult is the outcome of one data transfer, captured by the
// completion handler. It is never modified after publication.
type TransferResult struct {
	Err    bool   // a data-phase error or a failed stop command was latched
	Status uint32 // STA when the interrupt was taken
	Multi  bool   // the transfer was a multi-block transfer
}

// Error converts the result into an error value; nil on success
func (r TransferResult) Error() error {
	if !r.Err {
		return nil
	}
	return &TransferFailure{Status: r.Status}
}

// Transfer is the record shared between the context that starts a transfer
// and the completion handler. After begin, the handler is its only writer
// until Done reports true; the starting context is the only writer of a
// reset.
type Transfer struct {
	begun   atomic.Bool
	claimed atomic.Bool
	multi   atomic.Bool
	done    atomic.Bool
	result  atomic.Pointer[TransferResult]

	completions atomic.Uint32
}

// begin resets the record for a new transfer. The previous one must be done.
func (t *Transfer) begin(multi bool) {
	t.done.Store(false)
	t.result.Store(nil)
	t.claimed.Store(false)
	t.multi.Store(multi)
	t.begun.Store(true)
}

// abandon returns the record to idle when a transfer could not be started
func (t *Transfer) abandon() {
	t.multi.Store(false)
	t.begun.Store(false)
}

// claim lets exactly one handler invocation finish the current transfer
func (t *Transfer) claim() bool {
	if !t.begun.Load() {
		return false
	}
	return t.claimed.CompareAndSwap(false, true)
}

// finish publishes the result, then releases the waiter. done is the last
// store.
func (t *Transfer) finish(res TransferResult) {
	t.result.Store(&res)
	t.multi.Store(false)
	t.completions.Add(1)
	t.done.Store(true)
}

// InFlight reports whether a transfer was started and has not completed
func (t *Transfer) InFlight() bool {
	return t.begun.Load() && !t.done.Load()
}

// Done reports whether the current transfer has completed
func (t *Transfer) Done() bool {
	return t.done.Load()
}

// Multi reports whether the transfer in flight is multi-block
func (t *Transfer) Multi() bool {
	return t.multi.Load()
}

// Result returns the published result. ok is false until Done.
func (t *Transfer) Result() (res TransferResult, ok bool) {
	if !t.done.Load() {
		return TransferResult{}, false
	}
	p := t.result.Load()
	if p == nil {
		return TransferResult{}, false
	}
	return *p, true
}

// Completions counts how many transfers the handler has released
func (t *Transfer) Completions() uint32 {
	return t.completions.Load()
}

// Transfer returns the session's transfer record
func (s *Session) Transfer() *Transfer {
	return &s.xfer
}

// HandleInterrupt is the SDMMC completion handler. It must be routed from
// the peripheral interrupt; it is also safe to call by polling. Interrupts
// that arrive with no transfer in flight or no data condition are ignored.
func (s *Session) HandleInterrupt() {
	sta := s.bank.Load(regs.STA)
	if sta&(regs.STA_DATAEND|regs.DataErrors) == 0 {
		return
	}
	t := &s.xfer
	if !t.claim() {
		return
	}

	res := TransferResult{Status: sta, Multi: t.multi.Load()}

	if sta&regs.STA_DATAEND != 0 {
		s.data.clearDataFlags()
		s.maskDataInterrupts()
		s.resetDataPath()

		// A data error latched alongside the end condition still fails
		// the transfer.
		if sta&regs.DataErrors != 0 {
			res.Err = true
		}

		if res.Multi && s.stopTransmission() != nil {
			res.Err = true
		}
	} else {
		res.Err = true
		s.data.clearDataFlags()
		s.maskDataInterrupts()
		regs.ClearBits(s.bank, regs.CMD, regs.CMD_CMDTRANS)
	}

	t.finish(res)
}

func (s *Session) maskDataInterrupts() {
	regs.ClearBits(s.bank, regs.MASK, regs.DataIRQs)
}

func (s *Session) unmaskDataInterrupts() {
	regs.SetBits(s.bank, regs.MASK, regs.DataIRQs)
}

// resetDataPath drops the transfer command bit and idles the data path
func (s *Session) resetDataPath() {
	regs.ClearBits(s.bank, regs.CMD, regs.CMD_CMDTRANS)
	s.bank.Store(regs.DLEN, 0)
	s.bank.Store(regs.DCTRL, 0)
	s.bank.Store(regs.IDMACTRL, 0)
}

// stopTransmission sends CMD12 with CMDSTOP held for the exchange
func (s *Session) stopTransmission() error {
	regs.SetBits(s.bank, regs.CMD, regs.CMD_CMDSTOP)
	err := s.eng.exchange(newCommand(CmdStopTransmission, 0, ShortResponse), s.cfg.CommandTimeout)
	regs.ClearBits(s.bank, regs.CMD, regs.CMD_CMDSTOP)
	return err
}

// abortTransfer releases a transfer whose completion never arrived so the
// record can be reused. The published result carries the error flag. A
// multi-block card is sent a stop so it leaves the data state.
func (s *Session) abortTransfer() {
	t := &s.xfer
	if !t.claim() {
		return
	}
	sta := s.bank.Load(regs.STA)
	multi := t.multi.Load()
	s.maskDataInterrupts()
	s.data.clearDataFlags()
	s.resetDataPath()
	if multi {
		s.stopTransmission()
	}
	t.finish(TransferResult{Err: true, Status: sta, Multi: multi})
}

// Wait blocks until the current transfer completes or the budget runs out.
// With PollCompletion set, the handler is run from here whenever a data
// condition is latched.
func (s *Session) Wait(budget time.Duration) (TransferResult, error) {
	t := &s.xfer
	if !t.begun.Load() {
		return TransferResult{}, ErrNotReady
	}
	deadline := s.hal.Clock.Now() + budget
	for !t.Done() {
		if s.cfg.PollCompletion {
			state := disableInterrupts()
			s.HandleInterrupt()
			restoreInterrupts(state)
			if t.Done() {
				break
			}
		}
		if s.hal.Clock.Now() >= deadline {
			state := disableInterrupts()
			s.abortTransfer()
			restoreInterrupts(state)
			return TransferResult{}, ErrTimeout
		}
	}

	res, _ := t.Result()
	return res, res.Error()
}
