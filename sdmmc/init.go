package sdmmc

import "sdhost/regs"

// Bring-up command arguments and response bits
const (
	ifCondArg          = 0x1AA // 2.7-3.6V window, check pattern 0xAA
	ifCondCheckPattern = 0xAA
	ifCondVoltage      = 0x1

	ocrBusy      = 0x80000000 // power-up complete
	ocrHCS       = 0x40000000 // high capacity
	ocrVoltage32 = 0x00100000 // 3.2-3.3V
	acmd41Arg    = ocrBusy | ocrHCS | ocrVoltage32

	scrBlockLength = 8
	busWidth4Arg   = 0b10
)

// Init brings the card from power-on to the transfer state. It runs every
// step in order and stops at the first failure, which is returned as a
// *StepError. Calling Init again restarts from power-up.
func (s *Session) Init() error {
	if s.xfer.InFlight() {
		return &StepError{Step: StepPowerUp, Err: ErrBusy}
	}
	s.card = CardInfo{}
	s.rcaSet = false

	for s.step = StepPowerUp; s.step != StepReady; s.step = next(s.step) {
		s.trace.record(TraceStep, uint8(s.step), 0)
		if err := s.runStep(s.step); err != nil {
			s.debugf(s.step.String() + " failed: " + err.Error() + " STA=" + hex32(s.eng.LastStatus()))
			return &StepError{Step: s.step, Err: err}
		}
	}
	s.trace.record(TraceStep, uint8(StepReady), 0)
	s.debugf("card ready, RCA=" + hex32(s.card.RCA))
	return nil
}

func (s *Session) runStep(step Step) error {
	switch step {
	case StepPowerUp:
		return s.powerUp()
	case StepIdle:
		return s.command(CmdGoIdleState, 0, NoResponse)
	case StepVersionProbe:
		return s.probeVersion()
	case StepVoltageNegotiation:
		return s.negotiateVoltage()
	case StepCapacityCheck:
		if s.card.OCR&ocrHCS != 0 {
			return ErrCapacityUnsupported
		}
		return nil
	case StepIdentification:
		if err := s.command(CmdAllSendCID, 0, LongResponse); err != nil {
			return err
		}
		s.card.CID = s.eng.Long()
		return nil
	case StepAddressing:
		if err := s.command(CmdSendRelativeAddr, 0, ShortResponse); err != nil {
			return err
		}
		s.assignRCA(s.eng.Short())
		return nil
	case StepCSDRetrieval:
		if err := s.command(CmdSendCSD, s.card.RCA, LongResponse); err != nil {
			return err
		}
		s.card.CSD = s.eng.Long()
		return nil
	case StepSelection:
		return s.command(CmdSelectDeselectCard, s.card.RCA, ShortResponse)
	case StepConfigurationRetrieval:
		return s.readSCR()
	case StepBusWidthNegotiation:
		return s.negotiateBusWidth()
	case StepSpeedTransition:
		s.switchSpeed()
		return nil
	case StepBlockLength:
		return s.command(CmdSetBlockLen, BlockSize, ShortResponse)
	case StepReadyCheck:
		return s.awaitTransferState()
	}
	return nil
}

// command issues one command and waits for its response or CMDSENT
func (s *Session) command(index uint8, arg uint32, resp ResponseKind) error {
	return s.eng.exchange(newCommand(index, arg, resp), s.cfg.CommandTimeout)
}

// appCommand sends the CMD55 prefix and checks the echoed index
func (s *Session) appCommand(arg uint32) error {
	if err := s.command(CmdAppCmd, arg, ShortResponse); err != nil {
		return err
	}
	return s.eng.Expect(CmdAppCmd)
}

// powerUp routes the bus pins, resets the peripheral, hooks the interrupt
// and powers the card at the identification clock rate.
func (s *Session) powerUp() error {
	if s.hal.Pins != nil {
		for _, pin := range s.cfg.Pins.all() {
			if err := s.hal.Pins.ConfigureAltFunc(pin, s.cfg.Pins.AltFunc); err != nil {
				return err
			}
		}
		if s.cfg.Pins.HasCardDetect {
			if err := s.hal.Pins.ConfigureInputPullUp(s.cfg.Pins.CardDetect); err != nil {
				return err
			}
		}
	}
	if !s.CardPresent() {
		return ErrNoCard
	}

	if s.hal.Peripheral != nil {
		s.hal.Peripheral.EnableClock()
		s.hal.Peripheral.Reset()
	}
	if s.hal.IRQ != nil && !s.irqBound {
		if err := s.hal.IRQ.Enable(s.cfg.IRQPriority, s.HandleInterrupt); err != nil {
			return err
		}
		s.irqBound = true
	}

	dirpol := uint32(0)
	if s.cfg.DirPolarity == DirPolarityHigh {
		dirpol = regs.POWER_DIRPOL
	}
	regs.Modify(s.bank, regs.POWER, regs.POWER_DIRPOL, dirpol)

	initClock := clockControl{Divider: InitDivider(s.cfg.PeripheralClock)}
	regs.Modify(s.bank, regs.CLKCR, clkcrMask, initClock.bits())

	regs.Modify(s.bank, regs.POWER, regs.POWER_PWRCTRL, regs.POWER_PWRCTRL_ON)

	if s.hal.Delay != nil {
		s.hal.Delay.DelayMicros(SettleMicros(s.cfg.PeripheralClock))
	}
	s.debugf("powered, CLKDIV=" + itoa(int(initClock.Divider)))
	return nil
}

// probeVersion sends CMD8 until the card gives a definite answer. A clean
// response means a version 2 card; a latched timeout or CRC failure means
// an older card, which is not supported. Trials where the command path never
// reaches a terminal condition are retried.
func (s *Session) probeVersion() error {
	for trial := 0; trial < s.cfg.ProbeTrials; trial++ {
		s.eng.Send(newCommand(CmdSendIfCond, ifCondArg, ShortResponse))
		sta, done := s.eng.settle(s.cfg.CommandTimeout)
		if !done {
			s.trace.record(TraceTimeout, CmdSendIfCond, sta)
			continue
		}
		if sta&(regs.STA_CTIMEOUT|regs.STA_CCRCFAIL) != 0 {
			s.card.Version2 = false
			s.debugf("CMD8 rejected, legacy card")
			return ErrCardUnsupported
		}

		s.trace.record(TraceResponse, uint8(s.eng.RespCmd()), sta)
		resp := s.eng.Short()
		if resp&0xFF != ifCondCheckPattern {
			return ErrUnexpectedResponse
		}
		if (resp>>8)&0xF != ifCondVoltage {
			return ErrCardUnsupported
		}
		s.card.Version2 = true
		s.debugf("version 2 card after " + itoa(trial+1) + " CMD8 trials")
		return nil
	}
	return ErrTimeout
}

// negotiateVoltage repeats CMD55/ACMD41 until the card reports power-up
// complete or InitTimeout passes.
func (s *Session) negotiateVoltage() error {
	deadline := s.hal.Clock.Now() + s.cfg.InitTimeout
	rounds := 0
	for {
		if err := s.appCommand(0); err != nil {
			if err == ErrUnexpectedResponse {
				return ErrCardUnsupported
			}
			return err
		}

		// R3 carries no CRC, so a CRC failure here is expected
		err := s.command(AcmdSDSendOpCond, acmd41Arg, ShortResponse)
		if err != nil && err != ErrCRCFailure {
			return err
		}
		rounds++

		ocr := s.eng.Short()
		s.card.OCR = ocr
		if ocr&ocrBusy != 0 {
			s.debugf("OCR=" + hex32(ocr) + " after " + itoa(rounds) + " rounds")
			return nil
		}
		if s.hal.Clock.Now() >= deadline {
			return ErrTimeout
		}
	}
}

// readSCR fetches the 8-byte SCR through the FIFO
func (s *Session) readSCR() error {
	if err := s.command(CmdSetBlockLen, scrBlockLength, ShortResponse); err != nil {
		return err
	}
	if err := s.appCommand(s.card.RCA); err != nil {
		return err
	}

	s.data.BeginShortRead(scrBlockLength)
	if err := s.command(AcmdSendSCR, 0, ShortResponse); err != nil {
		return err
	}

	var raw [2]uint32
	n, err := s.data.Drain(raw[:], s.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	if n != len(raw) {
		return ErrTimeout
	}
	s.card.SCR = CorrectSCR(raw)
	s.debugf("SCR=" + hex32(s.card.SCR.High()) + hex32(s.card.SCR.Low())[2:])
	return nil
}

// negotiateBusWidth switches the card to a 4-bit bus
func (s *Session) negotiateBusWidth() error {
	if !s.card.SCR.Supports4Bit() {
		return ErrBusWidthUnsupported
	}
	if err := s.appCommand(s.card.RCA); err != nil {
		return err
	}
	return s.command(AcmdSetBusWidth, busWidth4Arg, ShortResponse)
}

// switchSpeed reprograms CLKCR for the transfer rate and the 4-bit bus
func (s *Session) switchSpeed() {
	cc := clockControl{
		Divider:   SpeedDivider(s.cfg.PeripheralClock, s.cfg.TargetRate),
		Edge:      s.cfg.ClockEdge,
		PowerSave: s.cfg.PowerSave,
		Width:     BusWidth4,
		FlowCtrl:  s.cfg.HardwareFlowControl,
	}
	regs.Modify(s.bank, regs.CLKCR, clkcrMask, cc.bits())
	s.debugf("CLKDIV=" + itoa(int(cc.Divider)) + " width=4")
}

// awaitTransferState polls CMD13 until the card reports the transfer state
func (s *Session) awaitTransferState() error {
	deadline := s.hal.Clock.Now() + s.cfg.InitTimeout
	for {
		status, err := s.status()
		if err != nil {
			return err
		}
		if CardStateOf(status) == CardTransfer {
			return nil
		}
		if s.hal.Clock.Now() >= deadline {
			return ErrTimeout
		}
	}
}

// status sends CMD13 and returns the R1 card status
func (s *Session) status() (uint32, error) {
	if err := s.command(CmdSendStatus, s.card.RCA, ShortResponse); err != nil {
		return 0, err
	}
	return s.eng.Short(), nil
}
