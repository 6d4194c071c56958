package sdmmc

import "sdhost/regs"

// Standard-capacity cards are byte addressed; the address must fit 32 bits.
const maxByteAddress = 1 << 32

// ReadBlocks reads len(buf)/512 blocks starting at lba and waits for the
// completion handler to release the transfer.
func (s *Session) ReadBlocks(lba uint32, buf []byte) error {
	if err := s.StartRead(lba, buf); err != nil {
		return err
	}
	_, err := s.Wait(s.cfg.TransferTimeout)
	return err
}

// WriteBlocks writes len(buf)/512 blocks starting at lba, waits for the
// transfer and then for the card to leave the programming state.
func (s *Session) WriteBlocks(lba uint32, buf []byte) error {
	if err := s.StartWrite(lba, buf); err != nil {
		return err
	}
	if _, err := s.Wait(s.cfg.TransferTimeout); err != nil {
		return err
	}
	return s.awaitTransferState()
}

// StartRead starts a read into buf and returns without waiting. The caller
// polls Transfer().Done or calls Wait before touching buf.
func (s *Session) StartRead(lba uint32, buf []byte) error {
	return s.start(FromCard, lba, buf)
}

// StartWrite starts a write from buf and returns without waiting
func (s *Session) StartWrite(lba uint32, buf []byte) error {
	return s.start(ToCard, lba, buf)
}

func (s *Session) start(dir Direction, lba uint32, buf []byte) error {
	if !s.Ready() {
		return ErrNotReady
	}
	if s.xfer.InFlight() {
		return ErrBusy
	}
	if len(buf) == 0 || len(buf)%BlockSize != 0 || s.hal.DMA == nil {
		return ErrBadBuffer
	}
	blocks := uint32(len(buf) / BlockSize)
	if (uint64(lba)+uint64(blocks))*BlockSize > maxByteAddress {
		return ErrBadBuffer
	}

	multi := blocks > 1
	var index uint8
	switch {
	case dir == FromCard && multi:
		index = CmdReadMultipleBlock
	case dir == FromCard:
		index = CmdReadSingleBlock
	case multi:
		index = CmdWriteMultipleBlock
	default:
		index = CmdWriteBlock
	}

	s.xfer.begin(multi)
	s.data.clearDataFlags()
	s.data.BeginBlockTransfer(dir, s.hal.DMA.Address(buf), blocks)
	s.unmaskDataInterrupts()
	regs.SetBits(s.bank, regs.CMD, regs.CMD_CMDTRANS)

	if err := s.command(index, lba*BlockSize, ShortResponse); err != nil {
		state := disableInterrupts()
		s.maskDataInterrupts()
		s.resetDataPath()
		s.xfer.abandon()
		restoreInterrupts(state)
		return err
	}
	return nil
}

// CardStatus sends CMD13 and decodes the card state. It needs an assigned
// relative address and no transfer in flight.
func (s *Session) CardStatus() (CardState, error) {
	if !s.rcaSet {
		return CardIdle, ErrNotReady
	}
	if s.xfer.InFlight() {
		return CardIdle, ErrBusy
	}
	status, err := s.status()
	if err != nil {
		return CardIdle, err
	}
	return CardStateOf(status), nil
}
