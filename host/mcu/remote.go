package mcu

import (
	"errors"
	"fmt"
	"sync"

	"sdhost/bridge"
	"sdhost/protocol"
	"sdhost/regs"
	"sdhost/sdmmc"
)

// RemoteBank is a regs.Bank whose registers live on bridge firmware. Each
// Load is one round trip. The first link failure is kept in Err and later
// accesses become no-ops that read zero.
type RemoteBank struct {
	m *MCU

	mu  sync.Mutex
	err error
}

// NewRemoteBank fails if the firmware does not expose its registers
func NewRemoteBank(m *MCU) (*RemoteBank, error) {
	if !m.Supports(bridge.MsgRegRead) || !m.Supports(bridge.MsgRegWrite) {
		return nil, errors.New("firmware has no register access")
	}
	return &RemoteBank{m: m}, nil
}

// Load implements regs.Bank
func (b *RemoteBank) Load(offset uint32) uint32 {
	if b.Err() != nil {
		return 0
	}
	if !regs.Valid(offset) {
		b.fail(fmt.Errorf("load 0x%X: %w", offset, regs.ErrBadOffset))
		return 0
	}

	var value uint32
	err := b.m.Call(bridge.MsgRegRead, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
	}, func(name string, args []byte) (bool, error) {
		if name != bridge.MsgRegValue {
			return false, nil
		}
		got, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return true, err
		}
		if got != offset {
			return true, fmt.Errorf("reg_value for 0x%02X, asked 0x%02X", got, offset)
		}
		value, err = protocol.DecodeVLQUint(&args)
		return true, err
	})
	b.fail(err)
	return value
}

// Store implements regs.Bank
func (b *RemoteBank) Store(offset uint32, value uint32) {
	if b.Err() != nil {
		return
	}
	if !regs.Valid(offset) {
		b.fail(fmt.Errorf("store 0x%X: %w", offset, regs.ErrBadOffset))
		return
	}
	b.fail(b.m.SendCommand(bridge.MsgRegWrite, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, value)
	}))
}

// Err returns the first link error
func (b *RemoteBank) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *RemoteBank) fail(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

// RemoteCard drives the card session that runs on bridge firmware. It
// satisfies bridge.Card, so a host can re-export a remote card.
type RemoteCard struct {
	m    *MCU
	rca  uint32
	step sdmmc.Step

	irqErr error
}

// NewRemoteCard wraps a connected MCU
func NewRemoteCard(m *MCU) *RemoteCard {
	return &RemoteCard{m: m}
}

// Init runs bring-up on the firmware. A failure is reported as a
// *sdmmc.StepError naming the firmware's failed step.
func (c *RemoteCard) Init() error {
	var code uint32
	err := c.m.Call(bridge.MsgInit, nil, func(name string, args []byte) (bool, error) {
		if name != bridge.MsgResult {
			return false, nil
		}
		var vals [3]uint32
		for i := range vals {
			v, err := protocol.DecodeVLQUint(&args)
			if err != nil {
				return true, err
			}
			vals[i] = v
		}
		code, c.step, c.rca = vals[0], sdmmc.Step(vals[1]), vals[2]
		return true, nil
	})
	if err != nil {
		return err
	}
	if cerr := bridge.CodeError(code); cerr != nil {
		return &sdmmc.StepError{Step: c.step, Err: cerr}
	}
	return nil
}

// RCA returns the address reported by the last Init
func (c *RemoteCard) RCA() uint32 {
	return c.rca
}

// Step returns the firmware's bring-up step after the last Init
func (c *RemoteCard) Step() sdmmc.Step {
	return c.step
}

// HandleInterrupt asks the firmware to run its completion handler. The
// outcome of the send is kept for Err.
func (c *RemoteCard) HandleInterrupt() {
	c.irqErr = c.m.SendCommand(bridge.MsgIRQ, nil)
}

// Err returns the error from the last HandleInterrupt
func (c *RemoteCard) Err() error {
	return c.irqErr
}

func checkBuffer(buf []byte) error {
	if len(buf) == 0 || len(buf)%sdmmc.BlockSize != 0 {
		return sdmmc.ErrBadBuffer
	}
	return nil
}

// ReadBlocks reads whole blocks one block_read at a time
func (c *RemoteCard) ReadBlocks(lba uint32, buf []byte) error {
	if err := checkBuffer(buf); err != nil {
		return err
	}
	for i := 0; i < len(buf)/sdmmc.BlockSize; i++ {
		block := buf[i*sdmmc.BlockSize : (i+1)*sdmmc.BlockSize]
		if err := c.readBlock(lba+uint32(i), block); err != nil {
			return err
		}
	}
	return nil
}

func (c *RemoteCard) readBlock(lba uint32, block []byte) error {
	var code uint32
	received := 0
	err := c.m.Call(bridge.MsgBlockRead, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, lba)
	}, func(name string, args []byte) (bool, error) {
		switch name {
		case bridge.MsgBlockData:
			if _, err := protocol.DecodeVLQUint(&args); err != nil {
				return true, err
			}
			off, err := protocol.DecodeVLQUint(&args)
			if err != nil {
				return true, err
			}
			data, err := protocol.DecodeVLQBytes(&args)
			if err != nil {
				return true, err
			}
			if int(off)+len(data) > len(block) {
				return true, fmt.Errorf("block_data past the block end: offset %d", off)
			}
			received += copy(block[off:], data)
			return false, nil
		case bridge.MsgBlockEnd:
			return true, blockEnd(args, &code)
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if cerr := bridge.CodeError(code); cerr != nil {
		return cerr
	}
	if received != sdmmc.BlockSize {
		return fmt.Errorf("block %d: received %d of %d bytes", lba, received, sdmmc.BlockSize)
	}
	return nil
}

// WriteBlocks stages each block in firmware memory, then commits it
func (c *RemoteCard) WriteBlocks(lba uint32, buf []byte) error {
	if err := checkBuffer(buf); err != nil {
		return err
	}
	for i := 0; i < len(buf)/sdmmc.BlockSize; i++ {
		block := buf[i*sdmmc.BlockSize : (i+1)*sdmmc.BlockSize]
		for off := 0; off < sdmmc.BlockSize; off += bridge.BlockChunk {
			err := c.m.SendCommand(bridge.MsgBlockStage, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, uint32(off))
				protocol.EncodeVLQBytes(out, block[off:off+bridge.BlockChunk])
			})
			if err != nil {
				return err
			}
		}

		var code uint32
		err := c.m.Call(bridge.MsgBlockWrite, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, lba+uint32(i))
		}, func(name string, args []byte) (bool, error) {
			if name != bridge.MsgBlockEnd {
				return false, nil
			}
			return true, blockEnd(args, &code)
		})
		if err != nil {
			return err
		}
		if cerr := bridge.CodeError(code); cerr != nil {
			return cerr
		}
	}
	return nil
}

func blockEnd(args []byte, code *uint32) error {
	if _, err := protocol.DecodeVLQUint(&args); err != nil {
		return err
	}
	v, err := protocol.DecodeVLQUint(&args)
	*code = v
	return err
}
