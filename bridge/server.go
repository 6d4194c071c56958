package bridge

import (
	"errors"

	"sdhost/protocol"
	"sdhost/regs"
	"sdhost/sdmmc"
)

// Card is the block device a Server exposes. *sdmmc.Session satisfies it;
// so does the SPI-mode adapter on boards without an SDMMC peripheral.
type Card interface {
	Init() error
	ReadBlocks(lba uint32, buf []byte) error
	WriteBlocks(lba uint32, buf []byte) error
	RCA() uint32
}

// interruptible is implemented by cards completed from a peripheral
// interrupt, so a host can forward one with sd_irq
type interruptible interface {
	HandleInterrupt()
}

// stepReporter is implemented by cards whose bring-up is stepwise
type stepReporter interface {
	Step() sdmmc.Step
}

// Server is the firmware end of the bridge
type Server struct {
	reg       *Registry
	transport *protocol.Transport
	card      Card
	bank      regs.Bank

	stream *streamOutput

	block [sdmmc.BlockSize]byte

	idIdentifyResponse uint16
	idRegValue         uint16
	idResult           uint16
	idBlockData        uint16
	idBlockEnd         uint16
}

// NewServer registers the bridge commands and returns a server writing its
// frames to out. bank may be nil, in which case the register commands are
// not offered.
func NewServer(out protocol.OutputBuffer, card Card, bank regs.Bank) *Server {
	s := &Server{card: card, bank: bank}
	s.reg = NewRegistry(s.handleIdentify)
	s.transport = protocol.NewTransport(out, s.reg.Dispatch)

	s.idIdentifyResponse, _ = s.reg.ID(MsgIdentifyResponse)

	if bank != nil {
		s.reg.Register(MsgRegRead, "offset=%u", s.handleRegRead)
		s.reg.Register(MsgRegWrite, "offset=%u value=%u", s.handleRegWrite)
		s.idRegValue = s.reg.RegisterResponse(MsgRegValue, "offset=%u value=%u")
	}

	s.reg.Register(MsgInit, "", s.handleInit)
	s.reg.Register(MsgIRQ, "", s.handleIRQ)
	s.reg.Register(MsgBlockRead, "lba=%u", s.handleBlockRead)
	s.reg.Register(MsgBlockStage, "offset=%u data=%*s", s.handleBlockStage)
	s.reg.Register(MsgBlockWrite, "lba=%u", s.handleBlockWrite)
	s.idResult = s.reg.RegisterResponse(MsgResult, "code=%u step=%u rca=%u")
	s.idBlockData = s.reg.RegisterResponse(MsgBlockData, "lba=%u offset=%u data=%*s")
	s.idBlockEnd = s.reg.RegisterResponse(MsgBlockEnd, "lba=%u code=%u")

	s.reg.AddConstant("BLOCK_SIZE", "512")
	s.reg.AddConstant("BLOCK_CHUNK", "32")
	return s
}

// Registry returns the server's command registry
func (s *Server) Registry() *Registry {
	return s.reg
}

// Transport returns the underlying protocol transport
func (s *Server) Transport() *protocol.Transport {
	return s.transport
}

// Receive processes every complete frame in input
func (s *Server) Receive(input protocol.InputBuffer) {
	s.transport.Receive(input)
}

func (s *Server) handleIdentify(args *[]byte) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if count > IdentifyChunk {
		count = IdentifyChunk
	}

	chunk := s.reg.Chunk(offset, int(count))
	return s.transport.SendCommand(s.idIdentifyResponse, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
}

func (s *Server) handleRegRead(args *[]byte) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if !regs.Valid(offset) {
		return regs.ErrBadOffset
	}
	value := s.bank.Load(offset)
	return s.transport.SendCommand(s.idRegValue, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, value)
	})
}

func (s *Server) handleRegWrite(args *[]byte) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if !regs.Valid(offset) {
		return regs.ErrBadOffset
	}
	s.bank.Store(offset, value)
	return nil
}

func (s *Server) handleInit(args *[]byte) error {
	err := s.card.Init()

	var step uint32
	var se *sdmmc.StepError
	if errors.As(err, &se) {
		step = uint32(se.Step)
	} else if sr, ok := s.card.(stepReporter); ok {
		step = uint32(sr.Step())
	}

	rca := s.card.RCA()
	return s.transport.SendCommand(s.idResult, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, ErrorCode(err))
		protocol.EncodeVLQUint(out, step)
		protocol.EncodeVLQUint(out, rca)
	})
}

func (s *Server) handleIRQ(args *[]byte) error {
	if c, ok := s.card.(interruptible); ok {
		c.HandleInterrupt()
	}
	return nil
}

func (s *Server) handleBlockRead(args *[]byte) error {
	lba, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}

	err = s.card.ReadBlocks(lba, s.block[:])
	if err == nil {
		for off := 0; off < sdmmc.BlockSize; off += BlockChunk {
			chunk := s.block[off : off+BlockChunk]
			err := s.transport.SendCommand(s.idBlockData, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, lba)
				protocol.EncodeVLQUint(out, uint32(off))
				protocol.EncodeVLQBytes(out, chunk)
			})
			if err != nil {
				return err
			}
		}
	}
	return s.sendBlockEnd(lba, err)
}

func (s *Server) handleBlockStage(args *[]byte) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	data, err := protocol.DecodeVLQBytes(args)
	if err != nil {
		return err
	}
	if offset >= sdmmc.BlockSize {
		return sdmmc.ErrBadBuffer
	}
	copy(s.block[offset:], data)
	return nil
}

func (s *Server) handleBlockWrite(args *[]byte) error {
	lba, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	return s.sendBlockEnd(lba, s.card.WriteBlocks(lba, s.block[:]))
}

func (s *Server) sendBlockEnd(lba uint32, err error) error {
	return s.transport.SendCommand(s.idBlockEnd, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, lba)
		protocol.EncodeVLQUint(out, ErrorCode(err))
	})
}
