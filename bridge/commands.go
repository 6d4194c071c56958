package bridge

import (
	"errors"

	"sdhost/sdmmc"
)

// Message names. The formats are published in the dictionary.
const (
	MsgIdentifyResponse = "identify_response"
	MsgIdentify         = "identify"

	MsgRegRead  = "reg_read"
	MsgRegValue = "reg_value"
	MsgRegWrite = "reg_write"

	MsgInit   = "sd_init"
	MsgResult = "sd_result"
	MsgIRQ    = "sd_irq"

	MsgBlockRead  = "block_read"
	MsgBlockStage = "block_stage"
	MsgBlockWrite = "block_write"
	MsgBlockData  = "block_data"
	MsgBlockEnd   = "block_end"
)

const (
	// IdentifyChunk is the largest dictionary slice one response carries
	IdentifyChunk = 40

	// BlockChunk is the block_data payload size; a block is sent in
	// sdmmc.BlockSize/BlockChunk pieces
	BlockChunk = 32
)

// Result codes carried by sd_result and block_end. Codes 1 through 0x7F
// are sdmmc.ErrorKind values.
const (
	CodeOK    = 0
	CodeOther = 0xFF
)

// errRemote is a firmware failure that is not an sdmmc.ErrorKind
var errRemote = errors.New("bridge: firmware error")

// ErrorCode maps err onto the wire
func ErrorCode(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	var kind sdmmc.ErrorKind
	if errors.As(err, &kind) {
		return uint32(kind)
	}
	return CodeOther
}

// CodeError is the inverse of ErrorCode
func CodeError(code uint32) error {
	switch {
	case code == CodeOK:
		return nil
	case code < 0x80:
		return sdmmc.ErrorKind(code)
	default:
		return errRemote
	}
}
