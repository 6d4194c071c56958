// Package protocol implements the framed link between the host tool and the
// bridge firmware.
//
// Every frame is: length, sequence, payload, crc16 (big endian), 0x7E.
// The payload is a run of commands, each a VLQ command id followed by its
// VLQ-encoded arguments. A frame with an empty payload is an ACK/NAK.
package protocol

// Version is the bridge protocol version reported by identify
const Version = "sdhost-bridge-0.1.0"

// Frame layout
const (
	HeaderSize  = 2 // length, sequence
	TrailerSize = 3 // crc16, sync
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64

	PosLength = 0
	PosSeq    = 1

	trailerCRC  = 3 // offset of the CRC from the frame end
	trailerSync = 1 // offset of the sync byte from the frame end

	SyncByte = 0x7E

	// SeqDest is set in the high nibble of every sequence byte
	SeqDest = 0x10
	SeqMask = 0x0F

	// PayloadMax is the largest payload that fits one frame
	PayloadMax = FrameMax - FrameMin

	// scratchSize bounds one encoded command before framing
	scratchSize = 512
)

// nextSeq advances a sequence byte, wrapping inside the destination range
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}
