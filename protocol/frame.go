package protocol

import (
	"bytes"
	"errors"
)

// ErrFrameTooLong is returned when an encoded command does not fit one frame
var ErrFrameTooLong = errors.New("protocol: frame exceeds 64 bytes")

// EncodeFrame writes one frame with sequence seq to out. body appends the
// payload. Nothing is written if the frame would exceed FrameMax.
func EncodeFrame(out OutputBuffer, seq uint8, body func(OutputBuffer)) error {
	var scratch ScratchOutput
	scratch.Output([]byte{0, seq})
	if body != nil {
		body(&scratch)
	}

	size := scratch.CurPosition() + TrailerSize
	if size > FrameMax {
		return ErrFrameTooLong
	}
	scratch.Update(PosLength, uint8(size))

	crc := CRC16(scratch.Result())
	scratch.Output([]byte{uint8(crc >> 8), uint8(crc), SyncByte})
	out.Output(scratch.Result())
	return nil
}

// encodeAck returns the empty frame acknowledging everything before seq
func encodeAck(seq uint8) []byte {
	crc := CRC16([]byte{FrameMin, seq})
	return []byte{FrameMin, seq, uint8(crc >> 8), uint8(crc), SyncByte}
}

// Scanner splits a byte stream into frames. After a corrupt frame it drops
// bytes up to the next sync byte before trusting a length field again.
type Scanner struct {
	lost bool

	// Resync, if set, is called each time sync is recovered
	Resync func()
}

// Synchronized reports whether the scanner is aligned on frame boundaries
func (s *Scanner) Synchronized() bool {
	return !s.lost
}

// Reset forgets any partial resynchronization
func (s *Scanner) Reset() {
	s.lost = false
}

// Scan calls fn for every complete, valid frame at the front of data and
// returns the number of bytes consumed. A trailing partial frame is left
// for the next call. payload aliases data.
func (s *Scanner) Scan(data []byte, fn func(seq uint8, payload []byte)) int {
	rest := data
	for len(rest) > 0 {
		if s.lost {
			i := bytes.IndexByte(rest, SyncByte)
			if i < 0 {
				rest = nil
				break
			}
			rest = rest[i+1:]
			s.lost = false
			if s.Resync != nil {
				s.Resync()
			}
			continue
		}

		if rest[0] == SyncByte {
			rest = rest[1:]
			continue
		}
		if len(rest) < FrameMin {
			break
		}

		size := int(rest[PosLength])
		if size < FrameMin || size > FrameMax || rest[PosSeq]&^SeqMask != SeqDest {
			s.lost = true
			continue
		}
		if len(rest) < size {
			break
		}
		if rest[size-trailerSync] != SyncByte {
			s.lost = true
			continue
		}
		crc := uint16(rest[size-trailerCRC])<<8 | uint16(rest[size-trailerCRC+1])
		if crc != CRC16(rest[:size-TrailerSize]) {
			s.lost = true
			continue
		}

		seq, payload := rest[PosSeq], rest[HeaderSize:size-TrailerSize]
		rest = rest[size:]
		fn(seq, payload)
	}
	return len(data) - len(rest)
}
