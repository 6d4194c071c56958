package protocol

import (
	"bytes"
	"testing"
)

// captureOutput collects everything written to it
type captureOutput struct {
	bytes.Buffer
}

func (c *captureOutput) Output(data []byte) {
	c.Write(data)
}

func encodeTestFrame(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	var out captureOutput
	if err := EncodeFrame(&out, seq, func(o OutputBuffer) { o.Output(payload) }); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return out.Bytes()
}

func TestEncodeFrame(t *testing.T) {
	frame := encodeTestFrame(t, SeqDest|3, []byte{0x01, 0x02})

	if len(frame) != 7 {
		t.Fatalf("frame length = %d, want 7", len(frame))
	}
	if frame[PosLength] != 7 || frame[PosSeq] != 0x13 {
		t.Errorf("header = %v", frame[:HeaderSize])
	}
	crc := CRC16(frame[:4])
	if frame[4] != uint8(crc>>8) || frame[5] != uint8(crc) {
		t.Errorf("CRC bytes = %02X %02X, want %04X", frame[4], frame[5], crc)
	}
	if frame[6] != SyncByte {
		t.Errorf("trailer = 0x%02X, want sync", frame[6])
	}
}

func TestEncodeFrameTooLong(t *testing.T) {
	var out captureOutput
	err := EncodeFrame(&out, SeqDest, func(o OutputBuffer) { o.Output(make([]byte, PayloadMax+1)) })
	if err != ErrFrameTooLong {
		t.Errorf("EncodeFrame() = %v, want ErrFrameTooLong", err)
	}
	if out.Len() != 0 {
		t.Errorf("%d bytes written for a rejected frame", out.Len())
	}

	if err := EncodeFrame(&out, SeqDest, func(o OutputBuffer) { o.Output(make([]byte, PayloadMax)) }); err != nil {
		t.Errorf("full-size frame rejected: %v", err)
	}
	if out.Len() != FrameMax {
		t.Errorf("full-size frame is %d bytes, want %d", out.Len(), FrameMax)
	}
}

func TestAckFrame(t *testing.T) {
	var out captureOutput
	if err := EncodeFrame(&out, SeqDest|5, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), encodeAck(SeqDest|5)) {
		t.Errorf("encodeAck() = %v, EncodeFrame() = %v", encodeAck(SeqDest|5), out.Bytes())
	}
}

type scanned struct {
	seq     uint8
	payload []byte
}

func scanAll(s *Scanner, data []byte) ([]scanned, int) {
	var got []scanned
	n := s.Scan(data, func(seq uint8, payload []byte) {
		got = append(got, scanned{seq, append([]byte(nil), payload...)})
	})
	return got, n
}

func TestScannerFrames(t *testing.T) {
	a := encodeTestFrame(t, 0x10, []byte{1})
	b := encodeTestFrame(t, 0x11, []byte{2, 3})
	stream := append(append([]byte{SyncByte, SyncByte}, a...), b...)

	var s Scanner
	got, n := scanAll(&s, stream)
	if n != len(stream) {
		t.Errorf("consumed %d of %d bytes", n, len(stream))
	}
	if len(got) != 2 || got[0].seq != 0x10 || !bytes.Equal(got[1].payload, []byte{2, 3}) {
		t.Errorf("frames = %+v", got)
	}
}

func TestScannerPartialFrame(t *testing.T) {
	frame := encodeTestFrame(t, 0x10, []byte{9, 9, 9})

	var s Scanner
	got, n := scanAll(&s, frame[:4])
	if len(got) != 0 || n != 0 {
		t.Errorf("partial frame: %d frames, %d consumed", len(got), n)
	}
	got, n = scanAll(&s, frame)
	if len(got) != 1 || n != len(frame) {
		t.Errorf("complete frame: %d frames, %d consumed", len(got), n)
	}
}

// A corrupt frame costs everything up to the next sync byte
func TestScannerResync(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func([]byte)
	}{
		{"bad crc", func(f []byte) { f[2] ^= 0xFF }},
		{"bad length", func(f []byte) { f[PosLength] = 2 }},
		{"bad destination", func(f []byte) { f[PosSeq] = 0x21 }},
		{"missing sync", func(f []byte) { f[len(f)-1] = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := encodeTestFrame(t, 0x10, []byte{0x41, 0x42})
			tt.corrupt(bad)
			good := encodeTestFrame(t, 0x11, []byte{0x43})

			resyncs := 0
			s := Scanner{Resync: func() { resyncs++ }}
			stream := append(append(bad, SyncByte), good...)
			got, _ := scanAll(&s, stream)

			if resyncs == 0 {
				t.Error("no resync reported")
			}
			if !s.Synchronized() {
				t.Error("scanner still lost")
			}
			if len(got) != 1 || got[0].seq != 0x11 {
				t.Errorf("frames after resync = %+v, want only seq 0x11", got)
			}
		})
	}
}
