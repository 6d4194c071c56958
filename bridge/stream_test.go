package bridge

import (
	"bytes"
	"errors"
	"testing"

	"sdhost/protocol"
	"sdhost/sdmmc/cardsim"
)

// countingWriter records each write separately
type countingWriter struct {
	writes [][]byte
	err    error
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func initFrame(t *testing.T, srv *Server, seq uint8) []byte {
	t.Helper()
	id, _ := srv.Registry().ID(MsgInit)
	var frame captureOutput
	if err := protocol.EncodeFrame(&frame, seq, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(id))
	}); err != nil {
		t.Fatal(err)
	}
	return frame.Bytes()
}

func TestStreamServerWritesResponseWithAck(t *testing.T) {
	s, _ := simSession(cardsim.NewCard())
	var w countingWriter
	srv := NewStreamServer(&w, s, nil)

	in := initFrame(t, srv, protocol.SeqDest)
	if err := srv.Serve(bytes.NewReader(in)); err != nil {
		t.Fatalf("Serve() = %v", err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %d, want the result and ACK in one write", len(w.writes))
	}

	var payloads [][]byte
	var seqs []uint8
	var sc protocol.Scanner
	sc.Scan(w.writes[0], func(seq uint8, payload []byte) {
		seqs = append(seqs, seq)
		payloads = append(payloads, append([]byte(nil), payload...))
	})
	if len(payloads) != 2 {
		t.Fatalf("frames = %d, want 2", len(payloads))
	}
	if len(payloads[0]) == 0 {
		t.Error("first frame should be sd_result")
	}
	if len(payloads[1]) != 0 || seqs[1] != protocol.SeqDest|1 {
		t.Errorf("second frame = seq 0x%02X len %d, want ACK 0x11", seqs[1], len(payloads[1]))
	}
	if !s.Ready() {
		t.Error("card not initialized")
	}
}

func TestStreamServerWriteFailure(t *testing.T) {
	s, _ := simSession(cardsim.NewCard())
	wantErr := errors.New("link down")
	w := countingWriter{err: wantErr}
	srv := NewStreamServer(&w, s, nil)

	in := initFrame(t, srv, protocol.SeqDest)
	if err := srv.Serve(bytes.NewReader(in)); !errors.Is(err, wantErr) {
		t.Errorf("Serve() = %v, want %v", err, wantErr)
	}
}
