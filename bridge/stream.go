package bridge

import (
	"errors"
	"io"
	"sync"

	"sdhost/protocol"
	"sdhost/regs"
)

// streamOutput holds frames until the transport flushes its ACK, so a
// response and its ACK leave in one write
type streamOutput struct {
	mu  sync.Mutex
	buf []byte
	w   io.Writer
	err error
}

func (o *streamOutput) Output(data []byte) {
	o.mu.Lock()
	o.buf = append(o.buf, data...)
	o.mu.Unlock()
}

func (o *streamOutput) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.buf) == 0 {
		return
	}
	if _, err := o.w.Write(o.buf); err != nil && o.err == nil {
		o.err = err
	}
	o.buf = o.buf[:0]
}

func (o *streamOutput) failure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// NewStreamServer returns a server whose frames are written to w
func NewStreamServer(w io.Writer, card Card, bank regs.Bank) *Server {
	out := &streamOutput{w: w}
	s := NewServer(out, card, bank)
	s.stream = out
	s.transport.SetFlushCallback(out.flush)
	return s
}

// Serve feeds frames read from r to the server until r fails or a write
// fails. A clean end of stream returns nil.
func (s *Server) Serve(r io.Reader) error {
	fifo := protocol.NewFifoBuffer(1024)
	buf := make([]byte, protocol.FrameMax)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fifo.Write(buf[:n])
			s.Receive(fifo)
		}
		if s.stream != nil {
			if werr := s.stream.failure(); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}
