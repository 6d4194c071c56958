package protocol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrStopped    = errors.New("protocol: transport stopped")
	ErrAckTimeout = errors.New("protocol: ACK timeout")
	ErrNoResponse = errors.New("protocol: response timeout")
)

// DefaultAckTimeout bounds the wait for an ACK in SendCommand
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler receives every response frame's first command
type ResponseHandler func(cmdID uint16, args *[]byte) error

// Message is one received frame
type Message struct {
	Sequence uint8
	Payload  []byte
}

// Command decodes the message's command id and returns it with the
// remaining arguments
func (m *Message) Command() (uint16, []byte, error) {
	data := m.Payload
	id, err := DecodeVLQUint(&data)
	return uint16(id), data, err
}

// HostTransport is the host end of the link. It sends one command per
// frame, waits for the firmware's ACK and queues response frames.
type HostTransport struct {
	port io.ReadWriteCloser
	seq  atomic.Uint32

	readMu  sync.Mutex
	scanner Scanner
	input   *FifoBuffer

	writeMu sync.Mutex

	acks      chan *Message
	responses chan *Message
	handler   atomic.Pointer[ResponseHandler]

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHostTransport starts reading from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(1024),
		acks:      make(chan *Message, 4),
		responses: make(chan *Message, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(SeqDest)

	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with an explicit ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(t.seq.Load())
	frame := NewScratchOutput()
	err := EncodeFrame(frame, seq, func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
	if err != nil {
		return err
	}

	// ACKs sent on resync are not for this frame
	t.drain(t.acks)

	if _, err := t.port.Write(frame.Result()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return t.waitForAck(seq, timeout)
}

func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	want := nextSeq(seq)
	select {
	case ack := <-t.acks:
		if ack.Sequence != want {
			return fmt.Errorf("NAK: firmware expects 0x%02x, sent 0x%02x", ack.Sequence, seq)
		}
		t.seq.Store(uint32(want))
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrAckTimeout, timeout)
	case <-t.stop:
		return ErrStopped
	}
}

// ReceiveResponse returns the oldest queued response
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responses:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrNoResponse, timeout)
	case <-t.stop:
		return nil, ErrStopped
	}
}

// DiscardResponses drops every queued response
func (t *HostTransport) DiscardResponses() {
	t.drain(t.responses)
}

// SetResponseHandler installs a callback run for each response before it
// is queued
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handler.Store(&handler)
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.feed(buf[:n])
		}
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return
			}
			// serial ports report a read timeout as EOF
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) feed(data []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(data) > 0 {
		w := t.input.Write(data)
		data = data[w:]
		n := t.scanner.Scan(t.input.Data(), t.dispatch)
		t.input.Pop(n)
		if w == 0 && n == 0 {
			// full of bytes that never form a frame
			t.input.Reset()
		}
	}
}

func (t *HostTransport) dispatch(seq uint8, payload []byte) {
	msg := &Message{Sequence: seq, Payload: append([]byte(nil), payload...)}

	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg:
		default:
		}
		return
	}

	if h := t.handler.Load(); h != nil && *h != nil {
		if id, args, err := msg.Command(); err == nil {
			_ = (*h)(id, &args)
		}
	}

	// keep the newest responses when nobody is reading
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		select {
		case <-t.responses:
		default:
		}
	}
}

func (t *HostTransport) drain(ch chan *Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stop)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.done
	})
	return err
}

// Reset restarts the link at the first sequence. The firmware treats the
// next frame as a host restart.
func (t *HostTransport) Reset() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.seq.Store(SeqDest)
	t.drain(t.acks)
	t.drain(t.responses)

	t.readMu.Lock()
	t.scanner.Reset()
	t.input.Reset()
	t.readMu.Unlock()
}

// Sequence returns the sequence the next frame will carry
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}
