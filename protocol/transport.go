package protocol

import "sync/atomic"

// CommandHandler is called for each command decoded from an accepted frame.
// It must consume its arguments from args.
type CommandHandler func(cmdID uint16, args *[]byte) error

// Transport is the firmware end of the link. It accepts frames in sequence,
// dispatches their commands and answers every frame with an ACK carrying
// the next sequence it expects.
type Transport struct {
	scanner Scanner
	nextSeq atomic.Uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()

	lastErr error
}

// NewTransport creates a Transport writing frames to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.nextSeq.Store(SeqDest)
	t.scanner.Resync = t.sendAck
	return t
}

// Receive consumes every complete frame in input
func (t *Transport) Receive(input InputBuffer) {
	n := t.scanner.Scan(input.Data(), t.receiveFrame)
	if n > 0 {
		input.Pop(n)
	}
}

func (t *Transport) receiveFrame(seq uint8, payload []byte) {
	expected := uint8(t.nextSeq.Load())

	// a host that restarts begins again at the first sequence
	if seq == SeqDest && expected != SeqDest {
		t.nextSeq.Store(SeqDest)
		expected = SeqDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if seq == expected {
		t.nextSeq.Store(uint32(nextSeq(seq)))
		t.dispatch(payload)
	}
	// out-of-order frames are not run; the ACK doubles as a NAK
	t.sendAck()
}

// dispatch runs every command in payload. A handler panic drops sync so
// the rest of the stream is rescanned.
func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.lost = true
		}
	}()

	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			t.scanner.lost = true
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &payload); err != nil {
			t.lastErr = err
			return
		}
	}
}

// LastError returns the most recent handler error
func (t *Transport) LastError() error {
	return t.lastErr
}

func (t *Transport) sendAck() {
	t.output.Output(encodeAck(uint8(t.nextSeq.Load())))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand frames one response command. Responses share the sequence of
// the ACK that follows them.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return EncodeFrame(t.output, uint8(t.nextSeq.Load()), func(out OutputBuffer) {
		EncodeVLQUint(out, uint32(cmdID))
		if args != nil {
			args(out)
		}
	})
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	t.scanner.Reset()
	t.nextSeq.Store(SeqDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// ExpectedSequence returns the sequence of the next frame to be accepted
func (t *Transport) ExpectedSequence() uint8 {
	return uint8(t.nextSeq.Load())
}

// SetResetCallback sets the function run when the host restarts the link
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets the function run after every ACK so it reaches
// the host ahead of queued output
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}
