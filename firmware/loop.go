// Package firmware runs the bridge server on a microcontroller: it moves
// bytes between the host link and the protocol transport.
package firmware

import (
	"time"

	"sdhost/bridge"
	"sdhost/protocol"
	"sdhost/regs"
)

// Port is the byte link to the host. machine.Serial satisfies it for both
// USB CDC and UART.
type Port interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(data []byte) (int, error)
}

// Stats counts loop activity
type Stats struct {
	Received uint32 // passes that had input
	Sent     uint32 // successful flushes
	Errors   uint32 // read, write and overflow failures, recovered panics
}

// After this many failed writes in a row the host is treated as gone
const maxWriteFailures = 10

// Loop serves one card over one port
type Loop struct {
	port   Port
	input  *protocol.FifoBuffer
	output *protocol.ScratchOutput
	server *bridge.Server

	stats         Stats
	disconnected  bool
	writeFailures uint32
}

// New creates a loop serving card (and bank, if not nil) on port
func New(port Port, card bridge.Card, bank regs.Bank) *Loop {
	l := &Loop{
		port:   port,
		input:  protocol.NewFifoBuffer(256),
		output: protocol.NewScratchOutput(),
	}
	l.server = bridge.NewServer(l, card, bank)

	tr := l.server.Transport()
	tr.SetResetCallback(func() {
		l.output.Reset()
		l.stats = Stats{}
	})
	// ACKs go out as soon as they are framed
	tr.SetFlushCallback(l.flush)
	return l
}

// Server returns the bridge server
func (l *Loop) Server() *bridge.Server {
	return l.server
}

// Stats returns the activity counters
func (l *Loop) Stats() Stats {
	return l.stats
}

// Output implements protocol.OutputBuffer. Responses larger than the
// scratch buffer (block reads) are written out as it fills.
func (l *Loop) Output(data []byte) {
	if len(data) > l.output.Free() {
		l.flush()
	}
	l.output.Output(data)
}

// Run polls forever
func (l *Loop) Run() {
	for {
		l.Poll()
		time.Sleep(10 * time.Microsecond)
	}
}

// Poll reads what the port has, runs every complete command and writes
// the replies
func (l *Loop) Poll() {
	// a panic in a handler must not take the firmware down
	defer func() {
		if r := recover(); r != nil {
			l.stats.Errors++
			l.input.Reset()
			l.output.Reset()
		}
	}()

	l.readPort()

	if l.input.Available() > 0 {
		l.server.Receive(l.input)
		l.stats.Received++
	}

	if len(l.output.Result()) > 0 {
		l.flush()
	}
}

func (l *Loop) readPort() {
	for l.port.Buffered() > 0 {
		b, err := l.port.ReadByte()
		if err != nil {
			l.stats.Errors++
			return
		}

		// first byte after a disconnect starts a fresh session
		if l.disconnected {
			l.disconnected = false
			l.input.Reset()
			l.output.Reset()
			l.server.Transport().Reset()
			l.writeFailures = 0
		}

		if l.input.Write([]byte{b}) == 0 {
			l.stats.Errors++
			return
		}
	}
}

func (l *Loop) flush() {
	result := l.output.Result()
	written := 0
	for written < len(result) {
		n, err := l.port.Write(result[written:])
		if err != nil || n == 0 {
			l.writeFailures++
			if l.writeFailures > maxWriteFailures {
				l.disconnected = true
				l.writeFailures = 0
				l.output.Reset()
				l.input.Reset()
			}
			l.stats.Errors++
			return
		}
		written += n
	}
	l.writeFailures = 0
	l.stats.Sent++
	l.output.Reset()
}
