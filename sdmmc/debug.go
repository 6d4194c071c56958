package sdmmc

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceKind classifies a captured command-path event
type TraceKind uint8

// Event type codes
const (
	TraceCommand  TraceKind = 1 // command issued (Value = argument)
	TraceSent     TraceKind = 2 // CMDSENT observed (Value = STA)
	TraceResponse TraceKind = 3 // response received (Index = echoed index, Value = STA)
	TraceTimeout  TraceKind = 4 // wait expired or CTIMEOUT (Value = STA)
	TraceCRCFail  TraceKind = 5 // CCRCFAIL latched (Value = STA)
	TraceData     TraceKind = 6 // data phase finished (Value = STA)
	TraceStep     TraceKind = 7 // bring-up step entered (Index = Step)
)

func (k TraceKind) String() string {
	switch k {
	case TraceCommand:
		return "CMD"
	case TraceSent:
		return "SENT"
	case TraceResponse:
		return "RESP"
	case TraceTimeout:
		return "TIMEOUT!"
	case TraceCRCFail:
		return "CRCFAIL!"
	case TraceData:
		return "DATA"
	case TraceStep:
		return "STEP"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent captures a command-path event for post-mortem analysis
type TraceEvent struct {
	Kind  TraceKind
	Index uint8  // Command index or step
	Value uint32 // Context-dependent value
}

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

// traceRing is a non-blocking ring of recent events. It is written from
// whichever context owns the command path at the time.
type traceRing struct {
	events [TraceRingSize]TraceEvent
	head   uint8
}

// record captures an event; a nil ring discards it
func (r *traceRing) record(kind TraceKind, index uint8, value uint32) {
	if r == nil {
		return
	}
	idx := r.head
	r.events[idx] = TraceEvent{Kind: kind, Index: index, Value: value}
	r.head = (idx + 1) % TraceRingSize
}

// snapshot returns captured events oldest first
func (r *traceRing) snapshot() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := r.events[(r.head+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

func (r *traceRing) clear() {
	for i := range r.events {
		r.events[i] = TraceEvent{}
	}
	r.head = 0
}

// SetDebugWriter sets the output for bring-up progress messages.
// nil disables output.
func (s *Session) SetDebugWriter(w DebugWriter) {
	s.debug = w
}

func (s *Session) debugf(msg string) {
	if s.debug != nil {
		s.debug("[SDMMC] " + msg)
	}
}

// Trace returns the recent command-path events, oldest first
func (s *Session) Trace() []TraceEvent {
	return s.trace.snapshot()
}

// DumpTrace writes the trace ring through the debug writer
func (s *Session) DumpTrace() {
	if s.debug == nil {
		return
	}
	s.debug("[TRACE] === Command Trace Dump ===")
	for _, evt := range s.trace.snapshot() {
		line := "[TRACE] " + evt.Kind.String()
		switch evt.Kind {
		case TraceCommand:
			line += " cmd=" + itoa(int(evt.Index)) + " arg=" + hex32(evt.Value)
		case TraceStep:
			line += " " + Step(evt.Index).String()
		case TraceResponse:
			line += " resp=" + itoa(int(evt.Index)) + " sta=" + hex32(evt.Value)
		default:
			line += " sta=" + hex32(evt.Value)
		}
		s.debug(line)
	}
	s.debug("[TRACE] === End Dump ===")
}
