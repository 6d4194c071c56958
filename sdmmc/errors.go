package sdmmc

// ErrorKind is the closed set of failures the engine reports.
// Every value implements error, so kinds compare directly with errors.Is.
type ErrorKind uint8

const (
	ErrTimeout             ErrorKind = iota + 1 // bounded poll exhausted
	ErrCRCFailure                               // hardware-reported CRC mismatch
	ErrUnexpectedResponse                       // echoed index does not match the issued command
	ErrCapacityUnsupported                      // card reports high-capacity addressing
	ErrBusWidthUnsupported                      // card lacks 4-bit capability
	ErrCardUnsupported                          // non-version-2 interface detected
	ErrTransfer                                 // data-phase error latched by the completion handler
	ErrNotReady                                 // block command before the card reached Transfer state
	ErrBusy                                     // a transfer is already in flight
	ErrNoCard                                   // card-detect reports an empty slot
	ErrBadBuffer                                // buffer length is not a whole number of blocks
)

func (e ErrorKind) Error() string {
	return "sdmmc: " + e.String()
}

func (e ErrorKind) String() string {
	switch e {
	case ErrTimeout:
		return "timeout"
	case ErrCRCFailure:
		return "crc failure"
	case ErrUnexpectedResponse:
		return "unexpected response"
	case ErrCapacityUnsupported:
		return "high capacity card unsupported"
	case ErrBusWidthUnsupported:
		return "4-bit bus unsupported"
	case ErrCardUnsupported:
		return "card unsupported"
	case ErrTransfer:
		return "transfer error"
	case ErrNotReady:
		return "card not ready"
	case ErrBusy:
		return "transfer in flight"
	case ErrNoCard:
		return "no card"
	case ErrBadBuffer:
		return "bad buffer"
	default:
		return "unknown(" + itoa(int(e)) + ")"
	}
}

// StepError reports which bring-up step failed
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return "sdmmc: " + e.Step.String() + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// TransferFailure carries the status register snapshot taken when a data
// phase failed. It unwraps to ErrTransfer.
type TransferFailure struct {
	Status uint32
}

func (e *TransferFailure) Error() string {
	return "sdmmc: transfer error (STA=" + hex32(e.Status) + ")"
}

func (e *TransferFailure) Unwrap() error {
	return ErrTransfer
}
