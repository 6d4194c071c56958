package sdmmc

import "time"

// Pin identifies a hardware GPIO pin number
type Pin uint32

// BusPins lists the SDMMC bus lines and the alternate function that routes
// them to the peripheral.
type BusPins struct {
	CLK, CMD       Pin
	D0, D1, D2, D3 Pin
	AltFunc        uint8

	// CardDetect is an active-low, pulled-up switch; used only when
	// HasCardDetect is set
	CardDetect    Pin
	HasCardDetect bool
}

// all returns the bus lines in the order they are configured
func (p BusPins) all() [6]Pin {
	return [6]Pin{p.D0, p.D1, p.D2, p.D3, p.CLK, p.CMD}
}

// PinDriver is the pin configuration service the session consumes.
// Platform-specific implementations handle actual hardware control.
type PinDriver interface {
	// ConfigureAltFunc configures a pin as push-pull, very-high-speed,
	// alternate function af
	ConfigureAltFunc(pin Pin, af uint8) error

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin Pin) error

	// ReadPin reads the current pin state
	ReadPin(pin Pin) bool
}

// Delayer is a blocking, approximate microsecond delay
type Delayer interface {
	DelayMicros(us uint32)
}

// InterruptController routes the SDMMC interrupt line to a handler.
type InterruptController interface {
	// Enable registers handler for the SDMMC vector at the given priority
	// and unmasks the line. No other source shares the vector.
	Enable(priority uint8, handler func()) error
}

// Peripheral enables and resets the SDMMC block in the clock controller
type Peripheral interface {
	EnableClock()
	Reset()
}

// DMA translates a transfer buffer into the address programmed into the
// internal DMA base register.
type DMA interface {
	Address(buf []byte) uint32
}

// Clock is a monotonic time source. Deadlines are computed against it so
// that timeouts do not depend on the processor frequency.
type Clock interface {
	Now() time.Duration
}

// HAL bundles the external collaborators a Session uses. Any of Pins,
// Delay, IRQ, Peripheral and DMA may be nil when the environment has no
// such service (simulation, remote register access); Clock is required.
type HAL struct {
	Pins       PinDriver
	Delay      Delayer
	IRQ        InterruptController
	Peripheral Peripheral
	DMA        DMA
	Clock      Clock
}

// SystemClock is a Clock backed by the runtime monotonic clock
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock whose epoch is now
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns time elapsed since the clock was created
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}
