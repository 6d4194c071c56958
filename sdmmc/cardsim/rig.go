package cardsim

import (
	"sync"
	"time"

	"sdhost/sdmmc"
)

// Pins records pin configuration and serves the card-detect level
type Pins struct {
	mu       sync.Mutex
	altFunc  map[sdmmc.Pin]uint8
	pullUp   map[sdmmc.Pin]bool
	levels   map[sdmmc.Pin]bool
	failPin  sdmmc.Pin
	failWith error
}

// NewPins creates a pin driver with every input reading low
func NewPins() *Pins {
	return &Pins{
		altFunc: make(map[sdmmc.Pin]uint8),
		pullUp:  make(map[sdmmc.Pin]bool),
		levels:  make(map[sdmmc.Pin]bool),
	}
}

// ConfigureAltFunc implements sdmmc.PinDriver
func (p *Pins) ConfigureAltFunc(pin sdmmc.Pin, af uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil && pin == p.failPin {
		return p.failWith
	}
	p.altFunc[pin] = af
	return nil
}

// ConfigureInputPullUp implements sdmmc.PinDriver
func (p *Pins) ConfigureInputPullUp(pin sdmmc.Pin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pullUp[pin] = true
	return nil
}

// ReadPin implements sdmmc.PinDriver
func (p *Pins) ReadPin(pin sdmmc.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

// SetLevel drives an input pin
func (p *Pins) SetLevel(pin sdmmc.Pin, high bool) {
	p.mu.Lock()
	p.levels[pin] = high
	p.mu.Unlock()
}

// FailOn makes configuring pin return err
func (p *Pins) FailOn(pin sdmmc.Pin, err error) {
	p.mu.Lock()
	p.failPin, p.failWith = pin, err
	p.mu.Unlock()
}

// AltFunc returns the alternate function configured on pin
func (p *Pins) AltFunc(pin sdmmc.Pin) (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	af, ok := p.altFunc[pin]
	return af, ok
}

// PulledUp reports whether pin was configured as a pulled-up input
func (p *Pins) PulledUp(pin sdmmc.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pullUp[pin]
}

// Rig is a simulated board: controller, card and every collaborator a
// session needs.
type Rig struct {
	Controller *Controller
	Card       *Card
	Memory     *Memory
	Clock      *Clock
	Delay      *Delay
	Pins       *Pins
}

// NewRig wires card to a fresh controller. The clock advances 10µs per
// reading.
func NewRig(card *Card) *Rig {
	mem := NewMemory()
	return &Rig{
		Controller: New(card, mem),
		Card:       card,
		Memory:     mem,
		Clock:      NewClock(10 * time.Microsecond),
		Delay:      &Delay{},
		Pins:       NewPins(),
	}
}

// HAL returns the collaborators for sdmmc.New. The controller doubles as
// the interrupt controller.
func (r *Rig) HAL() sdmmc.HAL {
	return sdmmc.HAL{
		Pins:  r.Pins,
		Delay: r.Delay,
		IRQ:   r.Controller,
		DMA:   r.Memory,
		Clock: r.Clock,
	}
}
