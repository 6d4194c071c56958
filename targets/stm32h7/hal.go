//go:build stm32h7

package main

import (
	"device/stm32"
	"errors"
	"runtime/interrupt"
	"time"
	"unsafe"

	"sdhost/sdmmc"
)

var errBadPin = errors.New("pin outside GPIOA-GPIOK")

// GPIO ports in pin-number order: pin = port*16 + line
var gpioPorts = []*stm32.GPIO_Type{
	stm32.GPIOA, stm32.GPIOB, stm32.GPIOC, stm32.GPIOD, stm32.GPIOE, stm32.GPIOF,
	stm32.GPIOG, stm32.GPIOH, stm32.GPIOI, stm32.GPIOJ, stm32.GPIOK,
}

const (
	gpioModeInput     = 0
	gpioModeAlternate = 2
	gpioSpeedVeryHigh = 3
	gpioPullUp        = 1
)

// gpioDriver configures pins through the GPIO registers directly; the
// machine package has no SDMMC pin mode
type gpioDriver struct{}

func (gpioDriver) port(pin sdmmc.Pin) (*stm32.GPIO_Type, uint32, error) {
	idx := int(pin / 16)
	if idx >= len(gpioPorts) {
		return nil, 0, errBadPin
	}
	return gpioPorts[idx], uint32(pin % 16), nil
}

func (g gpioDriver) ConfigureAltFunc(pin sdmmc.Pin, af uint8) error {
	port, line, err := g.port(pin)
	if err != nil {
		return err
	}
	enablePortClock(pin / 16)

	port.MODER.ReplaceBits(gpioModeAlternate, 0x3, uint8(line*2))
	port.OTYPER.ClearBits(1 << line)
	port.OSPEEDR.ReplaceBits(gpioSpeedVeryHigh, 0x3, uint8(line*2))
	port.PUPDR.ReplaceBits(0, 0x3, uint8(line*2))
	if line < 8 {
		port.AFRL.ReplaceBits(uint32(af), 0xF, uint8(line*4))
	} else {
		port.AFRH.ReplaceBits(uint32(af), 0xF, uint8((line-8)*4))
	}
	return nil
}

func (g gpioDriver) ConfigureInputPullUp(pin sdmmc.Pin) error {
	port, line, err := g.port(pin)
	if err != nil {
		return err
	}
	enablePortClock(pin / 16)

	port.MODER.ReplaceBits(gpioModeInput, 0x3, uint8(line*2))
	port.PUPDR.ReplaceBits(gpioPullUp, 0x3, uint8(line*2))
	return nil
}

func (g gpioDriver) ReadPin(pin sdmmc.Pin) bool {
	port, line, err := g.port(pin)
	if err != nil {
		return false
	}
	return port.IDR.HasBits(1 << line)
}

func enablePortClock(port sdmmc.Pin) {
	stm32.RCC.AHB4ENR.SetBits(1 << uint32(port))
}

type delayer struct{}

func (delayer) DelayMicros(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

type sdmmcPeripheral struct{}

func (sdmmcPeripheral) EnableClock() {
	stm32.RCC.AHB3ENR.SetBits(stm32.RCC_AHB3ENR_SDMMC1EN)
}

func (sdmmcPeripheral) Reset() {
	stm32.RCC.AHB3RSTR.SetBits(stm32.RCC_AHB3RSTR_SDMMC1RST)
	stm32.RCC.AHB3RSTR.ClearBits(stm32.RCC_AHB3RSTR_SDMMC1RST)
}

// axiDMA hands buffer addresses straight to the IDMA. SDMMC1 can only
// reach AXI SRAM and the flash, so buffers must not live in DTCM.
type axiDMA struct{}

func (axiDMA) Address(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

// sdmmcHandler is set once the session binds the line
var sdmmcHandler func()

var sdmmcIRQ = interrupt.New(stm32.IRQ_SDMMC1, func(interrupt.Interrupt) {
	if h := sdmmcHandler; h != nil {
		h()
	}
})

type sdmmcInterrupt struct{}

func (sdmmcInterrupt) Enable(priority uint8, handler func()) error {
	sdmmcHandler = handler
	// NVIC implements the top four priority bits
	sdmmcIRQ.SetPriority(priority << 4)
	sdmmcIRQ.Enable()
	return nil
}
