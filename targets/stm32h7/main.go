//go:build stm32h7

package main

import (
	"machine"

	"sdhost/config"
	"sdhost/firmware"
	"sdhost/regs"
	"sdhost/sdmmc"
)

func main() {
	if err := machine.Serial.Configure(machine.UARTConfig{BaudRate: 250000}); err != nil {
		return
	}

	cfg := config.Default()
	sc, err := cfg.Session()
	if err != nil {
		return
	}

	bank := regs.NewMMIO(uintptr(cfg.RegisterBase))
	session := sdmmc.New(bank, sdmmc.HAL{
		Pins:       gpioDriver{},
		Delay:      delayer{},
		IRQ:        sdmmcInterrupt{},
		Peripheral: sdmmcPeripheral{},
		DMA:        axiDMA{},
		Clock:      sdmmc.NewSystemClock(),
	}, sc)

	loop := firmware.New(machine.Serial, session, bank)
	reg := loop.Server().Registry()
	reg.AddConstant("MCU", "stm32h7")
	reg.AddConstant("BOARD", cfg.Board)
	loop.Run()
}
