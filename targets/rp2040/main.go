//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/sdcard"

	"sdhost/firmware"
	"sdhost/spicard"
)

func main() {
	// clear any watchdog left running by the previous image
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	// machine.Serial is USB CDC on the RP2040
	if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
		return
	}

	bus := sdBuses[defaultSDBus]
	dev, err := bus.open()
	if err != nil {
		return
	}

	loop := firmware.New(machine.Serial, spicard.New(dev), nil)
	reg := loop.Server().Registry()
	reg.AddConstant("MCU", "rp2040")
	reg.AddConstant("SD_BUS", bus.name)
	loop.Run()
}

// sdBus is an SPI controller and the pins an SD socket is wired to
type sdBus struct {
	spi  *machine.SPI
	sck  machine.Pin
	sdo  machine.Pin // MOSI
	sdi  machine.Pin // MISO
	cs   machine.Pin
	name string
}

// Identification runs at 400 kHz or less; the driver raises the rate once
// the card is up
const sdInitFrequency = 400000

const defaultSDBus = 0

var sdBuses = []sdBus{
	{spi: machine.SPI0, sck: machine.GPIO18, sdo: machine.GPIO19, sdi: machine.GPIO16, cs: machine.GPIO17, name: "spi0c"},
	{spi: machine.SPI1, sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO12, cs: machine.GPIO13, name: "spi1d"},
}

func (b sdBus) open() (*sdcard.Device, error) {
	err := b.spi.Configure(machine.SPIConfig{
		Frequency: sdInitFrequency,
		SCK:       b.sck,
		SDO:       b.sdo,
		SDI:       b.sdi,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	dev := sdcard.New(b.spi, b.sck, b.sdo, b.sdi, b.cs)
	return &dev, nil
}
