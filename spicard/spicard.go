// Package spicard exposes an SPI-mode SD card as a bridge card on boards
// without an SDMMC peripheral.
package spicard

import (
	"sdhost/sdmmc"
)

// Device is the SPI-mode driver. tinygo.org/x/drivers/sdcard satisfies it.
type Device interface {
	Configure() error
	ReadAt(buf []byte, addr int64) (int, error)
	WriteAt(buf []byte, addr int64) (int, error)
}

// Card adapts a Device. SPI mode has no relative card address and runs
// bring-up as a single driver call, so Step only reports Idle or Ready.
type Card struct {
	dev  Device
	step sdmmc.Step
}

// New wraps dev
func New(dev Device) *Card {
	return &Card{dev: dev}
}

// Init runs the driver's bring-up
func (c *Card) Init() error {
	c.step = sdmmc.StepIdle
	if err := c.dev.Configure(); err != nil {
		return &sdmmc.StepError{Step: sdmmc.StepIdle, Err: err}
	}
	c.step = sdmmc.StepReady
	return nil
}

// Step returns StepReady after a successful Init
func (c *Card) Step() sdmmc.Step {
	return c.step
}

// RCA is always zero in SPI mode
func (c *Card) RCA() uint32 {
	return 0
}

func (c *Card) check(buf []byte) error {
	if c.step != sdmmc.StepReady {
		return sdmmc.ErrNotReady
	}
	if len(buf) == 0 || len(buf)%sdmmc.BlockSize != 0 {
		return sdmmc.ErrBadBuffer
	}
	return nil
}

// ReadBlocks reads len(buf)/512 blocks starting at lba
func (c *Card) ReadBlocks(lba uint32, buf []byte) error {
	if err := c.check(buf); err != nil {
		return err
	}
	n, err := c.dev.ReadAt(buf, int64(lba)*sdmmc.BlockSize)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return sdmmc.ErrTransfer
	}
	return nil
}

// WriteBlocks writes len(buf)/512 blocks starting at lba
func (c *Card) WriteBlocks(lba uint32, buf []byte) error {
	if err := c.check(buf); err != nil {
		return err
	}
	n, err := c.dev.WriteAt(buf, int64(lba)*sdmmc.BlockSize)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return sdmmc.ErrTransfer
	}
	return nil
}
