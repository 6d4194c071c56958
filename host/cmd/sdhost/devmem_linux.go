//go:build linux

package main

import (
	"io"

	"sdhost/config"
	"sdhost/regs"
	"sdhost/sdmmc"
)

// registerWindow covers SDMMC registers through the data FIFO
const registerWindow = 0x1000

// openDevMem maps the peripheral from userspace. There is no interrupt
// line or DMA address translation, so completion is polled and block
// transfers are refused.
func openDevMem(cfg *config.Config) (*target, error) {
	dm, err := regs.OpenDevMem(int64(cfg.RegisterBase), registerWindow)
	if err != nil {
		return nil, err
	}
	s, err := newSession(dm, sdmmc.HAL{Clock: sdmmc.NewSystemClock()}, cfg, true)
	if err != nil {
		dm.Close()
		return nil, err
	}
	return &target{card: s, session: s, bank: dm, closers: []io.Closer{dm}}, nil
}
