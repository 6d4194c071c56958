//go:build !linux

package main

import (
	"errors"

	"sdhost/config"
)

func openDevMem(cfg *config.Config) (*target, error) {
	return nil, errors.New("devmem mode needs Linux")
}
