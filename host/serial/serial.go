// Package serial opens the host side of the bridge link
package serial

import (
	"io"
	"time"
)

// Port is a serial link to bridge firmware. Tests substitute an in-memory
// pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; ignored by USB CDC ports
	Baud int

	// ReadTimeout bounds each Read; 0 blocks
	ReadTimeout time.Duration
}

// DefaultBaud matches the UART rate of the bridge firmware
const DefaultBaud = 250000

// DefaultConfig returns the configuration used for the bridge firmware
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
