// Package serial opens the UART or USB CDC link to a bridge MCU.
package serial

import (
	"io"
	"time"
)

// Port is an open serial link. Tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read.
	Flush() error
}

// Config holds serial port settings.
type Config struct {
	// Device path, e.g. "/dev/ttyACM0" or "COM3".
	Device string
	// Baud rate; USB CDC links ignore it.
	Baud int
	// ReadTimeout bounds a single Read; zero blocks.
	ReadTimeout time.Duration
}

// DefaultBaud matches the bridge firmware's UART setting.
const DefaultBaud = 250000

// DefaultConfig returns settings for device at the default baud rate.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
