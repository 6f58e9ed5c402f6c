package eeprom

import (
	"errors"
	"fmt"

	"ee24/core"
)

var (
	ErrAddressRange    = errors.New("eeprom: bus address outside 7-bit range")
	ErrOutOfRange      = errors.New("eeprom: span exceeds device size")
	ErrShortRead       = errors.New("eeprom: short read")
	ErrStringTooLong   = errors.New("eeprom: string longer than one page")
	ErrInvalidLength   = errors.New("eeprom: negative length")
	ErrInvalidPageSize = errors.New("eeprom: page size must be a power of two no larger than 64 KiB")
	ErrNoTransport     = errors.New("eeprom: transport is nil")
)

// ConfigurationError reports a logical address whose bank selector pushes
// the bus address past 0x7F, or an invalid base address.
type ConfigurationError struct {
	Base    core.I2CAddress
	Logical uint64
	Bus     uint32
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("eeprom: address 0x%x with base 0x%02x resolves to bus address 0x%x",
		e.Logical, e.Base, e.Bus)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrAddressRange
}

// ShortReadError is returned when the transport delivers fewer bytes than
// requested.
type ShortReadError struct {
	Addr   core.I2CAddress
	Offset uint16
	Want   int
	Got    int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("eeprom: short read at 0x%02x@0x%04x: want %d bytes, got %d",
		e.Addr, e.Offset, e.Want, e.Got)
}

func (e *ShortReadError) Unwrap() error {
	return ErrShortRead
}
