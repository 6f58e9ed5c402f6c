package core

import "errors"

// I2CBusID identifies a specific I2C bus (e.g., I2C0, I2C1).
type I2CBusID uint8

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// MaxI2CAddress is the highest valid 7-bit device address.
const MaxI2CAddress I2CAddress = 0x7F

var (
	ErrInvalidAddress   = errors.New("I2C address out of 7-bit range")
	ErrBusNotConfigured = errors.New("I2C bus not configured")
	ErrUnsupportedBus   = errors.New("unsupported I2C bus ID")
	// ErrNack is wrapped by drivers when a device does not acknowledge.
	ErrNack = errors.New("I2C no acknowledge")
)

// Valid reports whether a fits in 7 bits.
func (a I2CAddress) Valid() bool {
	return a <= MaxI2CAddress
}

// I2CDriver is the abstract I2C interface that core code uses.
type I2CDriver interface {
	// ConfigureBus initializes a specific I2C bus with the given frequency.
	// Returns error if bus ID is invalid or configuration fails.
	ConfigureBus(bus I2CBusID, frequencyHz uint32) error

	// Write transmits data to a device at the given address on the specified bus.
	// This is a simple write operation (equivalent to i2c_dev_write in Klipper).
	Write(bus I2CBusID, addr I2CAddress, data []byte) error

	// Read reads data from a device, optionally writing a register address first.
	// If regData is non-empty, it's transmitted before the read (restart in between).
	// This matches Klipper's i2c_dev_read behavior.
	Read(bus I2CBusID, addr I2CAddress, regData []byte, readLen int) ([]byte, error)
}

// BusTransport binds an I2CDriver to one bus so that device drivers only
// deal with device addresses.
type BusTransport struct {
	Driver I2CDriver
	Bus    I2CBusID
}

// NewBusTransport configures bus at frequencyHz and returns a transport for it.
// A zero frequency leaves the bus configuration untouched.
func NewBusTransport(d I2CDriver, bus I2CBusID, frequencyHz uint32) (*BusTransport, error) {
	if frequencyHz != 0 {
		if err := d.ConfigureBus(bus, frequencyHz); err != nil {
			return nil, err
		}
	}
	return &BusTransport{Driver: d, Bus: bus}, nil
}

// Write issues a single write transaction to addr.
func (t *BusTransport) Write(addr I2CAddress, data []byte) error {
	if !addr.Valid() {
		return ErrInvalidAddress
	}
	return t.Driver.Write(t.Bus, addr, data)
}

// Read writes regData (if any), then reads readLen bytes from addr.
func (t *BusTransport) Read(addr I2CAddress, regData []byte, readLen int) ([]byte, error) {
	if !addr.Valid() {
		return nil, ErrInvalidAddress
	}
	return t.Driver.Read(t.Bus, addr, regData, readLen)
}
