// Package eeprom drives 24Cxx/24CMxx serial EEPROMs over a two-wire bus.
//
// A Device maps a flat logical address space onto the chip protocol. The low
// 16 bits of a logical address are the in-chip offset, sent big-endian ahead
// of every transaction; the bits above select a device address relative to
// the configured base (24CM01/24CM02 parts answer on consecutive addresses,
// one per 64 KiB bank). Multi-byte writes are split so that no transaction
// carries payload across a physical page boundary.
//
// A Device is not safe for concurrent use. Callers that share one between
// goroutines, or change the base address while a write is in flight, must
// serialize access themselves.
package eeprom

import (
	"time"

	"ee24/core"
)

const (
	// OffsetBits is the width of the native in-chip offset.
	OffsetBits = 16
	// BankSize is the number of bytes addressed by one device address.
	BankSize = 1 << OffsetBits
	// HeaderSize is the length of the big-endian offset header.
	HeaderSize = 2

	DefaultBaseAddress core.I2CAddress = 0x50
	DefaultPageSize                    = 256
)

// Transport is the bus primitive the driver consumes. Both calls block until
// the transaction completes; there is never more than one outstanding.
type Transport interface {
	// Write sends data to the device at addr in one transaction.
	Write(addr core.I2CAddress, data []byte) error

	// Read writes regData to addr to position the read cursor, then reads
	// readLen bytes from addr.
	Read(addr core.I2CAddress, regData []byte, readLen int) ([]byte, error)
}

// TransferLimiter is implemented by transports that cannot move a full page
// in one transaction (bridges with small frames). MaxTransfer is the largest
// payload, excluding the offset header, the transport accepts.
type TransferLimiter interface {
	MaxTransfer() int
}

// Config holds the per-device settings.
type Config struct {
	// BaseAddress is the 7-bit bus address of bank 0.
	BaseAddress core.I2CAddress
	// PageSize is the chip's write page in bytes (power of two).
	PageSize int
	// Size is the capacity in bytes. Zero disables capacity checks.
	Size uint32
	// MaxTransfer caps the payload of a single transaction. Zero means the
	// page size (or the transport's own limit) applies.
	MaxTransfer int
	// WriteCycle is slept after every write transaction so the chip can
	// finish its internal program cycle.
	WriteCycle time.Duration
}

// DefaultConfig returns the settings of a 24CM02 at 0x50 with no capacity
// check and no write-cycle delay.
func DefaultConfig() Config {
	return Config{
		BaseAddress: DefaultBaseAddress,
		PageSize:    DefaultPageSize,
	}
}

func (c Config) validate() error {
	if !c.BaseAddress.Valid() {
		return &ConfigurationError{Base: c.BaseAddress, Bus: uint32(c.BaseAddress)}
	}
	if c.PageSize <= 0 || c.PageSize > BankSize || c.PageSize&(c.PageSize-1) != 0 {
		return ErrInvalidPageSize
	}
	if c.MaxTransfer < 0 {
		return ErrInvalidLength
	}
	return nil
}

// Device is one EEPROM (or a run of banks at consecutive addresses).
type Device struct {
	bus Transport
	cfg Config
}

// New binds a device to a transport.
func New(bus Transport, cfg Config) (*Device, error) {
	if bus == nil {
		return nil, ErrNoTransport
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Device{bus: bus, cfg: cfg}, nil
}

// Config returns a copy of the current settings.
func (d *Device) Config() Config {
	return d.cfg
}

// BaseDeviceAddress returns the bus address of bank 0.
func (d *Device) BaseDeviceAddress() core.I2CAddress {
	return d.cfg.BaseAddress
}

// SetBaseDeviceAddress retargets the device.
func (d *Device) SetBaseDeviceAddress(addr core.I2CAddress) error {
	if !addr.Valid() {
		return &ConfigurationError{Base: addr, Bus: uint32(addr)}
	}
	d.cfg.BaseAddress = addr
	core.Debugf("[eeprom] base address set to 0x%02x", addr)
	return nil
}

// TransferLimit returns the largest payload a single transaction carries:
// the page size, or a smaller configured or transport limit.
func (d *Device) TransferLimit() int {
	if limit := d.maxTransfer(); limit > 0 && limit < d.cfg.PageSize {
		return limit
	}
	return d.cfg.PageSize
}

// maxTransfer returns the effective payload limit, or 0 for none.
func (d *Device) maxTransfer() int {
	limit := d.cfg.MaxTransfer
	if l, ok := d.bus.(TransferLimiter); ok {
		if n := l.MaxTransfer(); n > 0 && (limit == 0 || n < limit) {
			limit = n
		}
	}
	return limit
}
