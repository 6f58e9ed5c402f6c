package core

import (
	"sync"

	"tinygo.org/x/drivers"
)

// TxDriver implements I2CDriver on top of TinyGo's drivers.I2C, which
// machine.I2C satisfies on every TinyGo target.
type TxDriver struct {
	mu sync.Mutex

	// Bus handles registered by the target
	buses map[I2CBusID]drivers.I2C

	// Configure hook supplied by the target (e.g. machine.I2C.Configure)
	configure func(bus I2CBusID, frequencyHz uint32) error

	// Track configuration state per bus
	configured map[I2CBusID]bool
}

// NewTxDriver constructs the driver. configure may be nil when the buses
// are already set up by board code.
func NewTxDriver(configure func(bus I2CBusID, frequencyHz uint32) error) *TxDriver {
	return &TxDriver{
		buses:      make(map[I2CBusID]drivers.I2C),
		configure:  configure,
		configured: make(map[I2CBusID]bool),
	}
}

// AddBus registers the handle used for bus.
func (d *TxDriver) AddBus(bus I2CBusID, i2c drivers.I2C) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buses[bus] = i2c
}

// ConfigureBus initializes a specific I2C bus with the given frequency.
func (d *TxDriver) ConfigureBus(bus I2CBusID, frequencyHz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.buses[bus]; !exists {
		return ErrUnsupportedBus
	}

	if d.configure != nil {
		if err := d.configure(bus, frequencyHz); err != nil {
			return err
		}
	}

	d.configured[bus] = true
	Debugf("[i2c] bus %d configured at %d Hz", bus, frequencyHz)
	return nil
}

// Write transmits data to a device at the given address on the specified bus.
func (d *TxDriver) Write(bus I2CBusID, addr I2CAddress, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, err := d.bus(bus)
	if err != nil {
		return err
	}

	// For write-only, we pass nil for the read buffer
	return i2c.Tx(uint16(addr), data, nil)
}

// Read reads data from a device, optionally writing a register address first.
// If regData is non-empty, it's transmitted before the read (restart in between).
func (d *TxDriver) Read(bus I2CBusID, addr I2CAddress, regData []byte, readLen int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, err := d.bus(bus)
	if err != nil {
		return nil, err
	}

	readBuf := make([]byte, readLen)

	if len(regData) == 0 {
		regData = nil
	}
	if err := i2c.Tx(uint16(addr), regData, readBuf); err != nil {
		return nil, err
	}

	return readBuf, nil
}

// bus must be called with the lock held.
func (d *TxDriver) bus(bus I2CBusID) (drivers.I2C, error) {
	i2c, exists := d.buses[bus]
	if !exists || !d.configured[bus] {
		return nil, ErrBusNotConfigured
	}
	return i2c, nil
}
