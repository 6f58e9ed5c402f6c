//go:build rp2040 || rp2350

package main

import (
	"machine"

	"ee24/core"
)

// newI2CDriver registers I2C0 and I2C1 with a TxDriver. Default pins are
// SDA=GP4/SCL=GP5 for I2C0 and SDA=GP6/SCL=GP7 for I2C1.
func newI2CDriver() *core.TxDriver {
	configured := make(map[core.I2CBusID]bool)

	d := core.NewTxDriver(func(bus core.I2CBusID, frequencyHz uint32) error {
		i2c := machineBus(bus)
		if i2c == nil {
			return core.ErrUnsupportedBus
		}
		if configured[bus] {
			return i2c.SetBaudRate(frequencyHz)
		}
		if err := i2c.Configure(machine.I2CConfig{Frequency: frequencyHz}); err != nil {
			return err
		}
		configured[bus] = true
		return nil
	})
	d.AddBus(0, machine.I2C0)
	d.AddBus(1, machine.I2C1)
	return d
}

func machineBus(bus core.I2CBusID) *machine.I2C {
	switch bus {
	case 0:
		return machine.I2C0
	case 1:
		return machine.I2C1
	}
	return nil
}
