package firmware

import (
	"errors"

	"ee24/core"
	"ee24/protocol"
)

// Bus status codes carried by i2c responses.
const (
	I2CStatusSuccess = 0
	I2CStatusNack    = 1
	I2CStatusError   = 2
)

// i2cDevice is one configured bus address, referenced by oid.
type i2cDevice struct {
	bus   core.I2CBusID
	addr  core.I2CAddress
	ready bool
}

func (f *Firmware) registerI2C() {
	r := f.registry
	r.Register("config_i2c", "oid=%c", f.handleConfigI2C)
	r.Register("i2c_set_bus", "oid=%c i2c_bus=%u rate=%u address=%u", f.handleI2CSetBus)
	r.Register("i2c_write", "oid=%c data=%*s", f.handleI2CWrite)
	r.Register("i2c_read", "oid=%c reg=%*s read_len=%u", f.handleI2CRead)
	r.RegisterResponse("i2c_write_response", "oid=%c i2c_bus_status=%c")
	r.RegisterResponse("i2c_read_response", "oid=%c i2c_bus_status=%c response=%*s")
}

// busStatus maps a driver error onto the wire status.
func busStatus(err error) uint32 {
	switch {
	case err == nil:
		return I2CStatusSuccess
	case errors.Is(err, core.ErrNack):
		return I2CStatusNack
	default:
		return I2CStatusError
	}
}

// handleConfigI2C allocates oid.
// Format: config_i2c oid=%c
func (f *Firmware) handleConfigI2C(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.devices[uint8(oid)] = &i2cDevice{}
	return nil
}

// handleI2CSetBus binds oid to a bus and address and configures the bus.
// Format: i2c_set_bus oid=%c i2c_bus=%u rate=%u address=%u
func (f *Firmware) handleI2CSetBus(data *[]byte) error {
	var args [4]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	oid, bus, rate, addr := uint8(args[0]), core.I2CBusID(args[1]), args[2], core.I2CAddress(args[3]&0x7F)

	dev, ok := f.devices[oid]
	if !ok {
		return errors.New("i2c_set_bus: unknown oid")
	}
	if err := f.i2c.ConfigureBus(bus, rate); err != nil {
		dev.ready = false
		return err
	}
	dev.bus, dev.addr, dev.ready = bus, addr, !f.shutdown
	core.Debugf("[fw] oid %d -> bus %d addr 0x%02x at %d Hz", oid, bus, addr, rate)
	return nil
}

// device returns oid when it is usable.
func (f *Firmware) device(oid uint8) (*i2cDevice, error) {
	dev, ok := f.devices[oid]
	switch {
	case !ok:
		return nil, errors.New("unknown oid")
	case !dev.ready:
		return nil, core.ErrBusNotConfigured
	}
	return dev, nil
}

// handleI2CWrite performs one write transaction and reports its status.
// Format: i2c_write oid=%c data=%*s
func (f *Firmware) handleI2CWrite(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev, err := f.device(uint8(oid))
	if err == nil {
		err = f.i2c.Write(dev.bus, dev.addr, payload)
	}
	if err != nil {
		core.Debugf("[fw] i2c_write oid %d: %v", oid, err)
	}

	status := busStatus(err)
	return f.respond("i2c_write_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, status)
	})
}

// handleI2CRead writes reg (if any), reads read_len bytes and returns them.
// Format: i2c_read oid=%c reg=%*s read_len=%u
func (f *Firmware) handleI2CRead(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	readLen, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	var result []byte
	dev, err := f.device(uint8(oid))
	if err == nil && readLen > MaxTransfer {
		err = errors.New("read_len exceeds transfer limit")
	}
	if err == nil {
		result, err = f.i2c.Read(dev.bus, dev.addr, reg, int(readLen))
	}
	if err != nil {
		core.Debugf("[fw] i2c_read oid %d: %v", oid, err)
		result = nil
	}

	status := busStatus(err)
	return f.respond("i2c_read_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, status)
		protocol.EncodeVLQBytes(output, result)
	})
}
