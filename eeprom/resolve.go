package eeprom

import "ee24/core"

// Resolve maps a logical address to the bus address of its bank and the
// in-chip offset. The bank selector is the address shifted right by 16;
// logical addresses are unsigned so the shift never sign-extends.
func (d *Device) Resolve(logical uint32) (core.I2CAddress, uint16, error) {
	return resolve(d.cfg.BaseAddress, uint64(logical))
}

func resolve(base core.I2CAddress, pos uint64) (core.I2CAddress, uint16, error) {
	bank := pos >> OffsetBits
	bus := uint64(base) + bank
	if bus > uint64(core.MaxI2CAddress) {
		return 0, 0, &ConfigurationError{Base: base, Logical: pos, Bus: uint32(bus)}
	}
	return core.I2CAddress(bus), uint16(pos), nil
}

// checkSpan validates [pos, pos+n) against the logical address space and,
// when configured, the device capacity.
func (d *Device) checkSpan(pos uint64, n int) error {
	if n < 0 {
		return ErrInvalidLength
	}
	end := pos + uint64(n)
	if end > 1<<32 {
		return &ConfigurationError{Base: d.cfg.BaseAddress, Logical: end - 1, Bus: uint32(uint64(d.cfg.BaseAddress) + (end-1)>>OffsetBits)}
	}
	if d.cfg.Size != 0 && end > uint64(d.cfg.Size) {
		return ErrOutOfRange
	}
	return nil
}

func header(offset uint16) []byte {
	return []byte{byte(offset >> 8), byte(offset)}
}
