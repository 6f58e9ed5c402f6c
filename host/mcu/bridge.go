package mcu

import (
	"errors"
	"fmt"
	"strconv"

	"ee24/core"
	"ee24/eeprom"
	"ee24/protocol"
)

// Bus status codes reported by the bridge firmware.
const (
	busStatusSuccess = 0
	busStatusNack    = 1
)

// defaultMaxTransfer is used when the firmware does not publish
// I2C_MAX_TRANSFER: one block minus generous VLQ prefixes.
const defaultMaxTransfer = protocol.MessagePayloadMax - 8

var (
	ErrBusNack       = fmt.Errorf("mcu: i2c device did not acknowledge: %w", core.ErrNack)
	ErrBusFault      = errors.New("mcu: i2c bus error")
	ErrTransferLimit = errors.New("mcu: transfer exceeds bridge limit")
)

// I2CBridge reaches devices on one of the MCU's I2C buses. It implements
// eeprom.Transport. Each device address gets its own oid, configured on
// first use.
type I2CBridge struct {
	mcu         *MCU
	bus         core.I2CBusID
	rate        uint32
	oids        map[core.I2CAddress]uint8
	maxTransfer int
}

// NewI2CBridge returns a bridge for bus at rate. The dictionary must be
// loaded.
func NewI2CBridge(m *MCU, bus core.I2CBusID, rate uint32) (*I2CBridge, error) {
	if m.Dictionary() == nil {
		return nil, ErrNoDictionary
	}

	limit := defaultMaxTransfer
	if v, ok := m.Constant("I2C_MAX_TRANSFER"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= eeprom.HeaderSize {
			return nil, fmt.Errorf("mcu: bad I2C_MAX_TRANSFER %q", v)
		}
		limit = n
	}

	return &I2CBridge{
		mcu:         m,
		bus:         bus,
		rate:        rate,
		oids:        make(map[core.I2CAddress]uint8),
		maxTransfer: limit,
	}, nil
}

// MaxTransfer is the largest EEPROM payload per transaction: the bridge
// limit less the offset header.
func (b *I2CBridge) MaxTransfer() int {
	return b.maxTransfer - eeprom.HeaderSize
}

// oid returns the object ID for addr, configuring it on first use.
func (b *I2CBridge) oid(addr core.I2CAddress) (uint8, error) {
	if !addr.Valid() {
		return 0, core.ErrInvalidAddress
	}
	if oid, ok := b.oids[addr]; ok {
		return oid, nil
	}

	oid := uint8(len(b.oids))
	if err := b.mcu.SendCommand("config_i2c", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
	}); err != nil {
		return 0, err
	}
	if err := b.mcu.SendCommand("i2c_set_bus", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(b.bus))
		protocol.EncodeVLQUint(output, b.rate)
		protocol.EncodeVLQUint(output, uint32(addr))
	}); err != nil {
		return 0, err
	}

	core.Debugf("[bridge] oid %d -> bus %d addr 0x%02x", oid, b.bus, addr)
	b.oids[addr] = oid
	return oid, nil
}

// Write sends data to addr in one i2c_write.
func (b *I2CBridge) Write(addr core.I2CAddress, data []byte) error {
	if len(data) > b.maxTransfer {
		return ErrTransferLimit
	}
	oid, err := b.oid(addr)
	if err != nil {
		return err
	}

	resp, err := b.mcu.Query("i2c_write", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQBytes(output, data)
	}, "i2c_write_response")
	if err != nil {
		return err
	}
	_, err = decodeStatus(oid, &resp)
	return err
}

// Read writes regData to addr, then reads readLen bytes.
func (b *I2CBridge) Read(addr core.I2CAddress, regData []byte, readLen int) ([]byte, error) {
	if readLen > b.maxTransfer || len(regData) > b.maxTransfer {
		return nil, ErrTransferLimit
	}
	oid, err := b.oid(addr)
	if err != nil {
		return nil, err
	}

	resp, err := b.mcu.Query("i2c_read", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQBytes(output, regData)
		protocol.EncodeVLQUint(output, uint32(readLen))
	}, "i2c_read_response")
	if err != nil {
		return nil, err
	}
	if _, err := decodeStatus(oid, &resp); err != nil {
		return nil, err
	}

	data, err := protocol.DecodeVLQBytes(&resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// decodeStatus consumes the oid and bus status fields of an i2c response.
func decodeStatus(oid uint8, resp *[]byte) (uint32, error) {
	got, err := protocol.DecodeVLQUint(resp)
	if err != nil {
		return 0, err
	}
	if uint8(got) != oid {
		return 0, fmt.Errorf("mcu: response for oid %d, expected %d", got, oid)
	}
	status, err := protocol.DecodeVLQUint(resp)
	if err != nil {
		return 0, err
	}

	switch status {
	case busStatusSuccess:
		return status, nil
	case busStatusNack:
		return status, ErrBusNack
	default:
		return status, fmt.Errorf("%w (status %d)", ErrBusFault, status)
	}
}
