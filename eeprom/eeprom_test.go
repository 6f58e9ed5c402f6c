package eeprom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ee24/core"
	"ee24/eeprom"
	"ee24/sim"
)

// mockTransport is a testify mock of eeprom.Transport.
type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Write(addr core.I2CAddress, data []byte) error {
	args := m.Called(addr, data)
	return args.Error(0)
}

func (m *mockTransport) Read(addr core.I2CAddress, regData []byte, readLen int) ([]byte, error) {
	args := m.Called(addr, regData, readLen)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// limitedTransport advertises a transfer limit on top of the mock.
type limitedTransport struct {
	mockTransport
	limit int
}

func (l *limitedTransport) MaxTransfer() int {
	return l.limit
}

// newSimDevice returns a device on a simulated bus carrying chipName at 0x50.
func newSimDevice(t *testing.T, chipName string) (*eeprom.Device, *sim.Bus) {
	t.Helper()

	chip, err := eeprom.LookupChip(chipName)
	require.NoError(t, err)

	bus, err := sim.New(chip, 0x50)
	require.NoError(t, err)

	tr, err := core.NewBusTransport(bus, 0, 400000)
	require.NoError(t, err)

	cfg := chip.Config(0x50)
	cfg.WriteCycle = 0
	dev, err := eeprom.New(tr, cfg)
	require.NoError(t, err)

	return dev, bus
}

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + 3)
	}
	return buf
}

func TestNewValidatesConfig(t *testing.T) {
	tr := &mockTransport{}

	_, err := eeprom.New(nil, eeprom.DefaultConfig())
	assert.ErrorIs(t, err, eeprom.ErrNoTransport)

	for _, size := range []int{0, -8, 100, 1 << 17} {
		cfg := eeprom.DefaultConfig()
		cfg.PageSize = size
		_, err := eeprom.New(tr, cfg)
		assert.ErrorIs(t, err, eeprom.ErrInvalidPageSize, "page size %d", size)
	}

	cfg := eeprom.DefaultConfig()
	cfg.BaseAddress = 0x80
	_, err = eeprom.New(tr, cfg)
	assert.ErrorIs(t, err, eeprom.ErrAddressRange)

	cfg = eeprom.DefaultConfig()
	cfg.MaxTransfer = -1
	_, err = eeprom.New(tr, cfg)
	assert.ErrorIs(t, err, eeprom.ErrInvalidLength)

	dev, err := eeprom.New(tr, eeprom.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, core.I2CAddress(0x50), dev.BaseDeviceAddress())
	assert.Equal(t, 256, dev.Config().PageSize)
}

func TestResolveLowAddressesStayOnBase(t *testing.T) {
	dev, err := eeprom.New(&mockTransport{}, eeprom.DefaultConfig())
	require.NoError(t, err)

	for a := uint32(0); a < eeprom.BankSize; a++ {
		addr, offset, err := dev.Resolve(a)
		if err != nil || addr != 0x50 || uint32(offset) != a {
			t.Fatalf("Resolve(0x%x) = (0x%02x, 0x%04x, %v), want (0x50, 0x%04x, nil)", a, addr, offset, err, a)
		}
	}
}

func TestResolveBankSelection(t *testing.T) {
	cfg := eeprom.DefaultConfig()
	cfg.BaseAddress = 0x00
	dev, err := eeprom.New(&mockTransport{}, cfg)
	require.NoError(t, err)

	tests := []struct {
		logical uint32
		addr    core.I2CAddress
		offset  uint16
	}{
		{0x00010000, 0x01, 0x0000},
		{0x0003FFFF, 0x03, 0xFFFF},
		{0x00123456, 0x12, 0x3456},
		{0x007F0000, 0x7F, 0x0000},
		{0x007FFFFF, 0x7F, 0xFFFF},
	}
	for _, tt := range tests {
		addr, offset, err := dev.Resolve(tt.logical)
		require.NoError(t, err, "logical 0x%x", tt.logical)
		assert.Equal(t, tt.addr, addr, "logical 0x%x", tt.logical)
		assert.Equal(t, tt.offset, offset, "logical 0x%x", tt.logical)
	}
}

func TestResolveHighAddressesDoNotSignFlip(t *testing.T) {
	dev, err := eeprom.New(&mockTransport{}, eeprom.DefaultConfig())
	require.NoError(t, err)

	for _, logical := range []uint32{0x80000000, 0xFFFF0000, 0xFFFFFFFF} {
		_, _, err := dev.Resolve(logical)
		require.ErrorIs(t, err, eeprom.ErrAddressRange)

		var cfgErr *eeprom.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, uint32(0x50)+logical>>16, cfgErr.Bus, "bank selector for 0x%x", logical)
	}
}

func TestResolveRejectsBankPastLastAddress(t *testing.T) {
	cfg := eeprom.DefaultConfig()
	cfg.BaseAddress = 0x7E
	dev, err := eeprom.New(&mockTransport{}, cfg)
	require.NoError(t, err)

	addr, _, err := dev.Resolve(0x1FFFF)
	require.NoError(t, err)
	assert.Equal(t, core.I2CAddress(0x7F), addr)

	_, _, err = dev.Resolve(0x20000)
	assert.ErrorIs(t, err, eeprom.ErrAddressRange)
}

func TestSetBaseDeviceAddress(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Write", core.I2CAddress(0x54), []byte{0x00, 0x10, 0xAB}).Return(nil).Once()

	dev, err := eeprom.New(tr, eeprom.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, dev.SetBaseDeviceAddress(0x54))
	require.NoError(t, dev.WriteByte(0x10, 0xAB))

	assert.ErrorIs(t, dev.SetBaseDeviceAddress(0x80), eeprom.ErrAddressRange)
	assert.Equal(t, core.I2CAddress(0x54), dev.BaseDeviceAddress())
	tr.AssertExpectations(t)
}

func TestLookupChip(t *testing.T) {
	chip, err := eeprom.LookupChip("at24cm01")
	require.NoError(t, err)
	assert.Equal(t, "24CM01", chip.Name)
	assert.Equal(t, uint32(128<<10), chip.Size)
	assert.Equal(t, 2, chip.Banks())

	chip, err = eeprom.LookupChip(" S-24CM02 ")
	require.NoError(t, err)
	assert.Equal(t, 4, chip.Banks())

	cfg := chip.Config(0x52)
	assert.Equal(t, core.I2CAddress(0x52), cfg.BaseAddress)
	assert.Equal(t, 256, cfg.PageSize)

	_, err = eeprom.LookupChip("24C02")
	assert.ErrorContains(t, err, "unknown chip")

	assert.Equal(t, []string{"24C32", "24C64", "24C128", "24C256", "24C512", "24CM01", "24CM02"}, eeprom.ChipNames())
}
