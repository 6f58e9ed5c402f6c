package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeI2C records Tx calls the way machine.I2C would see them.
type fakeI2C struct {
	addr  uint16
	w     []byte
	reply []byte
	err   error
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.addr = addr
	f.w = append([]byte(nil), w...)
	copy(r, f.reply)
	return f.err
}

func (f *fakeI2C) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return f.Tx(uint16(addr), []byte{r}, buf)
}

func (f *fakeI2C) WriteRegister(addr uint8, r uint8, buf []byte) error {
	return f.Tx(uint16(addr), append([]byte{r}, buf...), nil)
}

func TestTxDriverRequiresConfiguredBus(t *testing.T) {
	d := NewTxDriver(nil)

	err := d.Write(0, 0x50, []byte{1})
	assert.ErrorIs(t, err, ErrBusNotConfigured)

	assert.ErrorIs(t, d.ConfigureBus(3, 100000), ErrUnsupportedBus)
}

func TestTxDriverWriteAndRead(t *testing.T) {
	bus := &fakeI2C{reply: []byte{0xAA, 0xBB}}

	var configuredHz uint32
	d := NewTxDriver(func(id I2CBusID, hz uint32) error {
		configuredHz = hz
		return nil
	})
	d.AddBus(1, bus)
	require.NoError(t, d.ConfigureBus(1, 400000))
	assert.Equal(t, uint32(400000), configuredHz)

	require.NoError(t, d.Write(1, 0x50, []byte{0x00, 0x10, 0x42}))
	assert.Equal(t, uint16(0x50), bus.addr)
	assert.Equal(t, []byte{0x00, 0x10, 0x42}, bus.w)

	got, err := d.Read(1, 0x51, []byte{0x12, 0x34}, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)
	assert.Equal(t, uint16(0x51), bus.addr)
	assert.Equal(t, []byte{0x12, 0x34}, bus.w)
}

func TestTxDriverPropagatesBusError(t *testing.T) {
	nack := errors.New("I2C NACK")
	bus := &fakeI2C{err: nack}

	d := NewTxDriver(nil)
	d.AddBus(0, bus)
	require.NoError(t, d.ConfigureBus(0, 100000))

	_, err := d.Read(0, 0x50, nil, 4)
	assert.ErrorIs(t, err, nack)
}

func TestBusTransportRejectsWideAddress(t *testing.T) {
	d := NewTxDriver(nil)
	d.AddBus(0, &fakeI2C{})

	tr, err := NewBusTransport(d, 0, 100000)
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Write(0x80, []byte{0, 0}), ErrInvalidAddress)
	_, err = tr.Read(0xFF, []byte{0, 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.NoError(t, tr.Write(0x7F, []byte{0, 0}))
}

func TestTraceRing(t *testing.T) {
	ClearTrace()
	defer ClearTrace()

	for i := 0; i < TraceRingSize+3; i++ {
		RecordTrace(EvtWrite, 0x50, uint16(i), 1, false)
	}
	RecordTrace(EvtRead, 0x51, 0xFFFF, 8, true)

	events := TraceEvents()
	require.Len(t, events, TraceRingSize)

	// Oldest surviving event is the fifth write
	assert.Equal(t, uint16(4), events[0].Offset)
	last := events[len(events)-1]
	assert.Equal(t, uint8(EvtRead), last.Kind)
	assert.True(t, last.Failed)

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(nil)
	DumpTrace()
	assert.Len(t, lines, TraceRingSize+2)
	assert.Contains(t, lines[len(lines)-2], "READ addr=0x51 offset=0xffff len=8 FAILED")
}

func TestDebugf(t *testing.T) {
	var got []string
	SetDebugWriter(func(s string) { got = append(got, s) })
	defer SetDebugWriter(nil)

	Debugf("dropped %d", 1)
	assert.Empty(t, got)

	SetDebugEnabled(true)
	defer SetDebugEnabled(false)
	Debugf("kept %d", 2)
	assert.Equal(t, []string{"kept 2"}, got)
}
