package firmware

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ee24/core"
	"ee24/protocol"
	"ee24/sim"
)

// host drives a Firmware block by block.
type host struct {
	t   *testing.T
	fw  *Firmware
	seq uint8
}

func newHost(t *testing.T, fw *Firmware) *host {
	return &host{t: t, fw: fw, seq: protocol.MessageDest}
}

// call sends one command and returns the response payloads (acks dropped).
func (h *host) call(name string, args ...interface{}) [][]byte {
	h.t.Helper()

	cmd, ok := h.fw.Registry().Lookup(name)
	require.True(h.t, ok, "command %s", name)

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(cmd.ID))
	for _, a := range args {
		switch v := a.(type) {
		case int:
			protocol.EncodeVLQUint(out, uint32(v))
		case []byte:
			protocol.EncodeVLQBytes(out, v)
		}
	}
	block, err := protocol.EncodeBlock(h.seq, out.Result())
	require.NoError(h.t, err)
	h.seq = ((h.seq + 1) & protocol.MessageSeqMask) | protocol.MessageDest

	var payloads [][]byte
	reply := h.fw.Receive(block)
	for len(reply) > 0 {
		n := int(reply[0])
		require.GreaterOrEqual(h.t, len(reply), n)
		if payload := reply[protocol.MessageHeaderSize : n-protocol.MessageTrailerSize]; len(payload) > 0 {
			payloads = append(payloads, payload)
		}
		reply = reply[n:]
	}
	return payloads
}

// decode splits a response payload into its message name and VLQ fields;
// byte strings come back as []byte.
func (h *host) decode(payload []byte, byteFields ...int) (string, []interface{}) {
	h.t.Helper()
	id, err := protocol.DecodeVLQUint(&payload)
	require.NoError(h.t, err)

	var name string
	for _, c := range h.fw.registry.commands {
		if uint32(c.ID) == id {
			name = c.Name
		}
	}

	var fields []interface{}
	for i := 0; len(payload) > 0; i++ {
		isBytes := false
		for _, b := range byteFields {
			isBytes = isBytes || b == i
		}
		if isBytes {
			v, err := protocol.DecodeVLQBytes(&payload)
			require.NoError(h.t, err)
			fields = append(fields, append([]byte(nil), v...))
		} else {
			v, err := protocol.DecodeVLQUint(&payload)
			require.NoError(h.t, err)
			fields = append(fields, v)
		}
	}
	return name, fields
}

func newSimFirmware(t *testing.T) (*Firmware, *sim.Bus) {
	bus := sim.NewBus(32)
	require.NoError(t, bus.Attach(0x50, 4096))
	return New(bus, Options{}), bus
}

func TestBootstrapIDs(t *testing.T) {
	fw, _ := newSimFirmware(t)

	resp, ok := fw.Registry().Lookup("identify_response")
	require.True(t, ok)
	assert.Equal(t, uint16(0), resp.ID)

	identify, ok := fw.Registry().Lookup("identify")
	require.True(t, ok)
	assert.Equal(t, uint16(1), identify.ID)

	assert.Equal(t, identify.ID, fw.Registry().Register("identify", "ignored", nil))
	assert.Contains(t, fw.Registry().String(), "identify offset=%u count=%c\n")
}

func TestDispatchErrors(t *testing.T) {
	r := NewRegistry()
	id := r.RegisterResponse("pong", "")

	data := []byte{}
	assert.ErrorContains(t, r.Dispatch(id, &data), "response")
	assert.ErrorContains(t, r.Dispatch(42, &data), "unknown command")
}

func TestDictionaryDocument(t *testing.T) {
	fw, _ := newSimFirmware(t)

	raw, err := fw.Dictionary().Build()
	require.NoError(t, err)

	var doc DictionaryData
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, 1, doc.Commands["identify offset=%u count=%c"])
	assert.Contains(t, doc.Responses, "i2c_read_response oid=%c i2c_bus_status=%c response=%*s")
	assert.Equal(t, "51", doc.Config["I2C_MAX_TRANSFER"])
	assert.Equal(t, map[string]int{"success": 0, "nack": 1, "error": 2}, doc.Enumerations["i2c_bus_status"])
}

func TestDictionaryCompressed(t *testing.T) {
	bus := sim.NewBus(32)
	fw := New(bus, Options{CompressDictionary: true})

	packed, err := fw.Dictionary().Build()
	require.NoError(t, err)
	assert.Equal(t, byte(0x78), packed[0], "zlib header")

	zr, err := zlib.NewReader(bytes.NewReader(packed))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var doc DictionaryData
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, Version, doc.Version)
}

func TestDictionaryChunks(t *testing.T) {
	fw, _ := newSimFirmware(t)
	raw, err := fw.Dictionary().Build()
	require.NoError(t, err)

	var joined []byte
	for off := uint32(0); ; off += 40 {
		chunk := fw.Dictionary().Chunk(off, 40)
		if len(chunk) == 0 {
			break
		}
		joined = append(joined, chunk...)
	}
	assert.Equal(t, raw, joined)
	assert.Empty(t, fw.Dictionary().Chunk(uint32(len(raw)+10), 40))
}

func TestIdentifyOverTheWire(t *testing.T) {
	fw, _ := newSimFirmware(t)
	h := newHost(t, fw)

	replies := h.call("identify", 0, 16)
	require.Len(t, replies, 1)
	name, fields := h.decode(replies[0], 1)
	assert.Equal(t, "identify_response", name)
	assert.Equal(t, uint32(0), fields[0])
	assert.Equal(t, fw.Dictionary().Chunk(0, 16), fields[1])
}

func TestI2CWriteAndRead(t *testing.T) {
	fw, bus := newSimFirmware(t)
	h := newHost(t, fw)

	assert.Empty(t, h.call("config_i2c", 3))
	assert.Empty(t, h.call("i2c_set_bus", 3, 1, 400000, 0x50))
	assert.Equal(t, uint32(400000), bus.Frequency(1))

	replies := h.call("i2c_write", 3, []byte{0x00, 0x10, 0xAA, 0xBB})
	require.Len(t, replies, 1)
	name, fields := h.decode(replies[0])
	assert.Equal(t, "i2c_write_response", name)
	assert.Equal(t, []interface{}{uint32(3), uint32(I2CStatusSuccess)}, fields)

	got, err := bus.Peek(0x50, 0x10, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)

	replies = h.call("i2c_read", 3, []byte{0x00, 0x10}, 2)
	require.Len(t, replies, 1)
	name, fields = h.decode(replies[0], 2)
	assert.Equal(t, "i2c_read_response", name)
	assert.Equal(t, []interface{}{uint32(3), uint32(I2CStatusSuccess), []byte{0xAA, 0xBB}}, fields)
}

func TestI2CStatusCodes(t *testing.T) {
	fw, _ := newSimFirmware(t)
	h := newHost(t, fw)

	h.call("config_i2c", 1)
	h.call("i2c_set_bus", 1, 0, 100000, 0x57)

	_, fields := h.decode(h.call("i2c_write", 1, []byte{0, 0, 1})[0])
	assert.Equal(t, uint32(I2CStatusNack), fields[1], "absent device")

	_, fields = h.decode(h.call("i2c_write", 9, []byte{0, 0, 1})[0])
	assert.Equal(t, uint32(I2CStatusError), fields[1], "unknown oid")

	h.call("config_i2c", 2)
	h.call("i2c_set_bus", 2, 0, 100000, 0x50)
	_, fields = h.decode(h.call("i2c_read", 2, []byte{0, 0}, MaxTransfer+1)[0], 2)
	assert.Equal(t, uint32(I2CStatusError), fields[1], "oversized read")
	assert.Empty(t, fields[2])
}

func TestEmergencyStop(t *testing.T) {
	fw, _ := newSimFirmware(t)
	h := newHost(t, fw)

	h.call("config_i2c", 0)
	h.call("i2c_set_bus", 0, 0, 400000, 0x50)
	h.call("finalize_config", 1234)
	h.call("emergency_stop")
	assert.True(t, fw.IsShutdown())

	_, fields := h.decode(h.call("i2c_write", 0, []byte{0, 0, 1})[0])
	assert.Equal(t, uint32(I2CStatusError), fields[1])

	name, fields := h.decode(h.call("get_config")[0])
	assert.Equal(t, "config", name)
	assert.Equal(t, []interface{}{uint32(1), uint32(1234), uint32(1)}, fields)

	h.call("config_reset")
	assert.False(t, fw.IsShutdown())
}

func TestServeOverPipe(t *testing.T) {
	fw, bus := newSimFirmware(t)
	hostEnd, devEnd := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- fw.Serve(devEnd) }()

	ht := protocol.NewHostTransport(hostEnd)

	cfg, _ := fw.Registry().Lookup("config_i2c")
	setBus, _ := fw.Registry().Lookup("i2c_set_bus")
	write, _ := fw.Registry().Lookup("i2c_write")

	require.NoError(t, ht.SendCommand(cfg.ID, func(o protocol.OutputBuffer) { protocol.EncodeVLQUint(o, 0) }))
	require.NoError(t, ht.SendCommand(setBus.ID, func(o protocol.OutputBuffer) {
		for _, v := range []uint32{0, 0, 400000, 0x50} {
			protocol.EncodeVLQUint(o, v)
		}
	}))
	require.NoError(t, ht.SendCommand(write.ID, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
		protocol.EncodeVLQBytes(o, []byte{0x00, 0x05, 0x42})
	}))

	got, err := bus.Peek(0x50, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, got)

	require.NoError(t, ht.Close())
	assert.NoError(t, <-done)
}

func TestBusStatus(t *testing.T) {
	assert.Equal(t, uint32(I2CStatusSuccess), busStatus(nil))
	assert.Equal(t, uint32(I2CStatusNack), busStatus(sim.ErrNoAck))
	assert.Equal(t, uint32(I2CStatusError), busStatus(core.ErrBusNotConfigured))
}
