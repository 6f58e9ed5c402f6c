// Package firmware is the command set of an I2C bridge MCU. It speaks the
// protocol package's framing on one side and drives a core.I2CDriver on the
// other, so a host can reach EEPROMs hanging off the MCU's bus.
//
// The same code runs on a TinyGo target (with core.TxDriver over
// machine.I2C) and on the host against the simulated bus.
package firmware

import (
	"fmt"
	"io"

	"ee24/core"
	"ee24/protocol"
)

// Version is reported in the dictionary.
const Version = "ee24-bridge-0.1.0"

// MaxTransfer is the largest i2c_write data or i2c_read length accepted,
// chosen so a command or its response fits one block with one-byte VLQ
// prefixes to spare.
const MaxTransfer = protocol.MessagePayloadMax - 8

// Options tune a Firmware instance.
type Options struct {
	// CompressDictionary serves the dictionary zlib compressed.
	CompressDictionary bool
}

// Firmware holds the bridge state. It is driven by one goroutine (Serve or
// Receive callers) and is not safe for concurrent use.
type Firmware struct {
	registry  *Registry
	dict      *Dictionary
	transport *protocol.Transport
	input     *protocol.FifoBuffer
	out       *protocol.ByteOutput

	i2c     core.I2CDriver
	devices map[uint8]*i2cDevice

	configCRC uint32
	shutdown  bool
}

// New builds the firmware around driver.
func New(driver core.I2CDriver, opts Options) *Firmware {
	f := &Firmware{
		registry: NewRegistry(),
		input:    protocol.NewFifoBuffer(1024),
		out:      &protocol.ByteOutput{},
		i2c:      driver,
		devices:  make(map[uint8]*i2cDevice),
	}
	f.dict = NewDictionary(f.registry, Version)
	f.dict.SetCompress(opts.CompressDictionary)

	f.transport = protocol.NewTransport(f.out, f.dispatch)
	f.transport.SetErrorHandler(func(cmdID uint16, err error) {
		core.Debugf("[fw] command %d failed: %v", cmdID, err)
	})
	f.transport.SetResetCallback(f.reset)

	f.registerCore()
	f.registerI2C()

	f.dict.AddConstant("MCU", "ee24-bridge")
	f.dict.AddConstant("I2C_MAX_TRANSFER", fmt.Sprint(MaxTransfer))
	f.dict.AddEnumeration("i2c_bus_status", []string{"success", "nack", "error"})
	return f
}

func (f *Firmware) Registry() *Registry     { return f.registry }
func (f *Firmware) Dictionary() *Dictionary { return f.dict }
func (f *Firmware) IsShutdown() bool        { return f.shutdown }

func (f *Firmware) dispatch(cmdID uint16, data *[]byte) error {
	return f.registry.Dispatch(cmdID, data)
}

// Receive feeds bytes from the host and returns the bytes to send back.
func (f *Firmware) Receive(data []byte) []byte {
	f.out.Reset()
	for len(data) > 0 {
		n := f.input.Write(data)
		data = data[n:]
		f.transport.Receive(f.input)
		if n == 0 && f.input.Free() == 0 {
			// Nothing parseable in a full buffer.
			f.input.Reset()
		}
	}
	return append([]byte(nil), f.out.Bytes()...)
}

// Serve runs the command loop on rw until it reports io.EOF.
func (f *Firmware) Serve(rw io.ReadWriter) error {
	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			if reply := f.Receive(buf[:n]); len(reply) > 0 {
				if _, werr := rw.Write(reply); werr != nil {
					return werr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// respond queues the response registered as name.
func (f *Firmware) respond(name string, args func(output protocol.OutputBuffer)) error {
	cmd, ok := f.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("response %q not registered", name)
	}
	f.transport.SendCommand(cmd.ID, args)
	return nil
}

// reset runs when the host restarts its sequence.
func (f *Firmware) reset() {
	core.Debugf("[fw] host reset")
	f.configCRC = 0
	f.shutdown = false
	f.devices = make(map[uint8]*i2cDevice)
}

func (f *Firmware) registerCore() {
	r := f.registry
	// The host bootstraps with these two IDs before it has a dictionary.
	r.RegisterResponse("identify_response", "offset=%u data=%*s") // 0
	r.Register("identify", "offset=%u count=%c", f.handleIdentify) // 1

	r.Register("get_config", "", f.handleGetConfig)
	r.RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
	r.Register("config_reset", "", f.handleConfigReset)
	r.Register("finalize_config", "crc=%u", f.handleFinalizeConfig)
	r.Register("emergency_stop", "", f.handleEmergencyStop)
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := f.dict.Chunk(offset, uint8(count))
	return f.respond("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

func (f *Firmware) handleGetConfig(data *[]byte) error {
	return f.respond("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolToUint(f.configCRC != 0))
		protocol.EncodeVLQUint(output, f.configCRC)
		protocol.EncodeVLQUint(output, boolToUint(f.shutdown))
	})
}

func (f *Firmware) handleConfigReset(data *[]byte) error {
	f.reset()
	return nil
}

func (f *Firmware) handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.configCRC = crc
	return nil
}

func (f *Firmware) handleEmergencyStop(data *[]byte) error {
	f.shutdown = true
	for _, dev := range f.devices {
		dev.ready = false
	}
	core.Debugf("[fw] emergency stop")
	return nil
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
