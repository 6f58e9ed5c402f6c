// Package mcu talks to a bridge MCU from the host: it retrieves the
// firmware dictionary, sends named commands and waits for named responses.
package mcu

import (
	"bytes"
	"cmp"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"ee24/core"
	"ee24/host/serial"
	"ee24/protocol"
)

// IDs every firmware registers first, usable before the dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1
)

const (
	DefaultResponseTimeout = time.Second
	dictionaryChunk        = 40
	maxDictionarySize      = 64 << 10
)

var (
	ErrNoDictionary   = errors.New("mcu: dictionary not loaded")
	ErrUnknownMessage = errors.New("mcu: message not in dictionary")
	ErrShutdown       = errors.New("mcu: firmware is shut down")
)

// Dictionary is the parsed firmware dictionary.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandIDs  map[string]uint16
	responseIDs map[string]uint16
}

// index maps bare message names (the signature up to the first space) to IDs.
func (d *Dictionary) index() {
	d.commandIDs = make(map[string]uint16, len(d.Commands))
	for sig, id := range d.Commands {
		d.commandIDs[messageName(sig)] = uint16(id)
	}
	d.responseIDs = make(map[string]uint16, len(d.Responses))
	for sig, id := range d.Responses {
		d.responseIDs[messageName(sig)] = uint16(id)
	}
}

func messageName(signature string) string {
	if i := strings.IndexByte(signature, ' '); i >= 0 {
		return signature[:i]
	}
	return signature
}

// MCU is a connection to a bridge MCU.
type MCU struct {
	transport *protocol.HostTransport

	// mu serializes request/response exchanges.
	mu sync.Mutex

	dictionary     *Dictionary
	dictionaryData []byte
	timeout        time.Duration
}

// New runs the host side of the protocol over port.
func New(port io.ReadWriteCloser) *MCU {
	return &MCU{
		transport: protocol.NewHostTransport(port),
		timeout:   DefaultResponseTimeout,
	}
}

// Connect opens a serial port and connects to the MCU behind it.
func Connect(cfg *serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	// Give a freshly enumerated device time to boot, then drop whatever it
	// printed meanwhile.
	time.Sleep(100 * time.Millisecond)
	if err := port.Flush(); err != nil {
		core.Debugf("[mcu] flush %s: %v", cfg.Device, err)
	}
	return New(port), nil
}

// SetTimeout sets how long to wait for a response.
func (m *MCU) SetTimeout(d time.Duration) {
	m.timeout = d
}

func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary downloads, decompresses (if zlib) and parses the
// firmware dictionary.
func (m *MCU) RetrieveDictionary() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	for buf.Len() < maxDictionarySize {
		chunk, err := m.identify(uint32(buf.Len()), dictionaryChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < dictionaryChunk {
			break
		}
	}
	core.Debugf("[mcu] dictionary retrieved: %d bytes", buf.Len())

	data := buf.Bytes()
	if len(data) >= 2 && data[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to decompress dictionary: %w", err)
		}
		if data, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("failed to decompress dictionary: %w", err)
		}
		core.Debugf("[mcu] dictionary decompressed: %d -> %d bytes", buf.Len(), len(data))
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	dict.index()

	m.dictionaryData = data
	m.dictionary = dict
	return nil
}

// identify fetches one dictionary chunk.
func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	payload, err := m.exchange(identifyID, identifyResponseID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, err
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	return protocol.DecodeVLQBytes(&payload)
}

// exchange sends cmdID and waits for a respID response, returning the
// payload after the message ID. Responses queued before the send belong to
// earlier exchanges that timed out and are discarded, as are responses with
// other IDs. Caller holds mu.
func (m *MCU) exchange(cmdID, respID uint16, args func(output protocol.OutputBuffer)) ([]byte, error) {
	if n := m.transport.DrainResponses(); n > 0 {
		core.Debugf("[mcu] discarded %d stale responses before command %d", n, cmdID)
	}
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d: %w", respID, protocol.ErrTimeout)
		}
		msg, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(id) == respID {
			return payload, nil
		}
		core.Debugf("[mcu] dropping response %d while waiting for %d", id, respID)
	}
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary.
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary
}

// DictionaryRaw returns the uncompressed dictionary document.
func (m *MCU) DictionaryRaw() []byte {
	return m.dictionaryData
}

// Constant returns a firmware constant.
func (m *MCU) Constant(name string) (string, bool) {
	if m.dictionary == nil {
		return "", false
	}
	v, ok := m.dictionary.Config[name]
	return v, ok
}

func (m *MCU) lookup(names map[string]uint16, name string) (uint16, error) {
	if m.dictionary == nil {
		return 0, ErrNoDictionary
	}
	id, ok := names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return id, nil
}

// SendCommand sends the command called name and waits for its ack.
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dictionary == nil {
		return ErrNoDictionary
	}
	id, err := m.lookup(m.dictionary.commandIDs, name)
	if err != nil {
		return err
	}
	return m.transport.SendCommand(id, args)
}

// Query sends name and returns the arguments of the first respName response.
func (m *MCU) Query(name string, args func(output protocol.OutputBuffer), respName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	cmdID, err := m.lookup(m.dictionary.commandIDs, name)
	if err != nil {
		return nil, err
	}
	respID, err := m.lookup(m.dictionary.responseIDs, respName)
	if err != nil {
		return nil, err
	}
	return m.exchange(cmdID, respID, args)
}

// WriteSummary prints the dictionary, messages in ID order.
func (m *MCU) WriteSummary(w io.Writer) error {
	d := m.dictionary
	if d == nil {
		return ErrNoDictionary
	}

	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build:   %s\n", d.BuildVersions)

	keys := maps.Keys(d.Config)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}

	for _, section := range []struct {
		title string
		msgs  map[string]int
	}{{"Commands", d.Commands}, {"Responses", d.Responses}} {
		sigs := maps.Keys(section.msgs)
		slices.SortFunc(sigs, func(a, b string) int { return cmp.Compare(section.msgs[a], section.msgs[b]) })
		fmt.Fprintf(w, "%s (%d):\n", section.title, len(sigs))
		for _, sig := range sigs {
			fmt.Fprintf(w, "  [%d] %s\n", section.msgs[sig], sig)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// ConfigState is the firmware's answer to get_config.
type ConfigState struct {
	Configured bool
	CRC        uint32
	Shutdown   bool
}

// GetConfig reports whether the firmware has been configured, with which
// CRC, and whether it is shut down.
func (m *MCU) GetConfig() (ConfigState, error) {
	resp, err := m.Query("get_config", nil, "config")
	if err != nil {
		return ConfigState{}, err
	}
	var fields [3]uint32
	for i := range fields {
		if fields[i], err = protocol.DecodeVLQUint(&resp); err != nil {
			return ConfigState{}, fmt.Errorf("mcu: bad config response: %w", err)
		}
	}
	return ConfigState{Configured: fields[0] != 0, CRC: fields[1], Shutdown: fields[2] != 0}, nil
}

// Configure brings the firmware to configuration crc. A firmware already
// holding crc is left alone so its devices stay set up; one holding another
// configuration is reset first.
func (m *MCU) Configure(crc uint32) error {
	state, err := m.GetConfig()
	if err != nil {
		return err
	}
	if state.Shutdown {
		return ErrShutdown
	}
	if state.Configured {
		if state.CRC == crc {
			return nil
		}
		core.Debugf("[mcu] config crc 0x%08x differs from 0x%08x, resetting", state.CRC, crc)
		if err := m.ResetConfig(); err != nil {
			return err
		}
	}
	return m.SendCommand("finalize_config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, crc)
	})
}

// ResetConfig drops every configured device and clears a shutdown.
func (m *MCU) ResetConfig() error {
	return m.SendCommand("config_reset", nil)
}

// EmergencyStop shuts the firmware down. Bus commands fail until ResetConfig.
func (m *MCU) EmergencyStop() error {
	return m.SendCommand("emergency_stop", nil)
}
