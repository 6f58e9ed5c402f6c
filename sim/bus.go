// Package sim emulates 24Cxx EEPROMs on an I2C bus.
//
// The emulation follows the chip datasheets closely enough to catch driver
// bugs: a write sets the internal address from its two-byte header and then
// stores bytes with the address counter wrapping inside the current page, so
// a transaction that runs past a page boundary overwrites the start of the
// same page just as silicon does. Sequential reads roll over at the end of a
// bank. Unerased cells read 0xFF.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"ee24/core"
	"ee24/eeprom"
)

var (
	ErrNoAck       = fmt.Errorf("sim: no device acknowledged address: %w", core.ErrNack)
	ErrProtocol    = errors.New("sim: malformed transaction")
	ErrInjected    = errors.New("sim: injected bus fault")
	ErrDeviceTaken = errors.New("sim: address already in use")
)

// Transfer records one transaction seen on the bus.
type Transfer struct {
	Addr    core.I2CAddress
	Write   []byte // bytes written (header included)
	ReadLen int    // bytes requested after a repeated start, 0 for plain writes
}

// bank is the array behind one device address.
type bank struct {
	mem    []byte
	cursor int
}

// Bus is a simulated I2C bus carrying EEPROM banks. It implements
// core.I2CDriver; bus IDs are accepted but all share one set of devices.
type Bus struct {
	mu         sync.Mutex
	pageSize   int
	banks      map[core.I2CAddress]*bank
	log        []Transfer
	configured map[core.I2CBusID]uint32

	failAfter int // transactions left before an injected fault, -1 when off
	failErr   error
}

// NewBus returns an empty bus whose devices use pageSize byte pages.
func NewBus(pageSize int) *Bus {
	return &Bus{
		pageSize:   pageSize,
		banks:      make(map[core.I2CAddress]*bank),
		configured: make(map[core.I2CBusID]uint32),
		failAfter:  -1,
	}
}

// New returns a bus carrying one chip at base, occupying as many
// consecutive addresses as the part has 64 KiB banks.
func New(chip eeprom.Chip, base core.I2CAddress) (*Bus, error) {
	b := NewBus(chip.PageSize)
	remaining := int(chip.Size)
	for i := 0; i < chip.Banks(); i++ {
		size := remaining
		if size > eeprom.BankSize {
			size = eeprom.BankSize
		}
		if err := b.Attach(base+core.I2CAddress(i), size); err != nil {
			return nil, err
		}
		remaining -= size
	}
	return b, nil
}

// Attach adds an erased bank of size bytes at addr.
func (b *Bus) Attach(addr core.I2CAddress, size int) error {
	if !addr.Valid() {
		return core.ErrInvalidAddress
	}
	if size <= 0 || size > eeprom.BankSize || size%b.pageSize != 0 {
		return ErrProtocol
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.banks[addr]; exists {
		return ErrDeviceTaken
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	b.banks[addr] = &bank{mem: mem}
	return nil
}

// Devices returns the attached addresses in ascending order.
func (b *Bus) Devices() []core.I2CAddress {
	b.mu.Lock()
	defer b.mu.Unlock()

	addrs := maps.Keys(b.banks)
	slices.Sort(addrs)
	return addrs
}

// PageSize returns the page size shared by the attached banks.
func (b *Bus) PageSize() int {
	return b.pageSize
}

// ConfigureBus records the requested frequency.
func (b *Bus) ConfigureBus(bus core.I2CBusID, frequencyHz uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configured[bus] = frequencyHz
	return nil
}

// Frequency returns the last frequency configured for bus.
func (b *Bus) Frequency(bus core.I2CBusID) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured[bus]
}

// Write performs a write transaction: two header bytes set the address
// counter, the rest are stored with the counter wrapping inside the page.
func (b *Bus) Write(bus core.I2CBusID, addr core.I2CAddress, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, err := b.begin(Transfer{Addr: addr, Write: append([]byte(nil), data...)})
	if err != nil {
		return err
	}
	if len(data) < eeprom.HeaderSize {
		return ErrProtocol
	}

	bk.cursor = (int(data[0])<<8 | int(data[1])) % len(bk.mem)
	pageStart := bk.cursor &^ (b.pageSize - 1)
	for _, v := range data[eeprom.HeaderSize:] {
		bk.mem[bk.cursor] = v
		bk.cursor = pageStart | (bk.cursor+1)&(b.pageSize-1)
	}
	return nil
}

// Read performs a random read (when regData carries a header) or a current
// address read (when regData is empty).
func (b *Bus) Read(bus core.I2CBusID, addr core.I2CAddress, regData []byte, readLen int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, err := b.begin(Transfer{Addr: addr, Write: append([]byte(nil), regData...), ReadLen: readLen})
	if err != nil {
		return nil, err
	}

	switch len(regData) {
	case 0:
	case eeprom.HeaderSize:
		bk.cursor = (int(regData[0])<<8 | int(regData[1])) % len(bk.mem)
	default:
		return nil, ErrProtocol
	}

	out := make([]byte, readLen)
	for i := range out {
		out[i] = bk.mem[bk.cursor]
		bk.cursor = (bk.cursor + 1) % len(bk.mem)
	}
	return out, nil
}

// begin logs t and resolves its device. Must be called with the lock held.
func (b *Bus) begin(t Transfer) (*bank, error) {
	b.log = append(b.log, t)

	if b.failAfter == 0 {
		b.failAfter = -1
		return nil, b.failErr
	}
	if b.failAfter > 0 {
		b.failAfter--
	}

	bk, ok := b.banks[t.Addr]
	if !ok {
		return nil, ErrNoAck
	}
	return bk, nil
}

// FailAfter lets n more transactions through and fails the one after with
// err (ErrInjected when nil). The fault fires once.
func (b *Bus) FailAfter(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	b.failAfter = n
	b.failErr = err
}

// Transfers returns a copy of the transaction log.
func (b *Bus) Transfers() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.log...)
}

// ResetLog clears the transaction log.
func (b *Bus) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Peek returns a copy of n bytes of the bank at addr starting at offset,
// bypassing the bus (no log entry, cursor untouched).
func (b *Bus) Peek(addr core.I2CAddress, offset, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.banks[addr]
	if !ok {
		return nil, ErrNoAck
	}
	if offset < 0 || n < 0 || offset+n > len(bk.mem) {
		return nil, ErrProtocol
	}
	return append([]byte(nil), bk.mem[offset:offset+n]...), nil
}
