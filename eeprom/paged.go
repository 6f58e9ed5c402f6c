package eeprom

import (
	"bytes"
	"time"

	"ee24/core"
)

// Transaction is one write on the wire: the big-endian offset header
// followed by a payload that never leaves the page Offset falls in.
type Transaction struct {
	Addr    core.I2CAddress
	Offset  uint16
	Payload []byte
}

// Bytes returns the wire form, header first.
func (t Transaction) Bytes() []byte {
	buf := make([]byte, HeaderSize+len(t.Payload))
	buf[0] = byte(t.Offset >> 8)
	buf[1] = byte(t.Offset)
	copy(buf[HeaderSize:], t.Payload)
	return buf
}

// PlanSpan returns the transactions WriteSpan would issue for payload at
// logical. It touches no hardware and depends only on its inputs and the
// device configuration. The transactions share one copy of payload, so the
// caller may reuse its buffer.
func (d *Device) PlanSpan(logical uint32, payload []byte) ([]Transaction, error) {
	return d.planSpan(uint64(logical), bytes.Clone(payload))
}

func (d *Device) planSpan(start uint64, payload []byte) ([]Transaction, error) {
	if err := d.checkSpan(start, len(payload)); err != nil {
		return nil, err
	}

	page := uint64(d.cfg.PageSize)
	limit := d.maxTransfer()

	var plan []Transaction
	emit := func(begin, end int) error {
		addr, offset, err := resolve(d.cfg.BaseAddress, start+uint64(begin))
		if err != nil {
			return err
		}
		plan = append(plan, Transaction{Addr: addr, Offset: offset, Payload: payload[begin:end]})
		return nil
	}

	begin := 0
	for i := range payload {
		pageEnd := (start+uint64(i))%page == page-1
		full := limit > 0 && i+1-begin == limit
		if (pageEnd || full) && i+1 < len(payload) {
			if err := emit(begin, i+1); err != nil {
				return nil, err
			}
			begin = i + 1
		}
	}

	// The tail is always flushed, even when it is empty.
	if err := emit(begin, len(payload)); err != nil {
		return nil, err
	}
	return plan, nil
}

// WriteSpan writes payload starting at logical, one transaction per page
// touched. The plan is computed up front, so addressing errors are reported
// before anything reaches the bus. A transport failure stops the span:
// transactions already sent stay written, the rest are dropped.
func (d *Device) WriteSpan(logical uint32, payload []byte) error {
	plan, err := d.PlanSpan(logical, payload)
	if err != nil {
		return err
	}
	return d.commit(plan)
}

func (d *Device) commit(plan []Transaction) error {
	for _, tx := range plan {
		err := d.bus.Write(tx.Addr, tx.Bytes())
		core.RecordTrace(core.EvtWrite, tx.Addr, tx.Offset, len(tx.Payload), err != nil)
		if err != nil {
			core.Debugf("[eeprom] write 0x%02x@0x%04x len=%d failed: %v", tx.Addr, tx.Offset, len(tx.Payload), err)
			return err
		}
		core.Debugf("[eeprom] write 0x%02x@0x%04x len=%d", tx.Addr, tx.Offset, len(tx.Payload))
		if d.cfg.WriteCycle > 0 {
			time.Sleep(d.cfg.WriteCycle)
		}
	}
	return nil
}
