package eeprom

import (
	"bytes"
	"encoding/binary"

	"ee24/core"
)

// WriteByte stores one byte at logical. It takes an address and so is not
// io.ByteWriter.
func (d *Device) WriteByte(logical uint32, value byte) error {
	return d.WriteSpan(logical, []byte{value})
}

// ReadByte loads one byte from logical. It takes an address and so is not
// io.ByteReader.
func (d *Device) ReadByte(logical uint32) (byte, error) {
	buf, err := d.ReadBuffer(logical, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteWord stores value big-endian at logical. A word that straddles a page
// boundary is split into two transactions.
func (d *Device) WriteWord(logical uint32, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	return d.WriteSpan(logical, buf[:])
}

// ReadWord loads a big-endian 16-bit value from logical.
func (d *Device) ReadWord(logical uint32) (uint16, error) {
	buf, err := d.ReadBuffer(logical, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// WriteDword stores value big-endian at logical.
func (d *Device) WriteDword(logical uint32, value uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return d.WriteSpan(logical, buf[:])
}

// ReadDword loads a big-endian 32-bit value from logical. Callers wanting
// the signed interpretation convert with int32(v).
func (d *Device) ReadDword(logical uint32) (uint32, error) {
	buf, err := d.ReadBuffer(logical, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteBuffer stores data starting at logical.
func (d *Device) WriteBuffer(logical uint32, data []byte) error {
	return d.WriteSpan(logical, data)
}

// ReadBuffer loads n bytes starting at logical. Each read positions the chip
// cursor with a header-only write and then reads sequentially; a read is
// split where it crosses into the next bank or exceeds the transfer limit.
func (d *Device) ReadBuffer(logical uint32, n int) ([]byte, error) {
	pos := uint64(logical)
	if err := d.checkSpan(pos, n); err != nil {
		return nil, err
	}

	limit := d.maxTransfer()
	out := make([]byte, 0, n)

	for remaining := n; remaining > 0; {
		addr, offset, err := resolve(d.cfg.BaseAddress, pos)
		if err != nil {
			return nil, err
		}

		chunk := remaining
		if room := BankSize - int(offset); chunk > room {
			chunk = room
		}
		if limit > 0 && chunk > limit {
			chunk = limit
		}

		data, err := d.bus.Read(addr, header(offset), chunk)
		core.RecordTrace(core.EvtRead, addr, offset, chunk, err != nil || len(data) < chunk)
		if err != nil {
			core.Debugf("[eeprom] read 0x%02x@0x%04x len=%d failed: %v", addr, offset, chunk, err)
			return nil, err
		}
		if len(data) < chunk {
			return nil, &ShortReadError{Addr: addr, Offset: offset, Want: chunk, Got: len(data)}
		}
		core.Debugf("[eeprom] read 0x%02x@0x%04x len=%d", addr, offset, chunk)

		out = append(out, data[:chunk]...)
		pos += uint64(chunk)
		remaining -= chunk
	}

	return out, nil
}

// WriteString stores text zero padded to exactly one page worth of bytes, so
// a later ReadString stops at the end of text.
func (d *Device) WriteString(logical uint32, text string) error {
	if len(text) > d.cfg.PageSize {
		return ErrStringTooLong
	}
	buf := make([]byte, d.cfg.PageSize)
	copy(buf, text)
	return d.WriteSpan(logical, buf)
}

// ReadString reads up to maxSize bytes and returns the text before the first
// 0x00 or 0xFF. Erased cells read as 0xFF, so both end a string.
func (d *Device) ReadString(logical uint32, maxSize int) (string, error) {
	buf, err := d.ReadBuffer(logical, maxSize)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0x00 || b == 0xFF {
			buf = buf[:i]
			break
		}
	}
	return string(buf), nil
}

// Fill writes n copies of value starting at logical.
func (d *Device) Fill(logical uint32, n int, value byte) error {
	if n < 0 {
		return ErrInvalidLength
	}
	return d.WriteSpan(logical, bytes.Repeat([]byte{value}, n))
}

// Erase sets n bytes starting at logical to the erased state (0xFF).
func (d *Device) Erase(logical uint32, n int) error {
	return d.Fill(logical, n, 0xFF)
}
