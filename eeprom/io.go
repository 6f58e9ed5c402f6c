package eeprom

import (
	"errors"
	"io"
	"math"
)

var errNegativeOffset = errors.New("eeprom: negative offset")

// ReadAt implements io.ReaderAt over the logical address space. When the
// device size is known, reads stop at the end of the array with io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.clip(len(p), off)
	if n == 0 {
		return 0, err
	}
	data, rerr := d.ReadBuffer(uint32(off), n)
	if rerr != nil {
		return 0, rerr
	}
	copy(p, data)
	return n, err
}

// WriteAt implements io.WriterAt. Writes past the end of a sized device are
// truncated and report io.ErrShortWrite.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.clip(len(p), off)
	if err == io.EOF {
		err = io.ErrShortWrite
	}
	if n == 0 {
		return 0, err
	}
	if werr := d.WriteSpan(uint32(off), p[:n]); werr != nil {
		return 0, werr
	}
	return n, err
}

// clip bounds a transfer of n bytes at off to the addressable range.
func (d *Device) clip(n int, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	end := int64(math.MaxUint32) + 1
	if d.cfg.Size != 0 {
		end = int64(d.cfg.Size)
	}
	if off >= end {
		if n == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if off+int64(n) > end {
		return int(end - off), io.EOF
	}
	return n, nil
}

// Section returns a seekable read-only view of [off, off+n).
func (d *Device) Section(off int64, n int64) *io.SectionReader {
	return io.NewSectionReader(d, off, n)
}
