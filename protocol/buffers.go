package protocol

// InputBuffer is the receive side consumed by Transport.Receive.
type InputBuffer interface {
	Data() []byte
	Available() int
	// Pop drops n bytes from the front.
	Pop(n int)
}

// OutputBuffer is the transmit side blocks are encoded into.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	// Update overwrites the byte at pos (used to back-fill the length).
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer is an InputBuffer over a fixed slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed-size OutputBuffer for encoding one command.
// Output past the end is dropped.
type ScratchOutput struct {
	buf [scratchSize]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns the bytes written so far.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

func (s *ScratchOutput) Reset() { s.pos = 0 }

// ByteOutput is a growable OutputBuffer. The bridge firmware collects a
// batch of blocks in one and writes them out together.
type ByteOutput struct {
	buf []byte
}

func (b *ByteOutput) Output(data []byte) { b.buf = append(b.buf, data...) }
func (b *ByteOutput) CurPosition() int   { return len(b.buf) }

func (b *ByteOutput) Update(pos int, val byte) {
	if pos < len(b.buf) {
		b.buf[pos] = val
	}
}

func (b *ByteOutput) DataSince(pos int) []byte {
	if pos > len(b.buf) {
		return nil
	}
	return b.buf[pos:]
}

func (b *ByteOutput) Bytes() []byte { return b.buf }
func (b *ByteOutput) Len() int      { return len(b.buf) }
func (b *ByteOutput) Reset()        { b.buf = b.buf[:0] }

// FifoBuffer is a ring buffer for bytes arriving from a stream. One slot
// stays empty to tell full from empty.
type FifoBuffer struct {
	buf         []byte
	read, write int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write stores as much of data as fits and returns the count stored.
func (f *FifoBuffer) Write(data []byte) int {
	n := 0
	for _, b := range data {
		next := (f.write + 1) % len(f.buf)
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		n++
	}
	return n
}

// Read moves up to len(data) bytes out of the buffer.
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.read != f.write {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % len(f.buf)
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return len(f.buf) - f.read + f.write
}

func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available() - 1
}

// Data returns the buffered bytes in order. When the contents wrap they are
// copied into a fresh slice.
func (f *FifoBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	out := make([]byte, 0, f.Available())
	out = append(out, f.buf[f.read:]...)
	return append(out, f.buf[:f.write]...)
}

func (f *FifoBuffer) Pop(n int) {
	if avail := f.Available(); n > avail {
		n = avail
	}
	f.read = (f.read + n) % len(f.buf)
}

func (f *FifoBuffer) IsEmpty() bool { return f.read == f.write }

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
