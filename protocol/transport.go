package protocol

import "sync/atomic"

// CommandHandler handles one decoded command. data holds the remaining
// frame; the handler decodes its own arguments from it.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the device side of the link: it validates incoming blocks,
// dispatches their commands in order and acknowledges every block.
type Transport struct {
	synchronized uint32 // atomic bool
	// nextSequence is the sequence expected from the host; acks and
	// responses carry the same value.
	nextSequence uint32

	output        OutputBuffer
	handler       CommandHandler
	errorHandler  func(cmdID uint16, err error)
	resetCallback func()
}

// NewTransport returns a synchronized transport expecting sequence 0x10.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synchronized: 1,
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes every complete block in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.isSynchronized() {
			var found bool
			if data, found = skipToSync(data); found {
				t.setSynchronized(true)
				t.encodeAckNak()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msg, n, res := scanBlock(data)
		if res == blockIncomplete {
			break
		}
		if res == blockCorrupt {
			t.setSynchronized(false)
			continue
		}
		data = data[n:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if msg.Sequence == MessageDest && expected != MessageDest {
			// Host restarted its sequence.
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if msg.Sequence == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(msg.Sequence)))
			t.dispatch(msg.Payload)
		}
		// A stale sequence still gets an ack; it doubles as a nak carrying
		// the expected value.
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// dispatch runs every command in frame. A handler error stops the frame;
// a malformed id or a panicking handler also drops sync.
func (t *Transport) dispatch(frame []byte) {
	var cmdID uint32
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		var err error
		cmdID, err = DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			if t.errorHandler != nil {
				t.errorHandler(uint16(cmdID), err)
			}
			return
		}
	}
}

func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	crc := CRC16([]byte{MessageLengthMin, ns})
	t.output.Output([]byte{MessageLengthMin, ns, uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// EncodeFrame appends one block whose payload is written by frameData.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})
	frameData(t.output)

	n := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor+MessagePositionLen, uint8(n))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand appends a block carrying cmdID and its arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state.
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.synchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers fn to run when the host restarts its sequence.
func (t *Transport) SetResetCallback(fn func()) { t.resetCallback = fn }


// SetErrorHandler registers fn to receive handler errors.
func (t *Transport) SetErrorHandler(fn func(cmdID uint16, err error)) { t.errorHandler = fn }

func (t *Transport) isSynchronized() bool {
	return atomic.LoadUint32(&t.synchronized) != 0
}

func (t *Transport) setSynchronized(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&t.synchronized, n)
}
