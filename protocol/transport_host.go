package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport stopped")
	ErrTimeout         = errors.New("timeout")
)

// DefaultAckTimeout bounds the wait for the device to acknowledge a block.
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler observes every response block as it arrives.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link. It sends one command block at
// a time, waits for the matching ack and queues response blocks for
// ReceiveResponse. A background goroutine reads the port.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // atomic, 0x10-0x1F
	isSynchronized uint32 // atomic bool

	inputBuffer *FifoBuffer

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.Mutex
	responseHandler ResponseHandler

	// sendMu serializes command/ack round trips.
	sendMu sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts reading port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:           port,
		currentSeq:     MessageDest,
		isSynchronized: 1,
		inputBuffer:    NewFifoBuffer(1024),
		ackChan:        make(chan *Message, 1),
		responseChan:   make(chan *Message, 16),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ack.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	block, err := EncodeBlock(seq, scratch.Result())
	if err != nil {
		return fmt.Errorf("failed to build command %d: %w", cmdID, err)
	}

	// Drop a stale ack left by an earlier timed-out command.
	select {
	case <-t.ackChan:
	default:
	}

	if err := t.writeBlock(block); err != nil {
		return fmt.Errorf("failed to write command %d: %w", cmdID, err)
	}
	if err := t.waitForAck(seq, timeout); err != nil {
		return fmt.Errorf("command %d not acknowledged: %w", cmdID, err)
	}
	return nil
}

func (t *HostTransport) writeBlock(block []byte) error {
	n, err := t.port.Write(block)
	if err != nil {
		return err
	}
	if n != len(block) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(block))
	}
	return nil
}

// waitForAck waits for the device to acknowledge the block sent with seq.
// The device acks with the sequence it expects next.
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	want := nextSeq(seq)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		if ack.Sequence != want {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", want, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(want))
		return nil
	case <-timer.C:
		return fmt.Errorf("no ack after %v: %w", timeout, ErrTimeout)
	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the next queued response block.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("no response after %v: %w", timeout, ErrTimeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// DrainResponses drops every queued response and returns how many there were.
func (t *HostTransport) DrainResponses() int {
	n := 0
	for {
		select {
		case <-t.responseChan:
			n++
		default:
			return n
		}
	}
}

func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.inputBuffer.Write(buf[:n])
			t.processMessages()
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			return
		}
		select {
		case <-t.stopChan:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// processMessages parses every complete block in the input buffer. Only the
// read loop calls it.
func (t *HostTransport) processMessages() {
	data := t.inputBuffer.Data()

	for len(data) > 0 {
		if atomic.LoadUint32(&t.isSynchronized) == 0 {
			var found bool
			if data, found = skipToSync(data); found {
				atomic.StoreUint32(&t.isSynchronized, 1)
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
			atomic.StoreUint32(&t.isSynchronized, 0)
			continue
		}
		data = data[n:]
		t.dispatchMessage(msg)
	}

	if consumed := t.inputBuffer.Available() - len(data); consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes acks (empty payload) and responses.
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	t.handlerMu.Lock()
	handler := t.responseHandler
	t.handlerMu.Unlock()
	if handler != nil {
		payload := append([]byte(nil), msg.Payload...)
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	// Keep the newest responses when nobody is draining the queue.
	for {
		select {
		case t.responseChan <- msg:
			return
		default:
		}
		select {
		case <-t.responseChan:
		default:
		}
	}
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a pending Read.
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}

// Reset restarts the sequence and drops anything queued.
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}

// CurrentSequence returns the sequence the next command will carry.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
