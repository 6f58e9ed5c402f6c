package protocol

import "fmt"

type scanResult int

const (
	blockOK scanResult = iota
	blockIncomplete
	blockCorrupt
)

// scanBlock looks for one block at the start of data. On blockOK it returns
// the decoded message and the number of bytes it occupied. blockCorrupt means
// the stream lost sync; callers discard up to the next sync byte.
func scanBlock(data []byte) (*Message, int, scanResult) {
	if len(data) < MessageLengthMin {
		return nil, 0, blockIncomplete
	}

	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return nil, 0, blockCorrupt
	}
	seq := data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return nil, 0, blockCorrupt
	}
	if len(data) < n {
		return nil, 0, blockIncomplete
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return nil, 0, blockCorrupt
	}

	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return nil, 0, blockCorrupt
	}

	payload := make([]byte, n-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:n-MessageTrailerSize])
	return &Message{Length: uint8(n), Sequence: seq, Payload: payload, CRC: crc}, n, blockOK
}

// skipToSync drops bytes up to and including the next sync byte. It
// returns nil when there is none.
func skipToSync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// EncodeBlock frames payload with seq.
func EncodeBlock(seq uint8, payload []byte) ([]byte, error) {
	n := MessageLengthMin + len(payload)
	if n > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", n, MessageLengthMax)
	}

	block := make([]byte, 0, n)
	block = append(block, uint8(n), seq)
	block = append(block, payload...)
	crc := CRC16(block)
	block = append(block, uint8(crc>>8), uint8(crc), MessageValueSync)
	return block, nil
}
