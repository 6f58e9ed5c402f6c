// Package protocol implements the framing spoken between the ee24 host tool
// and an I2C bridge MCU: VLQ encoded commands carried in sequenced blocks
// protected by a CRC16 and terminated by a sync byte.
//
// A block is laid out as
//
//	len seq payload... crc_hi crc_lo 0x7E
//
// where len counts the whole block and seq carries MessageDest in its high
// nibble and a 4-bit sequence number in its low nibble.
package protocol

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	// MessagePayloadMax is the largest payload one block carries.
	MessagePayloadMax = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F

	// scratchSize bounds one encoded command; a few blocks' worth.
	scratchSize = 4 * MessageLengthMax
)

// Message is one decoded block.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // between header and trailer
	CRC      uint16
}

// nextSeq returns the sequence byte following seq.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
