// Package isotp implements the ISO 15765-2 transport subset used by the
// emulator: single frames, first/consecutive frame segmentation and the
// flow-control handshake that paces consecutive frames.
package isotp

import (
	"errors"
	"fmt"
)

const (
	// FrameLength is the size of every transmitted CAN payload
	FrameLength = 8
	// MaxSingleFrameLength is the largest message carried by a single frame
	MaxSingleFrameLength = 7
	// MaxMessageLength is the limit of the 12-bit first frame length field
	MaxMessageLength = 4095

	firstFrameDataLength       = 6
	consecutiveFrameDataLength = 7
)

// Protocol control information types (high nibble of byte 0)
const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30
)

// FrameType identifies an ISO-TP frame by its PCI nibble
type FrameType uint8

const (
	SingleFrame FrameType = iota
	FirstFrame
	ConsecutiveFrame
	FlowControlFrame
)

func (t FrameType) String() string {
	switch t {
	case SingleFrame:
		return "SINGLE_FRAME"
	case FirstFrame:
		return "FIRST_FRAME"
	case ConsecutiveFrame:
		return "CONSECUTIVE_FRAME"
	case FlowControlFrame:
		return "FLOW_CONTROL"
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

var (
	ErrEmptyFrame             = errors.New("isotp: empty frame")
	ErrUnknownFrameType       = errors.New("isotp: unknown frame type")
	ErrMessageTooLong         = errors.New("isotp: message exceeds 4095 bytes")
	ErrNothingToSend          = errors.New("isotp: nothing to send")
	ErrNotFlowControl         = errors.New("isotp: not a flow control frame")
	ErrShortFlowControl       = errors.New("isotp: flow control frame shorter than 3 bytes")
	ErrUnrecognizedFlowStatus = errors.New("isotp: unrecognized flow status")
	ErrNoTransfer             = errors.New("isotp: no transfer pending")
	ErrWrongSequence          = errors.New("isotp: wrong sequence number in consecutive frame")
	ErrUnexpectedConsecutive  = errors.New("isotp: consecutive frame without first frame")
	ErrInvalidLength          = errors.New("isotp: invalid length field")
)

// TypeOf returns the frame type encoded in the first payload byte.
func TypeOf(data []byte) (FrameType, error) {
	if len(data) == 0 {
		return 0, ErrEmptyFrame
	}
	t := FrameType(data[0] >> 4)
	if t > FlowControlFrame {
		return 0, fmt.Errorf("%w: 0x%X", ErrUnknownFrameType, data[0]>>4)
	}
	return t, nil
}

// IsFlowControl reports whether data carries a flow control PCI
func IsFlowControl(data []byte) bool {
	return len(data) > 0 && data[0]&0xF0 == pciFlowControl
}

func newFrame(padding byte) [FrameLength]byte {
	var f [FrameLength]byte
	if padding != 0 {
		for i := range f {
			f[i] = padding
		}
	}
	return f
}

// EncodeSingleFrame builds a single frame for a message of at most 7 bytes.
func EncodeSingleFrame(msg []byte, padding byte) ([FrameLength]byte, error) {
	if len(msg) > MaxSingleFrameLength {
		return [FrameLength]byte{}, fmt.Errorf("single frame payload of %d bytes exceeds %d", len(msg), MaxSingleFrameLength)
	}
	f := newFrame(padding)
	f[0] = pciSingleFrame | byte(len(msg))
	copy(f[1:], msg)
	return f, nil
}

func encodeFirstFrame(msg []byte, padding byte) [FrameLength]byte {
	f := newFrame(padding)
	f[0] = pciFirstFrame | byte(len(msg)>>8&0x0F)
	f[1] = byte(len(msg) & 0xFF)
	copy(f[2:], msg[:firstFrameDataLength])
	return f
}

func encodeConsecutiveFrame(chunk []byte, seq uint8, padding byte) [FrameLength]byte {
	f := newFrame(padding)
	f[0] = pciConsecutiveFrame | seq&0x0F
	copy(f[1:], chunk)
	return f
}
