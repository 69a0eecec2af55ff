package isotp

import (
	"fmt"
	"time"
)

// FlowStatus is the low nibble of a flow control frame
type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = iota
	FlowStatusWait
	FlowStatusOverflow
)

func (s FlowStatus) String() string {
	switch s {
	case FlowStatusContinueToSend:
		return "CTS"
	case FlowStatusWait:
		return "WAIT"
	case FlowStatusOverflow:
		return "OVFLW"
	}
	return fmt.Sprintf("FlowStatus(%d)", uint8(s))
}

// maxSeparationTime is the first STmin value the emulator does not honour.
// 0x7F and the 0xF1-0xF9 microsecond range all fall back to no delay.
const maxSeparationTime = 127

// FlowControl is a parsed flow control directive
type FlowControl struct {
	Status         FlowStatus
	BlockSize      uint8
	SeparationTime uint8
}

// ParseFlowControl decodes a flow control frame payload. Unknown status
// values are returned as-is; Transfer.Apply rejects them.
func ParseFlowControl(data []byte) (FlowControl, error) {
	if !IsFlowControl(data) {
		return FlowControl{}, ErrNotFlowControl
	}
	if len(data) < 3 {
		return FlowControl{}, ErrShortFlowControl
	}
	return FlowControl{
		Status:         FlowStatus(data[0] & 0x0F),
		BlockSize:      data[1],
		SeparationTime: data[2],
	}, nil
}

// Encode builds the flow control frame a receiver would send
func (fc FlowControl) Encode(padding byte) [FrameLength]byte {
	f := newFrame(padding)
	f[0] = pciFlowControl | byte(fc.Status)&0x0F
	f[1] = fc.BlockSize
	f[2] = fc.SeparationTime
	return f
}

// Separation is the delay between consecutive frames of one block
func (fc FlowControl) Separation() time.Duration {
	if fc.SeparationTime >= maxSeparationTime {
		return 0
	}
	return time.Duration(fc.SeparationTime) * time.Millisecond
}

func (fc FlowControl) String() string {
	return fmt.Sprintf("%s bs=%d st=%d", fc.Status, fc.BlockSize, fc.SeparationTime)
}

// State of a transfer as seen by the sender
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstFlowControl
	StateSending
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstFlowControl:
		return "awaiting-first-flow-control"
	case StateSending:
		return "sending"
	case StatePaused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transmission is a frame to put on the bus after waiting Delay
// since the previous frame went out.
type Transmission struct {
	Data  [FrameLength]byte
	Delay time.Duration
}

// Transfer drives a Message through the flow control handshake. The zero
// value is an idle transfer.
type Transfer struct {
	msg   *Message
	state State
}

// NewTransfer starts a transfer whose first frame has just been sent
func NewTransfer(msg *Message) *Transfer {
	if msg == nil || msg.Done() {
		return &Transfer{}
	}
	return &Transfer{msg: msg, state: StateAwaitingFirstFlowControl}
}

// State returns the current sender state
func (t *Transfer) State() State {
	return t.state
}

// Pending reports whether consecutive frames are still owed to the peer
func (t *Transfer) Pending() bool {
	return t.state != StateIdle
}

// Message returns the segmented message being sent, nil when idle
func (t *Transfer) Message() *Message {
	return t.msg
}

// Apply consumes one flow control directive and returns the consecutive
// frames it authorises, in sequence order. The first frame of a block has no
// delay; the rest of the block is spaced by the separation time.
func (t *Transfer) Apply(fc FlowControl) ([]Transmission, error) {
	if t.state == StateIdle {
		return nil, ErrNoTransfer
	}

	switch fc.Status {
	case FlowStatusContinueToSend:
		t.state = StateSending
		t.msg.ResetBlock()

		var gap time.Duration
		if fc.BlockSize > 1 {
			gap = fc.Separation()
		}

		frames, err := t.msg.Next(int(fc.BlockSize))
		if err != nil {
			t.finish()
			return nil, err
		}

		out := make([]Transmission, len(frames))
		for i, f := range frames {
			out[i].Data = f
			if i > 0 {
				out[i].Delay = gap
			}
		}

		if t.msg.Done() {
			t.finish()
		} else {
			t.state = StatePaused
		}
		return out, nil

	case FlowStatusWait:
		return nil, nil

	case FlowStatusOverflow:
		t.msg.Abort()
		t.finish()
		return nil, nil
	}

	return nil, fmt.Errorf("%w: 0x%X", ErrUnrecognizedFlowStatus, uint8(fc.Status))
}

// Cancel abandons the transfer without sending anything further
func (t *Transfer) Cancel() {
	if t.msg != nil {
		t.msg.Abort()
	}
	t.finish()
}

func (t *Transfer) finish() {
	t.msg = nil
	t.state = StateIdle
}
