package isotp

// Message is one in-progress multi-frame transfer. It holds the bytes not yet
// placed into a consecutive frame and the sequence number of the next one.
type Message struct {
	total     int
	remaining []byte
	seq       uint8
	padding   byte

	sentSinceFlowControl int
}

// Segment encodes msg for transmission. Messages of up to 7 bytes become a
// single frame and the returned *Message is nil. Longer messages return the
// first frame together with a Message that yields the consecutive frames.
func Segment(msg []byte, padding byte) ([FrameLength]byte, *Message, error) {
	if len(msg) <= MaxSingleFrameLength {
		f, err := EncodeSingleFrame(msg, padding)
		return f, nil, err
	}
	if len(msg) > MaxMessageLength {
		return [FrameLength]byte{}, nil, ErrMessageTooLong
	}

	remaining := make([]byte, len(msg)-firstFrameDataLength)
	copy(remaining, msg[firstFrameDataLength:])

	return encodeFirstFrame(msg, padding), &Message{
		total:     len(msg),
		remaining: remaining,
		seq:       1,
		padding:   padding,
	}, nil
}

// Next emits up to n consecutive frames, or all of them when n <= 0.
// It returns ErrNothingToSend once the message is exhausted.
func (m *Message) Next(n int) ([][FrameLength]byte, error) {
	if m.Done() {
		return nil, ErrNothingToSend
	}
	if n <= 0 || n > m.FramesLeft() {
		n = m.FramesLeft()
	}

	frames := make([][FrameLength]byte, 0, n)
	for i := 0; i < n; i++ {
		chunk := m.remaining
		if len(chunk) > consecutiveFrameDataLength {
			chunk = chunk[:consecutiveFrameDataLength]
		}
		frames = append(frames, encodeConsecutiveFrame(chunk, m.seq, m.padding))
		m.remaining = m.remaining[len(chunk):]
		m.seq = (m.seq + 1) & 0x0F
		m.sentSinceFlowControl++
	}
	return frames, nil
}

// Abort discards every byte still pending
func (m *Message) Abort() {
	m.remaining = nil
}

// ResetBlock restarts the per-flow-control frame counter
func (m *Message) ResetBlock() {
	m.sentSinceFlowControl = 0
}

// Done reports whether every byte has been placed into a frame
func (m *Message) Done() bool {
	return len(m.remaining) == 0
}

// FramesLeft is the number of consecutive frames still to be sent
func (m *Message) FramesLeft() int {
	return (len(m.remaining) + consecutiveFrameDataLength - 1) / consecutiveFrameDataLength
}

func (m *Message) TotalLength() int          { return m.total }
func (m *Message) RemainingBytes() int       { return len(m.remaining) }
func (m *Message) NextSequence() uint8       { return m.seq }
func (m *Message) SentSinceFlowControl() int { return m.sentSinceFlowControl }
