package isotp

import "fmt"

// Reassembler rebuilds a message from a stream of single, first and
// consecutive frames. The first frame's declared length decides where the
// data ends, so padding in the last consecutive frame is never returned.
type Reassembler struct {
	buf     []byte
	total   int
	nextSeq uint8
	active  bool
}

// Feed consumes one frame payload. It returns the complete message once the
// last byte has arrived, and nil while a multi-frame message is still open.
// An empty single frame yields a non-nil empty message.
// Flow control frames are not part of a message and return ErrUnknownFrameType.
func (r *Reassembler) Feed(data []byte) ([]byte, error) {
	t, err := TypeOf(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case SingleFrame:
		r.Reset()
		n := int(data[0] & 0x0F)
		if n > len(data)-1 {
			return nil, fmt.Errorf("%w: single frame length %d", ErrInvalidLength, n)
		}
		msg := make([]byte, n)
		copy(msg, data[1:1+n])
		return msg, nil

	case FirstFrame:
		r.Reset()
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: first frame shorter than 2 bytes", ErrInvalidLength)
		}
		total := int(data[0]&0x0F)<<8 | int(data[1])
		if total <= MaxSingleFrameLength {
			return nil, fmt.Errorf("%w: first frame length %d", ErrInvalidLength, total)
		}
		r.total = total
		r.buf = make([]byte, 0, total)
		r.nextSeq = 1
		r.active = true
		r.append(data[2:])
		return nil, nil

	case ConsecutiveFrame:
		if !r.active {
			return nil, ErrUnexpectedConsecutive
		}
		seq := data[0] & 0x0F
		if seq != r.nextSeq {
			want := r.nextSeq
			r.Reset()
			return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongSequence, seq, want)
		}
		r.nextSeq = (r.nextSeq + 1) & 0x0F
		r.append(data[1:])
		if len(r.buf) < r.total {
			return nil, nil
		}
		msg := r.buf
		r.Reset()
		return msg, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownFrameType, t)
}

// InProgress reports whether a first frame has been seen and data is missing
func (r *Reassembler) InProgress() bool {
	return r.active
}

// Reset drops any partially received message
func (r *Reassembler) Reset() {
	r.buf = nil
	r.total = 0
	r.nextSeq = 0
	r.active = false
}

func (r *Reassembler) append(chunk []byte) {
	if missing := r.total - len(r.buf); len(chunk) > missing {
		chunk = chunk[:missing]
	}
	r.buf = append(r.buf, chunk...)
}
