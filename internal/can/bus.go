package can

import (
	"errors"
	"fmt"
	"obd-emulator/internal/models"
	"sync"
	"time"

	brutella "github.com/brutella/can"
	"golang.org/x/sys/unix"
)

const (
	CAN_RAW = 1

	// size of struct can_frame
	frameSize = 16
)

// ErrClosed is returned by WriteFrame after Close
var ErrClosed = errors.New("can: bus closed")

// errNotStandardFrame marks extended, remote and error frames, which the
// read loop skips
var errNotStandardFrame = errors.New("can: not a standard data frame")

// Bus is a raw SocketCAN socket bound to one interface. Received frames are
// delivered in order on the message channel; the first read error is
// delivered on the error channel and ends the read loop.
type Bus struct {
	socket    int
	ifname    string
	msgChan   chan models.CANMessage
	errorChan chan error

	mu     sync.Mutex
	closed bool
}

// Open creates a CAN bus for the specified interface
func Open(ifname string) (*Bus, error) {
	// Create a CAN socket
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	// Get interface index
	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to create ifreq: %w", err)
	}

	err = unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to get interface index of %s: %w", ifname, err)
	}

	// Bind socket to CAN interface
	addr := &unix.SockaddrCAN{
		Ifindex: int(ifreq.Uint32()),
	}

	err = unix.Bind(socket, addr)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to bind socket to %s: %w", ifname, err)
	}

	return &Bus{
		socket:    socket,
		ifname:    ifname,
		msgChan:   make(chan models.CANMessage, 64),
		errorChan: make(chan error, 1),
	}, nil
}

// Interface returns the name of the bound interface
func (b *Bus) Interface() string {
	return b.ifname
}

// Start begins reading CAN frames
func (b *Bus) Start() {
	go b.readLoop()
}

// readLoop reads CAN frames until the socket fails or is closed
func (b *Bus) readLoop() {
	defer close(b.msgChan)

	buf := make([]byte, frameSize)
	for {
		n, err := unix.Read(b.socket, buf)
		if err != nil {
			if !b.isClosed() {
				b.errorChan <- fmt.Errorf("read error: %w", err)
			}
			return
		}

		if n < frameSize {
			b.errorChan <- fmt.Errorf("incomplete CAN frame received: %d bytes", n)
			return
		}

		frame, err := decodeFrame(buf)
		if errors.Is(err, errNotStandardFrame) {
			continue
		}
		if err != nil {
			b.errorChan <- err
			return
		}

		b.msgChan <- models.CANMessage{
			Frame:     frame,
			Timestamp: time.Now().UTC(),
			Interface: b.ifname,
			Direction: models.DirectionRX,
		}
	}
}

// WriteFrame transmits one frame, always as a full 16-byte can_frame
func (b *Bus) WriteFrame(frame models.CANFrame) error {
	if b.isClosed() {
		return ErrClosed
	}

	buf, err := encodeFrame(frame)
	if err != nil {
		return err
	}

	n, err := unix.Write(b.socket, buf)
	if err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// GetMessageChannel returns the channel for receiving CAN messages
func (b *Bus) GetMessageChannel() <-chan models.CANMessage {
	return b.msgChan
}

// GetErrorChannel returns the channel for receiving errors
func (b *Bus) GetErrorChannel() <-chan error {
	return b.errorChan
}

// Close shuts the socket down, which also ends the read loop
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	unix.Shutdown(b.socket, unix.SHUT_RDWR)
	return unix.Close(b.socket)
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SetFilter limits reception to the given standard identifiers
func (b *Bus) SetFilter(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	if err := unix.SetsockoptCanRawFilter(b.socket, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, standardFilters(ids)); err != nil {
		return fmt.Errorf("failed to set filter: %w", err)
	}
	return nil
}

// standardFilters matches each id as an 11-bit identifier. The EFF bit is
// part of the mask so a 29-bit frame never matches.
func standardFilters(ids []uint32) []unix.CanFilter {
	filters := make([]unix.CanFilter, len(ids))
	for i, id := range ids {
		filters[i] = unix.CanFilter{Id: id & unix.CAN_SFF_MASK, Mask: unix.CAN_SFF_MASK | unix.CAN_EFF_FLAG}
	}
	return filters
}

// decodeFrame converts a kernel can_frame into a CANFrame
func decodeFrame(buf []byte) (models.CANFrame, error) {
	var raw brutella.Frame
	if err := brutella.Unmarshal(buf, &raw); err != nil {
		return models.CANFrame{}, fmt.Errorf("failed to decode CAN frame: %w", err)
	}
	if raw.ID&(unix.CAN_EFF_FLAG|unix.CAN_RTR_FLAG|unix.CAN_ERR_FLAG) != 0 {
		return models.CANFrame{}, fmt.Errorf("%w: id 0x%08X", errNotStandardFrame, raw.ID)
	}
	if raw.Length > models.MaxDataLength {
		return models.CANFrame{}, fmt.Errorf("invalid CAN frame length %d", raw.Length)
	}
	return models.CANFrame{
		ID:   raw.ID & unix.CAN_SFF_MASK,
		DLC:  raw.Length,
		Data: raw.Data,
	}, nil
}

// encodeFrame converts a CANFrame into a kernel can_frame
func encodeFrame(frame models.CANFrame) ([]byte, error) {
	if frame.DLC > models.MaxDataLength {
		return nil, fmt.Errorf("invalid CAN frame length %d", frame.DLC)
	}
	buf, err := brutella.Marshal(brutella.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CAN frame: %w", err)
	}
	return buf, nil
}
