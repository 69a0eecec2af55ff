// Package emulator runs the frame loop between a CAN bus and a diagnostic
// session: one inbound frame is handled to completion, and its responses
// are transmitted in order, before the next frame is taken.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"obd-emulator/internal/database"
	"obd-emulator/internal/models"
	"obd-emulator/internal/obd"
	"time"
)

// ErrBusClosed is returned by Run when the bus stops delivering frames
var ErrBusClosed = errors.New("emulator: bus closed")

// Bus is the transport the emulator reads requests from and writes responses to
type Bus interface {
	Interface() string
	GetMessageChannel() <-chan models.CANMessage
	GetErrorChannel() <-chan error
	WriteFrame(frame models.CANFrame) error
}

// Handler turns one inbound frame into the frames to send back
type Handler interface {
	Handle(frame models.CANFrame) []obd.Outbound
}

// Config wires an Emulator
type Config struct {
	Bus     Bus
	Handler Handler
	Journal database.Writer // optional
	Logger  *log.Logger
	Verbose bool // dump every frame
}

// Emulator answers diagnostic requests arriving on a bus
type Emulator struct {
	bus     Bus
	handler Handler
	journal database.Writer
	logger  *log.Logger
	verbose bool

	received    uint64
	transmitted uint64
}

// New creates an emulator
func New(cfg Config) (*Emulator, error) {
	if cfg.Bus == nil {
		return nil, errors.New("emulator: no bus")
	}
	if cfg.Handler == nil {
		return nil, errors.New("emulator: no handler")
	}
	if cfg.Journal == nil {
		cfg.Journal = database.Fanout{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Emulator{
		bus:     cfg.Bus,
		handler: cfg.Handler,
		journal: cfg.Journal,
		logger:  cfg.Logger,
		verbose: cfg.Verbose,
	}, nil
}

// Run processes frames until ctx is done, returning nil in that case.
// Transport failures end the loop and are returned.
func (e *Emulator) Run(ctx context.Context) error {
	msgChan := e.bus.GetMessageChannel()
	errChan := e.bus.GetErrorChannel()

	e.logger.Printf("Emulating ECU on %s", e.bus.Interface())

	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("Stopping emulator: %d frames received, %d transmitted", e.received, e.transmitted)
			return nil

		case err := <-errChan:
			return fmt.Errorf("transport error on %s: %w", e.bus.Interface(), err)

		case msg, ok := <-msgChan:
			if !ok {
				return ErrBusClosed
			}
			if err := e.process(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				return err
			}
		}
	}
}

// process handles one inbound message and transmits its responses
func (e *Emulator) process(ctx context.Context, msg models.CANMessage) error {
	e.received++
	e.journal.Write(msg)
	if e.verbose {
		e.logger.Printf("RX %s", msg.Frame)
	}

	for _, out := range e.handler.Handle(msg.Frame) {
		if err := wait(ctx, out.Delay); err != nil {
			return err
		}

		if err := e.bus.WriteFrame(out.Frame); err != nil {
			return fmt.Errorf("transport error on %s: %w", e.bus.Interface(), err)
		}
		e.transmitted++

		e.journal.Write(models.CANMessage{
			Frame:     out.Frame,
			Timestamp: time.Now().UTC(),
			Interface: e.bus.Interface(),
			Direction: models.DirectionTX,
		})
		if e.verbose {
			e.logger.Printf("TX %s", out)
		}
	}
	return nil
}

// wait blocks for d or until ctx is done
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
