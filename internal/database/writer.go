package database

import (
	"errors"
	"obd-emulator/internal/models"
)

// Writer defines the interface for traffic journal writers
type Writer interface {
	// Start begins processing and writing messages
	Start()

	// Write queues a message for writing. It never blocks.
	Write(msg models.CANMessage)

	// Close flushes pending messages and releases the connection
	Close() error
}

// Fanout hands every message to each of its writers
type Fanout []Writer

// Start starts all writers
func (f Fanout) Start() {
	for _, w := range f {
		w.Start()
	}
}

// Write queues msg on all writers
func (f Fanout) Write(msg models.CANMessage) {
	for _, w := range f {
		w.Write(msg)
	}
}

// Close closes all writers and joins their errors
func (f Fanout) Close() error {
	var errs []error
	for _, w := range f {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
