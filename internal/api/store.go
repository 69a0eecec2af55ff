package api

import (
	"context"
	"errors"
	"fmt"
	"obd-emulator/internal/models"
	"time"
)

// ErrNotSupported is returned by stores that cannot answer a query
var ErrNotSupported = errors.New("not supported by this journal back-end")

// JournalStore reads the traffic journal written by the emulator
type JournalStore interface {
	// Name identifies the back-end in health responses
	Name() string

	// Ping checks that the back-end is reachable
	Ping(ctx context.Context) error

	// Frames returns journaled frames, newest first
	Frames(ctx context.Context, params models.QueryParams) ([]models.CANMessageResponse, error)

	// CountFrames returns the number of journaled frames matching params
	CountFrames(ctx context.Context, params models.QueryParams) (uint64, error)

	// LatestHealth returns the newest bus health snapshot of an interface
	LatestHealth(ctx context.Context, iface string) (models.BusHealth, error)

	Close() error
}

// frameResponse builds the API representation of one journaled frame
func frameResponse(timestamp time.Time, iface, direction string, canID uint32, data []uint8) models.CANMessageResponse {
	if data == nil {
		data = []uint8{}
	}
	return models.CANMessageResponse{
		Timestamp: timestamp,
		Interface: iface,
		Direction: direction,
		CANID:     canID,
		CANIDHex:  fmt.Sprintf("0x%03X", canID),
		DLC:       uint8(len(data)),
		Data:      data,
		DataHex:   fmt.Sprintf("% 02X", data),
	}
}
