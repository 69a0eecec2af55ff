package models

import (
	"fmt"
	"strings"
	"time"
)

// MaxDataLength is the payload capacity of a classic CAN frame
const MaxDataLength = 8

// Direction of a journaled frame relative to the emulator
type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// CANFrame represents a CAN 2.0 frame
type CANFrame struct {
	ID   uint32
	DLC  uint8
	Data [MaxDataLength]byte
}

// Payload returns the first DLC bytes of the frame.
// A DLC above 8 is clamped to the frame capacity.
func (f CANFrame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// String formats the frame the way candump prints it
func (f CANFrame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%03X [%d]", f.ID, f.DLC)
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}

// CANMessage includes the CAN frame and timestamp
type CANMessage struct {
	Frame     CANFrame
	Timestamp time.Time
	Interface string
	Direction Direction
}

// CANMessageResponse represents a journaled CAN message in API response
type CANMessageResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Interface string    `json:"interface"`
	Direction string    `json:"direction"`
	CANID     uint32    `json:"can_id"`
	CANIDHex  string    `json:"can_id_hex"`
	DLC       uint8     `json:"dlc"`
	Data      []uint8   `json:"data"`
	DataHex   string    `json:"data_hex"`
}
