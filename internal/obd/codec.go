// Package obd answers OBD-II diagnostic requests the way an engine ECU would.
package obd

import (
	"errors"
	"fmt"
	"obd-emulator/internal/models"
)

// CAN identifiers used by the emulator
const (
	BroadcastRequestID  uint32 = 0x7DF
	ECUFlowControlID    uint32 = 0x7E0
	ECUResponseID       uint32 = 0x7E8
	VendorRequestID     uint32 = 0x761
	VendorResponseID    uint32 = 0x762
	VendorFlowControlID uint32 = VendorRequestID
)

// positive responses echo the service with this bit set
const responseServiceFlag = 0x40

// Diagnostic services
const (
	ServiceCurrentData        byte = 0x01
	ServiceVehicleInformation byte = 0x09
)

var (
	ErrInvalidLength      = errors.New("obd: payload longer than 8 bytes")
	ErrFrameTooShort      = errors.New("obd: frame too short for service and PID")
	ErrUnsupportedService = errors.New("obd: unsupported service")
	ErrUnsupportedPID     = errors.New("obd: unsupported PID")
	ErrUnsupportedRequest = errors.New("obd: unsupported vendor request")
)

// Request is the service/PID pair carried by a single-frame query
type Request struct {
	Service byte
	PID     byte
}

func (r Request) String() string {
	return fmt.Sprintf("service 0x%02X PID 0x%02X", r.Service, r.PID)
}

// EncodeFrame builds a frame with DLC len(data). Unused data bytes stay zero.
func EncodeFrame(id uint32, data []byte) (models.CANFrame, error) {
	if len(data) > models.MaxDataLength {
		return models.CANFrame{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(data))
	}
	f := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// DecodeRequest reads the service and PID from bytes 1 and 2 of a
// single-frame query; byte 0 is the ISO-TP length.
func DecodeRequest(f models.CANFrame) (Request, error) {
	if f.DLC < 2 {
		return Request{}, fmt.Errorf("%w: DLC = %d", ErrFrameTooShort, f.DLC)
	}
	return Request{Service: f.Data[1], PID: f.Data[2]}, nil
}
