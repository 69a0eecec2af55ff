package obd

import (
	"errors"
	"fmt"
	"log"
	"obd-emulator/internal/isotp"
	"obd-emulator/internal/models"
	"time"
)

// Outbound is a response frame and the delay to observe before sending it
type Outbound struct {
	Frame models.CANFrame
	Delay time.Duration
}

// SessionConfig holds the synthetic data a Session serves
type SessionConfig struct {
	PIDs    *PIDTable
	VIN     string
	Battery BatteryStatus
	Padding byte
	Logger  *log.Logger
}

// Session routes inbound diagnostic frames and owns the single multi-frame
// transfer that may be outstanding at any time.
type Session struct {
	pids    *PIDTable
	vin     string
	battery []byte
	padding byte
	logger  *log.Logger

	transfer      *isotp.Transfer
	responseID    uint32
	flowControlID uint32
}

// NewSession creates a session. Zero-valued config fields fall back to the
// default PID table, VIN and battery readings.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.PIDs == nil {
		cfg.PIDs = DefaultPIDTable()
	}
	if cfg.VIN == "" {
		cfg.VIN = DefaultVIN
	}
	if cfg.Battery == (BatteryStatus{}) {
		cfg.Battery = DefaultBatteryStatus()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	if err := ValidateVIN(cfg.VIN); err != nil {
		return nil, err
	}
	if err := cfg.Battery.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		pids:     cfg.PIDs,
		vin:      cfg.VIN,
		battery:  cfg.Battery.Encode(),
		padding:  cfg.Padding,
		logger:   cfg.Logger,
		transfer: &isotp.Transfer{},
	}, nil
}

// State returns the state of the outstanding multi-frame transfer
func (s *Session) State() isotp.State {
	return s.transfer.State()
}

// Handle processes one inbound frame to completion and returns the frames
// to transmit, in order. Malformed or unsupported requests are logged and
// produce no response.
func (s *Session) Handle(f models.CANFrame) []Outbound {
	switch f.ID {
	case BroadcastRequestID:
		s.logger.Printf("Received OBD query")
		return s.handleBroadcast(f)

	case ECUFlowControlID:
		if isotp.IsFlowControl(f.Payload()) {
			return s.handleFlowControl(f)
		}

	case VendorRequestID:
		if isotp.IsFlowControl(f.Payload()) {
			return s.handleFlowControl(f)
		}
		return s.handleVendor(f)
	}
	return nil
}

func (s *Session) handleBroadcast(f models.CANFrame) []Outbound {
	req, err := DecodeRequest(f)
	if err != nil {
		s.logger.Printf("Error, malformed request: %v", err)
		return nil
	}

	switch req.Service {
	case ServiceCurrentData:
		s.logger.Printf("Service 01: Show current data, PID 0x%02X", req.PID)
		s.cancelTransfer()
		return s.currentData(req)

	case ServiceVehicleInformation:
		s.logger.Printf("Service 09: Request vehicle information, PID 0x%02X", req.PID)
		s.cancelTransfer()
		return s.vehicleInformation(req)
	}

	s.logger.Printf("%v 0x%02X", ErrUnsupportedService, req.Service)
	return nil
}

func (s *Session) currentData(req Request) []Outbound {
	if isSupportedPIDQuery(req.PID) {
		mask, ok := s.pids.SupportedMask(req.PID)
		if !ok {
			s.logger.Printf("%v 0x%02X", ErrUnsupportedPID, req.PID)
			return nil
		}
		s.logger.Printf("Sending supported PIDs 0x%02X: %08X", req.PID, mask)
		msg := []byte{
			responseServiceFlag + req.Service, req.PID,
			byte(mask >> 24), byte(mask >> 16), byte(mask >> 8), byte(mask),
		}
		return s.send(ECUResponseID, ECUFlowControlID, msg)
	}

	rule, ok := s.pids.Lookup(req.Service, req.PID)
	if !ok {
		s.logger.Printf("%v 0x%02X", ErrUnsupportedPID, req.PID)
		return nil
	}
	s.logger.Printf("Sending %s", rule.Label)
	data := rule.Response(req.Service)
	return s.outbound(ECUResponseID, data[:], 0)
}

func (s *Session) vehicleInformation(req Request) []Outbound {
	switch req.PID {
	case PIDVehicleInfoSupported:
		s.logger.Printf("Sending Service 9 supported PIDs")
		return s.send(ECUResponseID, ECUFlowControlID, supportedVehicleInfoMessage())
	case PIDVIN:
		s.logger.Printf("Sending Vehicle Identification Number (VIN) %s", s.vin)
		return s.send(ECUResponseID, ECUFlowControlID, vinMessage(s.vin))
	}
	s.logger.Printf("%v 0x%02X", ErrUnsupportedPID, req.PID)
	return nil
}

func (s *Session) handleVendor(f models.CANFrame) []Outbound {
	if !isBatteryRequest(f.Payload()) {
		s.logger.Printf("%v: %s", ErrUnsupportedRequest, f)
		return nil
	}
	s.logger.Printf("Received battery health query")
	s.cancelTransfer()
	return s.send(VendorResponseID, VendorFlowControlID, s.battery)
}

func (s *Session) handleFlowControl(f models.CANFrame) []Outbound {
	if !s.transfer.Pending() || f.ID != s.flowControlID {
		s.logger.Printf("Ignoring flow control on 0x%03X: %v", f.ID, isotp.ErrNoTransfer)
		return nil
	}

	fc, err := isotp.ParseFlowControl(f.Payload())
	if err != nil {
		s.logger.Printf("Ignoring flow control on 0x%03X: %v", f.ID, err)
		return nil
	}

	txs, err := s.transfer.Apply(fc)
	switch {
	case errors.Is(err, isotp.ErrUnrecognizedFlowStatus):
		s.logger.Printf("Unrecognized flow control flag: %v, holding %s", err, s.transfer.State())
		return nil
	case err != nil:
		s.logger.Printf("Flow control %s: %v", fc, err)
		return nil
	}

	switch fc.Status {
	case isotp.FlowStatusWait:
		s.logger.Printf("Flow control wait, holding %s", s.transfer.State())
	case isotp.FlowStatusOverflow:
		s.logger.Printf("Flow control overflow, transfer abandoned")
	}

	if len(txs) == 0 {
		return nil
	}
	out := make([]Outbound, 0, len(txs))
	for _, tx := range txs {
		out = append(out, s.outbound(s.responseID, tx.Data[:], tx.Delay)...)
	}
	return out
}

// send transmits msg as a single frame, or as a first frame that opens a
// transfer paced by flow control received on flowControlID.
func (s *Session) send(responseID, flowControlID uint32, msg []byte) []Outbound {
	first, pending, err := isotp.Segment(msg, s.padding)
	if err != nil {
		s.logger.Printf("Error segmenting %d byte response: %v", len(msg), err)
		return nil
	}
	if pending != nil {
		s.transfer = isotp.NewTransfer(pending)
		s.responseID = responseID
		s.flowControlID = flowControlID
	}
	return s.outbound(responseID, first[:], 0)
}

func (s *Session) cancelTransfer() {
	if s.transfer.Pending() {
		s.logger.Printf("Abandoning %s transfer on 0x%03X", s.transfer.State(), s.responseID)
		s.transfer.Cancel()
	}
}

func (s *Session) outbound(id uint32, data []byte, delay time.Duration) []Outbound {
	f, err := EncodeFrame(id, data)
	if err != nil {
		s.logger.Printf("Error encoding frame: %v", err)
		return nil
	}
	return []Outbound{{Frame: f, Delay: delay}}
}

func (o Outbound) String() string {
	if o.Delay > 0 {
		return fmt.Sprintf("%s (after %v)", o.Frame, o.Delay)
	}
	return o.Frame.String()
}
