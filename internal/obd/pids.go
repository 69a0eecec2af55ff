package obd

import (
	"fmt"
	"obd-emulator/internal/isotp"
	"sort"
)

// Service 01 PIDs
const (
	PIDSupported01To20          byte = 0x00
	PIDEngineLoad               byte = 0x04
	PIDCoolantTemperature       byte = 0x05
	PIDIntakeManifoldPressure   byte = 0x0B
	PIDEngineRPM                byte = 0x0C
	PIDVehicleSpeed             byte = 0x0D
	PIDIntakeAirTemperature     byte = 0x0F
	PIDMassAirFlow              byte = 0x10
	PIDThrottlePosition         byte = 0x11
	PIDSupported21To40          byte = 0x20
	PIDSupported41To60          byte = 0x40
	PIDControlModuleVoltage     byte = 0x42
	PIDAbsoluteLoad             byte = 0x43
	PIDCommandedEquivalentRatio byte = 0x44
	PIDEngineFuelRate           byte = 0x5E
)

// readingLengthByte is byte 0 of every Service 01 reading response,
// whatever the reading width.
const readingLengthByte = 0x02

// PIDRule describes the synthetic reading returned for one PID
type PIDRule struct {
	PID   byte
	Label string
	Width int    // reading bytes, 1 or 2
	Value uint16 // big-endian when Width is 2
}

// Reading returns the Width reading bytes
func (r PIDRule) Reading() []byte {
	if r.Width == 2 {
		return []byte{byte(r.Value >> 8), byte(r.Value)}
	}
	return []byte{byte(r.Value)}
}

// Response builds the 8-byte positive response payload:
// length, 0x40+service, PID, reading bytes, zero filler.
func (r PIDRule) Response(service byte) [isotp.FrameLength]byte {
	var data [isotp.FrameLength]byte
	data[0] = readingLengthByte
	data[1] = responseServiceFlag + service
	data[2] = r.PID
	copy(data[3:], r.Reading())
	return data
}

func (r PIDRule) String() string {
	return fmt.Sprintf("0x%02X %s (% X)", r.PID, r.Label, r.Reading())
}

// DefaultPIDRules are the Service 01 PIDs the emulator answers.
// Every reading byte defaults to 20.
var DefaultPIDRules = []PIDRule{
	{PID: PIDEngineLoad, Label: "Engine load (%)", Width: 1, Value: 20},
	{PID: PIDCoolantTemperature, Label: "Engine coolant temperature (C)", Width: 1, Value: 20},
	{PID: PIDIntakeManifoldPressure, Label: "Intake manifold absolute pressure (kPa)", Width: 1, Value: 20},
	{PID: PIDEngineRPM, Label: "Engine RPM", Width: 2, Value: 0x1400},
	{PID: PIDVehicleSpeed, Label: "Vehicle speed (km/h)", Width: 1, Value: 20},
	{PID: PIDIntakeAirTemperature, Label: "Intake air temperature (C)", Width: 1, Value: 20},
	{PID: PIDMassAirFlow, Label: "Mass air flow (g/s)", Width: 2, Value: 0x1414},
	{PID: PIDThrottlePosition, Label: "Throttle position (%)", Width: 1, Value: 20},
	{PID: PIDControlModuleVoltage, Label: "Control module voltage (V)", Width: 2, Value: 0x1414},
	{PID: PIDAbsoluteLoad, Label: "Absolute load value (%)", Width: 2, Value: 0x1414},
	{PID: PIDCommandedEquivalentRatio, Label: "Commanded air-fuel equivalence ratio", Width: 2, Value: 0x1414},
	{PID: PIDEngineFuelRate, Label: "Engine fuel rate (L/h)", Width: 2, Value: 0x1414},
}

// PIDTable maps Service 01 PIDs to their rules. It is built once at
// startup and only read afterwards.
type PIDTable struct {
	rules map[byte]PIDRule
}

// NewPIDTable builds a table from rules, applying value overrides keyed by PID.
// Overrides for PIDs without a rule are rejected.
func NewPIDTable(rules []PIDRule, overrides map[byte]uint16) (*PIDTable, error) {
	t := &PIDTable{rules: make(map[byte]PIDRule, len(rules))}
	for _, r := range rules {
		if r.Width != 1 && r.Width != 2 {
			return nil, fmt.Errorf("PID 0x%02X: reading width %d, must be 1 or 2", r.PID, r.Width)
		}
		if isSupportedPIDQuery(r.PID) {
			return nil, fmt.Errorf("PID 0x%02X is reserved for supported-PID queries", r.PID)
		}
		t.rules[r.PID] = r
	}

	for pid, v := range overrides {
		r, ok := t.rules[pid]
		if !ok {
			return nil, fmt.Errorf("%w: no rule for override PID 0x%02X", ErrUnsupportedPID, pid)
		}
		if r.Width == 1 && v > 0xFF {
			return nil, fmt.Errorf("PID 0x%02X: value 0x%X does not fit one byte", pid, v)
		}
		r.Value = v
		t.rules[pid] = r
	}
	return t, nil
}

// DefaultPIDTable returns the table built from DefaultPIDRules
func DefaultPIDTable() *PIDTable {
	t, _ := NewPIDTable(DefaultPIDRules, nil)
	return t
}

// Lookup returns the rule for a Service 01 PID
func (t *PIDTable) Lookup(service, pid byte) (PIDRule, bool) {
	if service != ServiceCurrentData {
		return PIDRule{}, false
	}
	r, ok := t.rules[pid]
	return r, ok
}

// Rules returns every rule ordered by PID
func (t *PIDTable) Rules() []PIDRule {
	rules := make([]PIDRule, 0, len(t.rules))
	for _, r := range t.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].PID < rules[j].PID })
	return rules
}

// SupportedMask answers a supported-PIDs query for the range base+1..base+0x20.
// The most significant bit stands for base+1; the least significant bit is
// set when a higher range has PIDs. Ranges beyond the first are only
// reported when they, or a later range, contain PIDs.
func (t *PIDTable) SupportedMask(base byte) (uint32, bool) {
	if !isSupportedPIDQuery(base) {
		return 0, false
	}
	if base != PIDSupported01To20 && !t.hasAbove(base) {
		return 0, false
	}

	var mask uint32
	for pid := range t.rules {
		if pid > base && int(pid) <= int(base)+0x20 {
			mask |= 1 << (31 - uint(pid-base-1))
		}
	}
	if int(base)+0x20 <= 0xFF && t.hasAbove(base+0x20) {
		mask |= 1
	}
	return mask, true
}

func (t *PIDTable) hasAbove(pid byte) bool {
	for p := range t.rules {
		if p > pid {
			return true
		}
	}
	return false
}

func isSupportedPIDQuery(pid byte) bool {
	return pid%0x20 == 0
}
