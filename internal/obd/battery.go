package obd

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vendor battery-health request: any length byte, then service 0x21 local
// identifier 0x01. The response echoes both with 0x40 added to the service.
const (
	VendorServiceReadLocalID byte = 0x21
	VendorLocalIDBattery     byte = 0x01
)

// BatteryMessageLength is the size of the battery-health response
const BatteryMessageLength = 55

// Byte offsets inside the battery-health response
const (
	batOffsetSOC               = 2  // 0.5 %
	batOffsetChargePower       = 3  // 0.01 kW
	batOffsetDischargePower    = 5  // 0.01 kW
	batOffsetRelayStatus       = 7  // bit flags
	batOffsetCurrent           = 8  // 0.1 A, signed
	batOffsetVoltage           = 10 // 0.1 V
	batOffsetModuleTemps       = 12 // six modules, signed C
	batOffsetInletTemp         = 18 // signed C
	batOffsetMaxCellVoltage    = 19 // 0.02 V
	batOffsetMaxCellNumber     = 20
	batOffsetMinCellVoltage    = 21 // 0.02 V
	batOffsetMinCellNumber     = 22
	batOffsetFanStatus         = 23
	batOffsetFanSpeed          = 24
	batOffsetAuxVoltage        = 25 // 0.1 V
	batOffsetChargedAh         = 27 // 0.1 Ah
	batOffsetDischargedAh      = 31 // 0.1 Ah
	batOffsetChargedEnergy     = 35 // 0.1 kWh
	batOffsetDischargedEnergy  = 39 // 0.1 kWh
	batOffsetOperatingTime     = 43 // seconds
	batOffsetStateOfHealth     = 47 // 0.1 %
	batteryModuleCount         = 6
	batteryRelayMainClosedFlag = 0x01
)

// BatteryStatus holds the synthetic readings reported by the battery-health query
type BatteryStatus struct {
	StateOfCharge      float64 // %
	StateOfHealth      float64 // %
	PackVoltage        float64 // V
	PackCurrent        float64 // A, negative while charging
	ChargePower        float64 // kW available
	DischargePower     float64 // kW available
	ModuleTemperatures [batteryModuleCount]int8
	InletTemperature   int8
	MaxCellVoltage     float64 // V
	MaxCellNumber      uint8
	MinCellVoltage     float64 // V
	MinCellNumber      uint8
	FanSpeed           uint8
	AuxVoltage         float64 // V
	ChargedAh          float64
	DischargedAh       float64
	ChargedEnergy      float64 // kWh
	DischargedEnergy   float64 // kWh
	OperatingTime      uint32  // seconds
}

// DefaultBatteryStatus is a healthy, resting 96-cell pack
func DefaultBatteryStatus() BatteryStatus {
	return BatteryStatus{
		StateOfCharge:      80,
		StateOfHealth:      97.5,
		PackVoltage:        375.2,
		PackCurrent:        -1.5,
		ChargePower:        98.5,
		DischargePower:     98.5,
		ModuleTemperatures: [batteryModuleCount]int8{21, 21, 22, 22, 21, 20},
		InletTemperature:   19,
		MaxCellVoltage:     3.92,
		MaxCellNumber:      17,
		MinCellVoltage:     3.88,
		MinCellNumber:      62,
		AuxVoltage:         12.6,
		ChargedAh:          10234.5,
		DischargedAh:       9876.1,
		ChargedEnergy:      3712.4,
		DischargedEnergy:   3590.8,
		OperatingTime:      4_512_345,
	}
}

// Validate rejects readings that do not fit their wire encoding
func (b BatteryStatus) Validate() error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"state of charge", b.StateOfCharge, 0, 100},
		{"state of health", b.StateOfHealth, 0, 100},
		{"pack voltage", b.PackVoltage, 0, 6553.5},
		{"pack current", b.PackCurrent, -3276.8, 3276.7},
		{"max cell voltage", b.MaxCellVoltage, 0, 5.1},
		{"min cell voltage", b.MinCellVoltage, 0, 5.1},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("battery %s %.2f outside %.1f..%.1f", c.name, c.value, c.min, c.max)
		}
	}
	return nil
}

// Encode builds the 55-byte battery-health response, 61 01 first
func (b BatteryStatus) Encode() []byte {
	msg := make([]byte, BatteryMessageLength)
	msg[0] = responseServiceFlag + VendorServiceReadLocalID
	msg[1] = VendorLocalIDBattery

	be := binary.BigEndian
	msg[batOffsetSOC] = scale8(b.StateOfCharge, 2)
	be.PutUint16(msg[batOffsetChargePower:], scale16(b.ChargePower, 100))
	be.PutUint16(msg[batOffsetDischargePower:], scale16(b.DischargePower, 100))
	msg[batOffsetRelayStatus] = batteryRelayMainClosedFlag
	be.PutUint16(msg[batOffsetCurrent:], uint16(int16(math.Round(b.PackCurrent*10))))
	be.PutUint16(msg[batOffsetVoltage:], scale16(b.PackVoltage, 10))
	for i, t := range b.ModuleTemperatures {
		msg[batOffsetModuleTemps+i] = byte(t)
	}
	msg[batOffsetInletTemp] = byte(b.InletTemperature)
	msg[batOffsetMaxCellVoltage] = scale8(b.MaxCellVoltage, 50)
	msg[batOffsetMaxCellNumber] = b.MaxCellNumber
	msg[batOffsetMinCellVoltage] = scale8(b.MinCellVoltage, 50)
	msg[batOffsetMinCellNumber] = b.MinCellNumber
	if b.FanSpeed > 0 {
		msg[batOffsetFanStatus] = 1
	}
	msg[batOffsetFanSpeed] = b.FanSpeed
	be.PutUint16(msg[batOffsetAuxVoltage:], scale16(b.AuxVoltage, 10))
	be.PutUint32(msg[batOffsetChargedAh:], scale32(b.ChargedAh, 10))
	be.PutUint32(msg[batOffsetDischargedAh:], scale32(b.DischargedAh, 10))
	be.PutUint32(msg[batOffsetChargedEnergy:], scale32(b.ChargedEnergy, 10))
	be.PutUint32(msg[batOffsetDischargedEnergy:], scale32(b.DischargedEnergy, 10))
	be.PutUint32(msg[batOffsetOperatingTime:], b.OperatingTime)
	be.PutUint16(msg[batOffsetStateOfHealth:], scale16(b.StateOfHealth, 10))
	return msg
}

// isBatteryRequest matches [*, 0x21, 0x01] on the vendor request identifier
func isBatteryRequest(data []byte) bool {
	return len(data) >= 3 && data[1] == VendorServiceReadLocalID && data[2] == VendorLocalIDBattery
}

func scale8(v, factor float64) byte {
	return byte(clamp(math.Round(v*factor), 0, math.MaxUint8))
}

func scale16(v, factor float64) uint16 {
	return uint16(clamp(math.Round(v*factor), 0, math.MaxUint16))
}

func scale32(v, factor float64) uint32 {
	return uint32(clamp(math.Round(v*factor), 0, math.MaxUint32))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
