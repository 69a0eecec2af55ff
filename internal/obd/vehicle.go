package obd

import "fmt"

// Service 09 PIDs
const (
	PIDVehicleInfoSupported byte = 0x00
	PIDVIN                  byte = 0x02
)

// VINLength is the number of characters in a vehicle identification number
const VINLength = 17

// DefaultVIN matches the capture the emulator was modelled on
const DefaultVIN = "3FADP4FJ2BM113913"

// vinDataItems is the number-of-data-items byte preceding the VIN
const vinDataItems = 0x01

// supportedVehicleInfo lists PID 0x02 (VIN) in the 0x01-0x20 range
const supportedVehicleInfo uint32 = 0x40000000

// ValidateVIN checks that vin is 17 printable ASCII characters
func ValidateVIN(vin string) error {
	if len(vin) != VINLength {
		return fmt.Errorf("VIN %q has %d characters, want %d", vin, len(vin), VINLength)
	}
	for i := 0; i < len(vin); i++ {
		if vin[i] < 0x20 || vin[i] > 0x7E {
			return fmt.Errorf("VIN %q has a non-printable character at %d", vin, i)
		}
	}
	return nil
}

// vinMessage is the 20-byte Service 09 PID 02 response: 49 02 01 + VIN
func vinMessage(vin string) []byte {
	msg := make([]byte, 0, 3+VINLength)
	msg = append(msg, responseServiceFlag+ServiceVehicleInformation, PIDVIN, vinDataItems)
	return append(msg, vin...)
}

// supportedVehicleInfoMessage is the Service 09 PID 00 response
func supportedVehicleInfoMessage() []byte {
	m := supportedVehicleInfo
	return []byte{
		responseServiceFlag + ServiceVehicleInformation, PIDVehicleInfoSupported,
		byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m),
	}
}
