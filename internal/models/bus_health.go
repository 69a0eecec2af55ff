package models

import "time"

// BusHealth is a snapshot of the controller state of a SocketCAN interface
type BusHealth struct {
	Timestamp time.Time `json:"timestamp"`
	Interface string    `json:"interface"`

	State    string `json:"state"`     // UP, DOWN
	BusState string `json:"bus_state"` // ERROR-ACTIVE, ERROR-PASSIVE, BUS-OFF, STOPPED
	Bitrate  int    `json:"bitrate"`

	TXErrorCounter int    `json:"tx_error_counter"`
	RXErrorCounter int    `json:"rx_error_counter"`
	BusOffRestarts uint64 `json:"bus_off_restarts"`

	RXPackets uint64 `json:"rx_packets"`
	RXErrors  uint64 `json:"rx_errors"`
	RXDropped uint64 `json:"rx_dropped"`
	TXPackets uint64 `json:"tx_packets"`
	TXErrors  uint64 `json:"tx_errors"`
	TXDropped uint64 `json:"tx_dropped"`
}

// CanTransmit reports whether frames written to the interface can reach the bus
func (h BusHealth) CanTransmit() bool {
	return h.State == "UP" && h.BusState != "BUS-OFF" && h.BusState != "STOPPED"
}
