package models

import "time"

// QueryParams represents common journal query parameters
type QueryParams struct {
	StartTime *time.Time
	EndTime   *time.Time
	CANID     *uint32
	Interface string
	Direction string
	Limit     int
	Offset    int
}
