package api

import (
	"context"
	"fmt"
	"obd-emulator/internal/models"
	"strconv"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

// InfluxDBStore reads the journal measurement written by the InfluxDB writer
type InfluxDBStore struct {
	client      *influxdb3.Client
	measurement string
}

// NewInfluxDBStore creates a store for the measurement
func NewInfluxDBStore(url, token, database, measurement string) (*InfluxDBStore, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     url,
		Token:    token,
		Database: database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	return &InfluxDBStore{
		client:      client,
		measurement: measurement,
	}, nil
}

// Name returns the back-end name
func (s *InfluxDBStore) Name() string {
	return "influxdb"
}

// Ping checks that the database answers a query
func (s *InfluxDBStore) Ping(ctx context.Context) error {
	it, err := s.client.Query(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	for it.Next() {
	}
	return nil
}

// Frames retrieves journaled frames with optional filters
func (s *InfluxDBStore) Frames(ctx context.Context, params models.QueryParams) ([]models.CANMessageResponse, error) {
	where, qp := influxFilter(params)

	limit := 100
	if params.Limit > 0 {
		limit = params.Limit
	}
	query := fmt.Sprintf(`SELECT time, interface, direction, can_id_decimal, data_hex FROM "%s" WHERE 1=1%s ORDER BY time DESC LIMIT %d OFFSET %d`,
		s.measurement, where, limit, params.Offset)

	it, err := s.client.QueryWithParameters(ctx, query, qp)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	messages := []models.CANMessageResponse{}
	for it.Next() {
		messages = append(messages, recordToFrame(it.Value()))
	}
	return messages, nil
}

// CountFrames returns the count of journaled frames with optional filters
func (s *InfluxDBStore) CountFrames(ctx context.Context, params models.QueryParams) (uint64, error) {
	where, qp := influxFilter(params)
	query := fmt.Sprintf(`SELECT COUNT(*) AS count FROM "%s" WHERE 1=1%s`, s.measurement, where)

	it, err := s.client.QueryWithParameters(ctx, query, qp)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}

	var count uint64
	for it.Next() {
		if n, ok := it.Value()["count"].(int64); ok {
			count = uint64(n)
		}
	}
	return count, nil
}

// LatestHealth is not journaled to InfluxDB
func (s *InfluxDBStore) LatestHealth(ctx context.Context, iface string) (models.BusHealth, error) {
	return models.BusHealth{}, ErrNotSupported
}

// Close closes the InfluxDB client
func (s *InfluxDBStore) Close() error {
	return s.client.Close()
}

// influxFilter builds SQL conditions and their named parameters
func influxFilter(params models.QueryParams) (string, influxdb3.QueryParameters) {
	var sb strings.Builder
	qp := influxdb3.QueryParameters{}

	if params.StartTime != nil {
		sb.WriteString(" AND time >= $start")
		qp["start"] = params.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if params.EndTime != nil {
		sb.WriteString(" AND time <= $end")
		qp["end"] = params.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if params.CANID != nil {
		sb.WriteString(" AND can_id = $can_id")
		qp["can_id"] = fmt.Sprintf("0x%03X", *params.CANID)
	}
	if params.Interface != "" {
		sb.WriteString(" AND interface = $interface")
		qp["interface"] = params.Interface
	}
	if params.Direction != "" {
		sb.WriteString(" AND direction = $direction")
		qp["direction"] = params.Direction
	}
	return sb.String(), qp
}

// recordToFrame converts one query row into a frame response
func recordToFrame(record map[string]any) models.CANMessageResponse {
	timestamp, _ := record["time"].(time.Time)
	iface, _ := record["interface"].(string)
	direction, _ := record["direction"].(string)
	dataHex, _ := record["data_hex"].(string)

	var canID uint32
	if id, ok := record["can_id_decimal"].(int64); ok {
		canID = uint32(id)
	}

	data := []uint8{}
	for _, field := range strings.Fields(dataHex) {
		b, err := strconv.ParseUint(field, 16, 8)
		if err != nil {
			break
		}
		data = append(data, uint8(b))
	}

	return frameResponse(timestamp, iface, direction, canID, data)
}
