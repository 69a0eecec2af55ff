package api

import (
	"context"
	"fmt"
	"obd-emulator/internal/models"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseStore reads the journal tables written by the ClickHouse writer
type ClickHouseStore struct {
	conn        driver.Conn
	table       string
	healthTable string
}

// NewClickHouseStore creates a store on an open connection
func NewClickHouseStore(conn driver.Conn, table, healthTable string) *ClickHouseStore {
	return &ClickHouseStore{
		conn:        conn,
		table:       table,
		healthTable: healthTable,
	}
}

// Name returns the back-end name
func (s *ClickHouseStore) Name() string {
	return "clickhouse"
}

// Ping checks the connection
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Frames retrieves journaled frames with optional filters
func (s *ClickHouseStore) Frames(ctx context.Context, params models.QueryParams) ([]models.CANMessageResponse, error) {
	query, args := frameQuery(s.table, params)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	messages := []models.CANMessageResponse{}
	for rows.Next() {
		var timestamp time.Time
		var iface, direction string
		var canID uint32
		var data []uint8

		if err := rows.Scan(&timestamp, &iface, &direction, &canID, &data); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		messages = append(messages, frameResponse(timestamp, iface, direction, canID, data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return messages, nil
}

// CountFrames returns the count of journaled frames with optional filters
func (s *ClickHouseStore) CountFrames(ctx context.Context, params models.QueryParams) (uint64, error) {
	where, args := frameFilter(params)
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE 1=1%s", s.table, where)

	var count uint64
	if err := s.conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return count, nil
}

// LatestHealth retrieves the newest health snapshot of an interface
func (s *ClickHouseStore) LatestHealth(ctx context.Context, iface string) (models.BusHealth, error) {
	query := fmt.Sprintf(`
		SELECT
			timestamp, interface, state, bus_state, bitrate,
			tx_error_counter, rx_error_counter, bus_off_restarts,
			rx_packets, rx_errors, rx_dropped,
			tx_packets, tx_errors, tx_dropped
		FROM %s
		WHERE 1=1`, s.healthTable)
	args := []any{}

	if iface != "" {
		query += " AND interface = ?"
		args = append(args, iface)
	}
	query += " ORDER BY timestamp DESC LIMIT 1"

	var h models.BusHealth
	var bitrate, txErrors, rxErrors uint32
	err := s.conn.QueryRow(ctx, query, args...).Scan(
		&h.Timestamp, &h.Interface, &h.State, &h.BusState, &bitrate,
		&txErrors, &rxErrors, &h.BusOffRestarts,
		&h.RXPackets, &h.RXErrors, &h.RXDropped,
		&h.TXPackets, &h.TXErrors, &h.TXDropped,
	)
	if err != nil {
		return models.BusHealth{}, fmt.Errorf("query failed: %w", err)
	}
	h.Bitrate = int(bitrate)
	h.TXErrorCounter = int(txErrors)
	h.RXErrorCounter = int(rxErrors)
	return h, nil
}

// Close closes the connection
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// frameQuery builds the SELECT for Frames
func frameQuery(table string, params models.QueryParams) (string, []any) {
	where, args := frameFilter(params)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT timestamp, interface, direction, can_id, data FROM %s WHERE 1=1%s", table, where)
	sb.WriteString(" ORDER BY timestamp DESC")

	if params.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, params.Limit)
	}
	if params.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, params.Offset)
	}
	return sb.String(), args
}

// frameFilter builds the WHERE conditions shared by frame queries
func frameFilter(params models.QueryParams) (string, []any) {
	var sb strings.Builder
	args := []any{}

	if params.StartTime != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *params.StartTime)
	}
	if params.EndTime != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, *params.EndTime)
	}
	if params.CANID != nil {
		sb.WriteString(" AND can_id = ?")
		args = append(args, *params.CANID)
	}
	if params.Interface != "" {
		sb.WriteString(" AND interface = ?")
		args = append(args, params.Interface)
	}
	if params.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, params.Direction)
	}
	return sb.String(), args
}
