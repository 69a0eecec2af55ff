package clickhouse

import (
	"context"
	"fmt"
	"log"
	"obd-emulator/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// HealthWriter records bus health snapshots. Snapshots arrive every few
// seconds, so each one is sent as its own batch.
type HealthWriter struct {
	conn  driver.Conn
	table string
}

// NewHealthWriter creates the health table if needed
func NewHealthWriter(ctx context.Context, conn driver.Conn, table string) (*HealthWriter, error) {
	if err := CreateHealthTable(ctx, conn, table); err != nil {
		return nil, fmt.Errorf("failed to create health table: %w", err)
	}
	return &HealthWriter{conn: conn, table: table}, nil
}

// CreateHealthTable creates the bus health table
func CreateHealthTable(ctx context.Context, conn driver.Conn, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			state LowCardinality(String),
			bus_state LowCardinality(String),
			bitrate UInt32,
			tx_error_counter UInt32,
			rx_error_counter UInt32,
			bus_off_restarts UInt64,
			rx_packets UInt64,
			rx_errors UInt64,
			rx_dropped UInt64,
			tx_packets UInt64,
			tx_errors UInt64,
			tx_dropped UInt64
		) ENGINE = MergeTree()
		ORDER BY (timestamp, interface)
		PARTITION BY toYYYYMMDD(timestamp)
		SETTINGS index_granularity = 8192
	`, tableName)

	return conn.Exec(ctx, query)
}

// Run records every snapshot from healthChan until it is closed
func (w *HealthWriter) Run(healthChan <-chan models.BusHealth) {
	for h := range healthChan {
		if err := w.Record(context.Background(), h); err != nil {
			log.Printf("ClickHouse health journal: %v", err)
		}
	}
}

// Record inserts one snapshot
func (w *HealthWriter) Record(ctx context.Context, h models.BusHealth) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	if err := batch.Append(healthRow(h)...); err != nil {
		batch.Abort()
		return fmt.Errorf("failed to append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// healthRow returns the column values of h in table order
func healthRow(h models.BusHealth) []any {
	return []any{
		h.Timestamp,
		h.Interface,
		h.State,
		h.BusState,
		uint32(h.Bitrate),
		uint32(h.TXErrorCounter),
		uint32(h.RXErrorCounter),
		h.BusOffRestarts,
		h.RXPackets,
		h.RXErrors,
		h.RXDropped,
		h.TXPackets,
		h.TXErrors,
		h.TXDropped,
	}
}
