package clickhouse

import (
	"context"
	"fmt"
	"log"
	"obd-emulator/internal/models"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	flushInterval = 1 * time.Second
	flushTimeout  = 10 * time.Second
)

// Writer journals CAN traffic to ClickHouse in batches
type Writer struct {
	conn      driver.Conn
	table     string
	batchSize int
	batch     []models.CANMessage
	batchChan chan models.CANMessage
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
}

// New connects to ClickHouse and creates the journal table if needed
func New(config Config, batchSize int) (*Writer, error) {
	conn, err := Connect(context.Background(), config)
	if err != nil {
		return nil, err
	}

	if err := CreateJournalTable(context.Background(), conn, config.Table); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return NewWithConn(conn, config.Table, batchSize), nil
}

// NewWithConn creates a writer on an existing connection
func NewWithConn(conn driver.Conn, table string, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		conn:      conn,
		table:     table,
		batchSize: batchSize,
		batch:     make([]models.CANMessage, 0, batchSize),
		batchChan: make(chan models.CANMessage, batchSize*2),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// CreateJournalTable creates the CAN traffic table
func CreateJournalTable(ctx context.Context, conn driver.Conn, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			direction LowCardinality(String),
			can_id UInt32,
			dlc UInt8,
			data Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, tableName)

	return conn.Exec(ctx, query)
}

// Start begins processing and writing messages
func (w *Writer) Start() {
	w.started = true
	go w.writeLoop()
}

// writeLoop collects messages and writes them in batches
func (w *Writer) writeLoop() {
	defer close(w.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			// Drain what was queued before Close
			for {
				select {
				case msg := <-w.batchChan:
					w.batch = append(w.batch, msg)
				default:
					w.flush()
					return
				}
			}

		case msg := <-w.batchChan:
			w.batch = append(w.batch, msg)
			if len(w.batch) >= w.batchSize {
				w.flush()
			}

		case <-ticker.C:
			w.flush()
		}
	}
}

// flush writes the current batch. A failed batch is logged and dropped.
func (w *Writer) flush() {
	if len(w.batch) == 0 {
		return
	}

	if err := w.send(); err != nil {
		log.Printf("ClickHouse journal: %v, dropping %d messages", err, len(w.batch))
	}
	w.batch = w.batch[:0]
}

func (w *Writer) send() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, msg := range w.batch {
		if err := batch.Append(journalRow(msg)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// journalRow returns the column values of msg in table order
func journalRow(msg models.CANMessage) []any {
	return []any{
		msg.Timestamp,
		msg.Interface,
		string(msg.Direction),
		msg.Frame.ID,
		msg.Frame.DLC,
		append([]uint8(nil), msg.Frame.Payload()...),
	}
}

// Write queues a message for writing
func (w *Writer) Write(msg models.CANMessage) {
	select {
	case w.batchChan <- msg:
	default:
		log.Println("Warning: ClickHouse journal queue full, dropping message")
	}
}

// Close flushes pending messages and closes the ClickHouse connection
func (w *Writer) Close() error {
	w.cancel()
	if w.started {
		<-w.done
	}

	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (w *Writer) Conn() driver.Conn {
	return w.conn
}
