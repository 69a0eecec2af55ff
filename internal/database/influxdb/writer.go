package influxdb

import (
	"context"
	"fmt"
	"log"
	"obd-emulator/internal/models"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/avast/retry-go/v4"
)

const (
	defaultMeasurement = "can_frames"
	flushInterval      = 1 * time.Second
	writeAttempts      = 3
)

// Writer journals CAN traffic to InfluxDB as points tagged by direction
type Writer struct {
	client      *influxdb3.Client
	measurement string
	batchSize   int
	batch       []models.CANMessage
	batchChan   chan models.CANMessage
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	started     bool
}

// New creates a new InfluxDB writer
func New(config Config, batchSize int) (*Writer, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 1
	}
	measurement := config.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		client:      client,
		measurement: measurement,
		batchSize:   batchSize,
		batch:       make([]models.CANMessage, 0, batchSize),
		batchChan:   make(chan models.CANMessage, batchSize*2),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}, nil
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
			for {
				select {
				case msg := <-w.batchChan:
					w.batch = append(w.batch, msg)
				default:
					w.flush(context.Background())
					return
				}
			}

		case msg := <-w.batchChan:
			w.batch = append(w.batch, msg)
			if len(w.batch) >= w.batchSize {
				w.flush(w.ctx)
			}

		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch, retrying transient failures
func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}

	points := make([]*influxdb3.Point, 0, len(w.batch))
	for _, msg := range w.batch {
		points = append(points, framePoint(w.measurement, msg))
	}

	err := retry.Do(
		func() error {
			return w.client.WritePoints(ctx, points)
		},
		retry.Context(ctx),
		retry.Attempts(writeAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("InfluxDB journal: failed to write points: %v, dropping %d messages", err, len(w.batch))
	}
	w.batch = w.batch[:0]
}

// framePoint converts a journaled frame into a point
func framePoint(measurement string, msg models.CANMessage) *influxdb3.Point {
	return influxdb3.NewPoint(
		measurement,
		map[string]string{
			"interface": msg.Interface,
			"direction": string(msg.Direction),
			"can_id":    fmt.Sprintf("0x%03X", msg.Frame.ID),
		},
		map[string]any{
			"can_id_decimal": int64(msg.Frame.ID),
			"dlc":            int64(msg.Frame.DLC),
			"data_hex":       fmt.Sprintf("% 02X", msg.Frame.Payload()),
			"pci":            int64(msg.Frame.Data[0]),
		},
		msg.Timestamp,
	)
}

// Write queues a message for writing
func (w *Writer) Write(msg models.CANMessage) {
	select {
	case w.batchChan <- msg:
	default:
		log.Println("Warning: InfluxDB journal queue full, dropping message")
	}
}

// Close flushes pending messages and closes the InfluxDB client
func (w *Writer) Close() error {
	w.cancel()
	if w.started {
		<-w.done
	}

	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
