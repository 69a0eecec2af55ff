package clickhouse

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/avast/retry-go/v4"
)

// connectAttempts bounds how often Connect pings a server that is still starting
const connectAttempts = 5

// Connect opens a ClickHouse connection and waits for the server to answer
func Connect(ctx context.Context, config Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr()},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	err = retry.Do(
		func() error {
			return conn.Ping(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("ClickHouse ping attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", config.Addr(), err)
	}

	return conn, nil
}
