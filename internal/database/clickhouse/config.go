package clickhouse

import "fmt"

// Config holds ClickHouse connection configuration
type Config struct {
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	Table       string
	HealthTable string
}

// Addr returns the native protocol address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
