package config

import (
	"errors"
	"fmt"
	"log"
	"obd-emulator/internal/obd"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Journal back-end names accepted in JOURNAL_BACKENDS
const (
	BackendClickHouse = "clickhouse"
	BackendInfluxDB   = "influxdb"
)

// Config holds all application configuration
type Config struct {
	// CAN Interface
	CANInterface   string
	CANFilters     []uint32
	HealthInterval int // seconds, 0 disables
	Padding        byte
	Verbose        bool

	// Emulated vehicle
	VIN                string
	PIDValues          map[byte]uint16
	BatterySOC         float64
	BatteryVoltage     float64
	BatteryCurrent     float64
	BatteryTemperature int

	// Journal
	JournalBackends []string
	BatchSize       int

	// ClickHouse
	ClickHouseHost        string
	ClickHousePort        int
	ClickHouseDatabase    string
	ClickHouseUsername    string
	ClickHousePassword    string
	ClickHouseTable       string
	ClickHouseHealthTable string

	// InfluxDB
	InfluxDBURL         string
	InfluxDBToken       string
	InfluxDBDatabase    string
	InfluxDBMeasurement string

	// Journal API
	APIPort int
}

func setDefaults(v *viper.Viper) {
	battery := obd.DefaultBatteryStatus()

	v.SetDefault("CAN_INTERFACE", "vcan0")
	v.SetDefault("CAN_FILTERS", "7DF,7E0,761")
	v.SetDefault("HEALTH_INTERVAL", 10)
	v.SetDefault("ISOTP_PADDING", "00")
	v.SetDefault("VERBOSE", false)
	v.SetDefault("VIN", obd.DefaultVIN)
	v.SetDefault("PID_VALUES", "")
	v.SetDefault("BATTERY_SOC", battery.StateOfCharge)
	v.SetDefault("BATTERY_VOLTAGE", battery.PackVoltage)
	v.SetDefault("BATTERY_CURRENT", battery.PackCurrent)
	v.SetDefault("BATTERY_TEMPERATURE", int(battery.ModuleTemperatures[0]))
	v.SetDefault("JOURNAL_BACKENDS", "")
	v.SetDefault("BATCH_SIZE", 1000)
	v.SetDefault("CLICKHOUSE_HOST", "localhost")
	v.SetDefault("CLICKHOUSE_PORT", 9000)
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USERNAME", "default")
	v.SetDefault("CLICKHOUSE_PASSWORD", "")
	v.SetDefault("CLICKHOUSE_TABLE", "obd_frames")
	v.SetDefault("CLICKHOUSE_HEALTH_TABLE", "obd_bus_health")
	v.SetDefault("INFLUXDB_URL", "http://localhost:8181")
	v.SetDefault("INFLUXDB_TOKEN", "")
	v.SetDefault("INFLUXDB_DATABASE", "obd")
	v.SetDefault("INFLUXDB_MEASUREMENT", "can_frames")
	v.SetDefault("API_PORT", 8080)
}

// LoadConfig loads configuration from a .env file. Environment variables
// override file values; a missing file leaves the defaults in place.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading %s: %w", envFile, err)
		}
		log.Printf("No .env file found at %s, using default configuration", envFile)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		CANInterface:          v.GetString("CAN_INTERFACE"),
		HealthInterval:        v.GetInt("HEALTH_INTERVAL"),
		Verbose:               v.GetBool("VERBOSE"),
		VIN:                   strings.ToUpper(v.GetString("VIN")),
		BatterySOC:            v.GetFloat64("BATTERY_SOC"),
		BatteryVoltage:        v.GetFloat64("BATTERY_VOLTAGE"),
		BatteryCurrent:        v.GetFloat64("BATTERY_CURRENT"),
		BatteryTemperature:    v.GetInt("BATTERY_TEMPERATURE"),
		JournalBackends:       parseList(v.GetString("JOURNAL_BACKENDS")),
		BatchSize:             v.GetInt("BATCH_SIZE"),
		ClickHouseHost:        v.GetString("CLICKHOUSE_HOST"),
		ClickHousePort:        v.GetInt("CLICKHOUSE_PORT"),
		ClickHouseDatabase:    v.GetString("CLICKHOUSE_DATABASE"),
		ClickHouseUsername:    v.GetString("CLICKHOUSE_USERNAME"),
		ClickHousePassword:    v.GetString("CLICKHOUSE_PASSWORD"),
		ClickHouseTable:       v.GetString("CLICKHOUSE_TABLE"),
		ClickHouseHealthTable: v.GetString("CLICKHOUSE_HEALTH_TABLE"),
		InfluxDBURL:           v.GetString("INFLUXDB_URL"),
		InfluxDBToken:         v.GetString("INFLUXDB_TOKEN"),
		InfluxDBDatabase:      v.GetString("INFLUXDB_DATABASE"),
		InfluxDBMeasurement:   v.GetString("INFLUXDB_MEASUREMENT"),
		APIPort:               v.GetInt("API_PORT"),
	}

	var err error
	if config.CANFilters, err = parseFilters(v.GetString("CAN_FILTERS")); err != nil {
		return nil, fmt.Errorf("CAN_FILTERS: %w", err)
	}
	if config.PIDValues, err = parsePIDValues(v.GetString("PID_VALUES")); err != nil {
		return nil, fmt.Errorf("PID_VALUES: %w", err)
	}

	padding, err := strconv.ParseUint(strings.TrimPrefix(v.GetString("ISOTP_PADDING"), "0x"), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("ISOTP_PADDING: %w", err)
	}
	config.Padding = byte(padding)

	for _, backend := range config.JournalBackends {
		if backend != BackendClickHouse && backend != BackendInfluxDB {
			return nil, fmt.Errorf("JOURNAL_BACKENDS: unknown back-end %q", backend)
		}
	}

	return config, nil
}

// HasBackend reports whether the named journal back-end is enabled
func (c *Config) HasBackend(name string) bool {
	for _, b := range c.JournalBackends {
		if b == name {
			return true
		}
	}
	return false
}

// SessionConfig builds the emulated vehicle from the configuration
func (c *Config) SessionConfig() (obd.SessionConfig, error) {
	pids, err := obd.NewPIDTable(obd.DefaultPIDRules, c.PIDValues)
	if err != nil {
		return obd.SessionConfig{}, err
	}

	battery := obd.DefaultBatteryStatus()
	battery.StateOfCharge = c.BatterySOC
	battery.PackVoltage = c.BatteryVoltage
	battery.PackCurrent = c.BatteryCurrent
	for i := range battery.ModuleTemperatures {
		battery.ModuleTemperatures[i] = int8(clampTemperature(c.BatteryTemperature))
	}

	return obd.SessionConfig{
		PIDs:    pids,
		VIN:     c.VIN,
		Battery: battery,
		Padding: c.Padding,
	}, nil
}

func clampTemperature(t int) int {
	if t < -128 {
		return -128
	}
	if t > 127 {
		return 127
	}
	return t
}

// parseFilters parses comma-separated hexadecimal CAN IDs
func parseFilters(filterStr string) ([]uint32, error) {
	parts := parseList(filterStr)
	filters := make([]uint32, 0, len(parts))

	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimPrefix(part, "0x"), 16, 11)
		if err != nil {
			return nil, fmt.Errorf("invalid CAN ID %q: %w", part, err)
		}
		filters = append(filters, uint32(id))
	}

	return filters, nil
}

// parsePIDValues parses PID=VALUE pairs in hexadecimal, e.g. "0C=0BB8,0D=58"
func parsePIDValues(s string) (map[byte]uint16, error) {
	parts := parseList(s)
	if len(parts) == 0 {
		return nil, nil
	}

	values := make(map[byte]uint16, len(parts))
	for _, part := range parts {
		pidStr, valueStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected PID=VALUE, got %q", part)
		}
		pid, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(pidStr), "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid PID %q: %w", pidStr, err)
		}
		value, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(valueStr), "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value for PID %s: %w", pidStr, err)
		}
		values[byte(pid)] = uint16(value)
	}
	return values, nil
}

// parseList splits a comma-separated value, dropping blanks
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
