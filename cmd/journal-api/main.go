package main

import (
	"context"
	"flag"
	"log"
	"obd-emulator/internal/api"
	"obd-emulator/internal/config"
	"obd-emulator/internal/database/clickhouse"
	"obd-emulator/internal/obd"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// Command line flag for config file
	envFile := flag.String("env", ".env", "Path to .env configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting OBD-II Emulator Journal API...")
	log.Printf("HTTP Server Port: %d", cfg.APIPort)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}

	pids, err := obd.NewPIDTable(obd.DefaultPIDRules, cfg.PIDValues)
	if err != nil {
		log.Fatalf("Invalid PID configuration: %v", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Port:  cfg.APIPort,
		Store: store,
		PIDs:  pids,
		VIN:   cfg.VIN,
	})
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("API Server started successfully")
	log.Printf("HTTP API available at: http://localhost:%d/", cfg.APIPort)
	log.Println("Press Ctrl+C to stop")

	<-sigChan
	log.Println("Shutting down API server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("API server stopped")
}

// openStore opens the first configured journal back-end, ClickHouse when none is named
func openStore(cfg *config.Config) (api.JournalStore, error) {
	if !cfg.HasBackend(config.BackendClickHouse) && cfg.HasBackend(config.BackendInfluxDB) {
		log.Printf("InfluxDB: %s/%s (%s)", cfg.InfluxDBURL, cfg.InfluxDBDatabase, cfg.InfluxDBMeasurement)
		return api.NewInfluxDBStore(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBDatabase, cfg.InfluxDBMeasurement)
	}

	log.Printf("ClickHouse: %s:%d/%s.%s", cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDatabase, cfg.ClickHouseTable)
	conn, err := clickhouse.Connect(context.Background(), clickhouse.Config{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUsername,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		return nil, err
	}
	return api.NewClickHouseStore(conn, cfg.ClickHouseTable, cfg.ClickHouseHealthTable), nil
}
