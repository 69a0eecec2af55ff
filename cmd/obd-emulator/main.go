package main

import (
	"context"
	"log"
	"obd-emulator/internal/can"
	"obd-emulator/internal/config"
	"obd-emulator/internal/database"
	"obd-emulator/internal/database/clickhouse"
	"obd-emulator/internal/database/influxdb"
	"obd-emulator/internal/emulator"
	"obd-emulator/internal/models"
	"obd-emulator/internal/obd"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var envFile string
var ifaceName string
var verbose bool

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to .env configuration file")
	rootCmd.PersistentFlags().StringVar(&ifaceName, "interface", "", "CAN interface, overrides CAN_INTERFACE")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log every received and transmitted frame")

	rootCmd.AddCommand(pidsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:           "obd-emulator",
	Short:         "Emulates an OBD-II ECU and a vendor battery module on a SocketCAN interface.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if ifaceName != "" {
		cfg.CANInterface = ifaceName
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	session, err := obd.NewSession(sessionCfg)
	if err != nil {
		return err
	}

	log.Printf("Starting OBD-II emulator...")
	log.Printf("CAN Interface: %s", cfg.CANInterface)
	log.Printf("VIN: %s", cfg.VIN)

	bus, err := can.Open(cfg.CANInterface)
	if err != nil {
		return err
	}
	defer bus.Close()

	if len(cfg.CANFilters) > 0 {
		if err := bus.SetFilter(cfg.CANFilters); err != nil {
			log.Printf("Warning: Failed to set filters: %v", err)
		} else {
			log.Printf("Applied CAN ID filters: %X", cfg.CANFilters)
		}
	}

	journal, health, err := openJournals(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	if cfg.HealthInterval > 0 {
		monitor := can.NewHealthMonitor(cfg.CANInterface, time.Duration(cfg.HealthInterval)*time.Second, nil)
		monitor.Start()

		consume := discardHealth
		if health != nil {
			consume = health.Run
		}
		done := drainHealth(monitor.GetHealthChannel(), consume)
		defer func() {
			monitor.Stop()
			<-done
		}()
	}

	emu, err := emulator.New(emulator.Config{
		Bus:     bus,
		Handler: session,
		Journal: journal,
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return err
	}

	bus.Start()
	journal.Start()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Emulator started successfully. Press Ctrl+C to stop.")
	if err := emu.Run(ctx); err != nil {
		return err
	}
	log.Println("Shutting down...")
	return nil
}

// drainHealth runs consume over the snapshot channel. The returned channel
// is closed once consume has returned, which happens after the monitor
// stops and the channel is drained.
func drainHealth(ch <-chan models.BusHealth, consume func(<-chan models.BusHealth)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ch)
	}()
	return done
}

func discardHealth(ch <-chan models.BusHealth) {
	for range ch {
	}
}

// openJournals connects the configured journal back-ends. The health
// writer is only available with ClickHouse.
func openJournals(ctx context.Context, cfg *config.Config) (database.Fanout, *clickhouse.HealthWriter, error) {
	var journal database.Fanout
	var health *clickhouse.HealthWriter

	if cfg.HasBackend(config.BackendClickHouse) {
		log.Printf("ClickHouse: %s:%d/%s.%s", cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDatabase, cfg.ClickHouseTable)
		chWriter, err := clickhouse.New(clickhouse.Config{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
		}, cfg.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		journal = append(journal, chWriter)

		health, err = clickhouse.NewHealthWriter(ctx, chWriter.Conn(), cfg.ClickHouseHealthTable)
		if err != nil {
			journal.Close()
			return nil, nil, err
		}
	}

	if cfg.HasBackend(config.BackendInfluxDB) {
		log.Printf("InfluxDB: %s/%s", cfg.InfluxDBURL, cfg.InfluxDBDatabase)
		influxWriter, err := influxdb.New(influxdb.Config{
			URL:         cfg.InfluxDBURL,
			Token:       cfg.InfluxDBToken,
			Database:    cfg.InfluxDBDatabase,
			Measurement: cfg.InfluxDBMeasurement,
		}, cfg.BatchSize)
		if err != nil {
			journal.Close()
			return nil, nil, err
		}
		journal = append(journal, influxWriter)
	}

	if len(journal) == 0 {
		log.Println("No journal back-ends configured, traffic is not recorded")
	}
	return journal, health, nil
}
