package can

import (
	"fmt"
	"log"
	"obd-emulator/internal/models"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	flagsPattern     = regexp.MustCompile(`<([^>]+)>`)
	busStatePattern  = regexp.MustCompile(`can (?:<[^>]*> )?state ([A-Z-]+)`)
	berrPattern      = regexp.MustCompile(`berr-counter tx (\d+) rx (\d+)`)
	bitratePattern   = regexp.MustCompile(`bitrate (\d+)`)
	restartedPattern = regexp.MustCompile(`re-started\s+bus-errors`)
)

// HealthMonitor periodically samples 'ip -details -statistics link show'
// and reports controller state changes of one interface.
type HealthMonitor struct {
	interfaceName string
	interval      time.Duration
	logger        *log.Logger
	healthChan    chan models.BusHealth
	stopChan      chan struct{}

	// replaced in tests
	sample func() (string, error)
}

// NewHealthMonitor creates a monitor for the interface
func NewHealthMonitor(interfaceName string, interval time.Duration, logger *log.Logger) *HealthMonitor {
	if logger == nil {
		logger = log.Default()
	}
	hm := &HealthMonitor{
		interfaceName: interfaceName,
		interval:      interval,
		logger:        logger,
		healthChan:    make(chan models.BusHealth, 10),
		stopChan:      make(chan struct{}),
	}
	hm.sample = hm.runIP
	return hm
}

// Start begins sampling
func (hm *HealthMonitor) Start() {
	go hm.collectLoop()
}

// Stop ends sampling. The health channel is closed once the loop exits.
func (hm *HealthMonitor) Stop() {
	close(hm.stopChan)
}

// GetHealthChannel returns the channel for receiving snapshots
func (hm *HealthMonitor) GetHealthChannel() <-chan models.BusHealth {
	return hm.healthChan
}

func (hm *HealthMonitor) collectLoop() {
	defer close(hm.healthChan)

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	last := hm.collect(models.BusHealth{})

	for {
		select {
		case <-ticker.C:
			last = hm.collect(last)
		case <-hm.stopChan:
			return
		}
	}
}

// collect takes one sample and logs transitions relative to prev
func (hm *HealthMonitor) collect(prev models.BusHealth) models.BusHealth {
	output, err := hm.sample()
	if err != nil {
		hm.logger.Printf("Failed to collect bus health for %s: %v", hm.interfaceName, err)
		return prev
	}

	health := parseIPOutput(output)
	health.Timestamp = time.Now().UTC()
	health.Interface = hm.interfaceName

	if health.State != prev.State || health.BusState != prev.BusState {
		hm.logger.Printf("%s is %s, controller %s (berr tx %d rx %d)",
			hm.interfaceName, health.State, health.BusState, health.TXErrorCounter, health.RXErrorCounter)
		if !health.CanTransmit() {
			hm.logger.Printf("Warning: responses on %s will not reach the bus", hm.interfaceName)
		}
	}

	select {
	case hm.healthChan <- health:
	default:
		hm.logger.Printf("Warning: health channel full, dropping snapshot")
	}
	return health
}

func (hm *HealthMonitor) runIP() (string, error) {
	cmd := exec.Command("ip", "-details", "-statistics", "link", "show", hm.interfaceName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to execute ip command: %w (output: %s)", err, string(output))
	}
	return string(output), nil
}

// parseIPOutput parses the text output of 'ip -details -statistics link show'
func parseIPOutput(output string) models.BusHealth {
	health := models.BusHealth{}
	lines := strings.Split(output, "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)

		// Example: "3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10"
		if i == 0 {
			if matches := flagsPattern.FindStringSubmatch(line); len(matches) > 1 {
				health.State = "DOWN"
				for _, flag := range strings.Split(matches[1], ",") {
					if flag == "UP" {
						health.State = "UP"
					}
				}
			}
			continue
		}

		// Example: "can state ERROR-ACTIVE (berr-counter tx 0 rx 0) restart-ms 0"
		if matches := busStatePattern.FindStringSubmatch(line); len(matches) > 1 {
			health.BusState = matches[1]
		}
		if matches := berrPattern.FindStringSubmatch(line); len(matches) > 2 {
			health.TXErrorCounter, _ = strconv.Atoi(matches[1])
			health.RXErrorCounter, _ = strconv.Atoi(matches[2])
		}
		if strings.HasPrefix(line, "bitrate") {
			if matches := bitratePattern.FindStringSubmatch(line); len(matches) > 1 {
				health.Bitrate, _ = strconv.Atoi(matches[1])
			}
		}

		// Example: "re-started bus-errors arbit-lost error-warn error-pass bus-off"
		// Next line: "0          0          0          0          0          0"
		if restartedPattern.MatchString(line) && i+1 < len(lines) {
			if fields := strings.Fields(lines[i+1]); len(fields) >= 6 {
				health.BusOffRestarts, _ = strconv.ParseUint(fields[0], 10, 64)
			}
		}

		// Example: "RX: bytes  packets  errors  dropped overrun mcast"
		// Next line: "123456    789      0       0       0       0"
		if strings.HasPrefix(line, "RX:") && i+1 < len(lines) {
			if fields := strings.Fields(lines[i+1]); len(fields) >= 4 {
				health.RXPackets, _ = strconv.ParseUint(fields[1], 10, 64)
				health.RXErrors, _ = strconv.ParseUint(fields[2], 10, 64)
				health.RXDropped, _ = strconv.ParseUint(fields[3], 10, 64)
			}
		}
		if strings.HasPrefix(line, "TX:") && i+1 < len(lines) {
			if fields := strings.Fields(lines[i+1]); len(fields) >= 4 {
				health.TXPackets, _ = strconv.ParseUint(fields[1], 10, 64)
				health.TXErrors, _ = strconv.ParseUint(fields[2], 10, 64)
				health.TXDropped, _ = strconv.ParseUint(fields[3], 10, 64)
			}
		}
	}

	return health
}
