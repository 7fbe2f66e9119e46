// LIN Bridge - virtual LIN interface service
//
// This is the main entry point for the LIN bridge daemon. The bridge
// exposes physical LIN adapter channels (or an in-process simulator)
// as host virtual bus interfaces, controlled over MQTT:
//   - JSON start/stop commands on the command topic
//   - retained per-session state and health topics
//   - SQLite audit trail and optional InfluxDB telemetry
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/openlin/linbridge/migrations"

	"github.com/openlin/linbridge/internal/audit"
	"github.com/openlin/linbridge/internal/gateway"
	"github.com/openlin/linbridge/internal/infrastructure/config"
	"github.com/openlin/linbridge/internal/infrastructure/database"
	"github.com/openlin/linbridge/internal/infrastructure/influxdb"
	"github.com/openlin/linbridge/internal/infrastructure/logging"
	"github.com/openlin/linbridge/internal/infrastructure/mqtt"
	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Cancelable so a remote shutdown request can end the run the same
	// way a signal does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LIN bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Assemble the session registry and command gateway. The factory's
	// health callback fans out to the gateway (MQTT + audit trail) and,
	// when enabled, InfluxDB; gw is assigned before any session can start.
	var gw *gateway.Gateway
	factory := &session.DefaultFactory{
		OpenHost:  openHostBus,
		QueueSize: cfg.Bridge.QueueSize,
		Policy:    session.DropPolicy(cfg.Bridge.DropPolicy),
		OnHealthWarning: func(device lin.DeviceID, entry string, faults int) {
			gw.OnHealthWarning(device, entry, faults)
			if influxClient != nil {
				influxClient.WriteHealthWarning(device.String(), entry, faults)
			}
		},
		Logger: log,
	}
	registry := session.NewRegistry(factory)
	registry.SetLogger(log)

	gw = gateway.New(gateway.Config{
		Registry:  registry,
		Publisher: mqttClient,
		Recorder:  audit.NewSQLiteRepository(db.DB),
		Defaults: gateway.Defaults{
			Baudrate: cfg.LIN.Baudrate,
			BaseTick: cfg.BaseTick(),
		},
		QoS:    byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 at config load
		Logger: log,
	})
	registry.SetOnTerminate(gw.OnSessionTerminated)

	if err := gw.Run(ctx, mqttClient); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}
	log.Info("command gateway listening", "topic", mqtt.Topics{}.Command())

	// Remote shutdown: any message on the system shutdown topic ends the
	// run exactly like SIGTERM.
	shutdownErr := mqttClient.Subscribe(mqtt.Topics{}.SystemShutdown(), byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 at config load
		func(_ string, _ []byte) error {
			log.Info("shutdown requested over MQTT")
			cancel()
			return nil
		})
	if shutdownErr != nil {
		return fmt.Errorf("subscribing to shutdown topic: %w", shutdownErr)
	}

	// Periodically snapshot session counters into InfluxDB
	if influxClient != nil {
		go runTelemetry(ctx, registry, influxClient, cfg.TelemetryInterval())
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, stopping sessions")

	// Stop every live session within the configured grace period, then
	// let the deferred Close() calls tear down the infrastructure.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopGrace())
	registry.StopAll(stopCtx)
	stopCancel()

	log.Info("LIN bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LINBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LINBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// runTelemetry writes a session_stats point per live session every
// interval until ctx is cancelled.
func runTelemetry(ctx context.Context, registry *session.Registry, influxClient *influxdb.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range registry.Stats() {
				influxClient.WriteSessionStats(st.Device.String(), st.State.String(), st.SoftFaults, st.Drops)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
