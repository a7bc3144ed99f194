// Gray Logic Fleet - device fleet daemon
//
// fleetd keeps the registry of managed devices and drives long-running device
// actions (software updates, reboots) through their lifecycle. Clients use the
// REST API to register devices, start actions and poll them to completion;
// device agents receive commands and report outcomes over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/nerrad567/gray-logic-fleet/migrations"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/api"
	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/telemetry"
	"github.com/nerrad567/gray-logic-fleet/internal/orchestrator"
	"github.com/nerrad567/gray-logic-fleet/internal/query"
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

// shutdownTimeout bounds telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

// auditSource tags audit entries written by this daemon.
const auditSource = "fleetd"

func main() {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon's startup and shutdown sequence, separated from main for
// testability. It blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fleetd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"fleet_id", cfg.Fleet.ID,
		"executor", cfg.Orchestrator.Executor,
	)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initialising telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := shutdownTelemetry(flushCtx); shutdownErr != nil {
			log.Error("error shutting down telemetry", "error", shutdownErr)
		}
	}()

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("device"))
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", devices.Count())

	ledger := action.NewLedger(action.NewSQLiteRepository(db.DB), devices, nil)
	ledger.SetLogger(log.Component("action"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	trail := audit.NewTrail(auditRepo, auditSource, 0)
	trail.SetLogger(log.Component("audit"))
	trail.Start()
	defer func() {
		log.Info("flushing audit trail")
		trail.Close()
	}()

	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	deps := orchestrator.Deps{
		Devices:   devices,
		Ledger:    ledger,
		Executors: buildExecutors(cfg.Orchestrator, ledger.Catalogue(), mqttClient),
		Hub:       hub,
		Audit:     trail,
		Config: orchestrator.Config{
			ActionTimeout:           cfg.Orchestrator.ActionTimeoutDuration(),
			DispatchTimeout:         cfg.Orchestrator.DispatchTimeoutDuration(),
			MaxConcurrentDispatches: int64(cfg.Orchestrator.MaxConcurrentDispatches),
		},
		Logger: log.Component("orchestrator"),
	}
	if influxClient != nil {
		deps.History = influxClient
	}
	orch, err := orchestrator.New(deps)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer func() {
		log.Info("stopping orchestrator")
		if closeErr := orch.Close(); closeErr != nil {
			log.Error("error stopping orchestrator", "error", closeErr)
		}
	}()

	report, err := orch.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering actions: %w", err)
	}
	log.Info("action ledger recovered",
		"interrupted", report.Interrupted,
		"timed_out", report.TimedOut,
		"resumed", report.Resumed,
		"devices_released", report.DevicesReleased,
	)

	if mqttClient != nil {
		if subErr := orch.SubscribeAgents(mqttClient, mqttClient.QoS()); subErr != nil {
			return fmt.Errorf("subscribing to device agents: %w", subErr)
		}
		log.Info("listening for device agents")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	apiServer, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Orchestrator: orch,
		Query:        query.NewService(devices, ledger),
		Audit:        auditRepo,
		DB:           db,
		MQTT:         mqttClient,
		InfluxDB:     influxClient,
		Hub:          hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, orchestrator,
	// MQTT, InfluxDB, WebSocket hub, audit trail, database, telemetry.

	log.Info("fleetd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB connects to InfluxDB when enabled. It returns nil, nil when
// disabled.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// connectMQTT connects to the broker when enabled. It returns nil, nil when
// disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// buildExecutors returns the executors selected by orchestrator.executor.
// Config validation guarantees an MQTT client exists for the mqtt executor.
func buildExecutors(cfg config.OrchestratorConfig, catalogue *action.Catalogue, mqttClient *mqtt.Client) []orchestrator.Executor {
	if cfg.Executor == config.ExecutorSimulated {
		return orchestrator.SimulatedExecutors(catalogue, orchestrator.SimulationConfig{
			MinDelay:    time.Duration(cfg.Simulation.MinDelay) * time.Second,
			MaxDelay:    time.Duration(cfg.Simulation.MaxDelay) * time.Second,
			SuccessRate: cfg.Simulation.SuccessRate,
		})
	}
	return orchestrator.MQTTExecutors(mqttClient)
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
