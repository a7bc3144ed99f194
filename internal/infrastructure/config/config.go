package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor names accepted by orchestrator.executor.
const (
	ExecutorMQTT      = "mqtt"
	ExecutorSimulated = "simulated"
)

// Config is the root configuration structure for the fleet daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet        FleetConfig        `yaml:"fleet"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// FleetConfig identifies the fleet this daemon manages.
type FleetConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TelemetryConfig contains OpenTelemetry exporter settings.
// An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// OrchestratorConfig controls how device actions are dispatched and supervised.
type OrchestratorConfig struct {
	// ActionTimeout is how long an action may stay non-terminal before the
	// watchdog fails it (seconds).
	ActionTimeout int `yaml:"action_timeout"`

	// DispatchTimeout bounds a single executor dispatch call (seconds).
	DispatchTimeout int `yaml:"dispatch_timeout"`

	// MaxConcurrentDispatches caps in-flight dispatch calls across all devices.
	MaxConcurrentDispatches int `yaml:"max_concurrent_dispatches"`

	// Executor selects the execution backend: "mqtt" or "simulated".
	Executor string `yaml:"executor"`

	Simulation SimulationConfig `yaml:"simulation"`
}

// SimulationConfig tunes the simulated executor used in development.
type SimulationConfig struct {
	MinDelay    int     `yaml:"min_delay"` // seconds
	MaxDelay    int     `yaml:"max_delay"` // seconds
	SuccessRate float64 `yaml:"success_rate"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (GRAYLOGIC_SECTION_KEY)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			ID:   "fleet-001",
			Name: "Gray Logic Fleet",
		},
		Database: DatabaseConfig{
			Path:        "./data/fleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-fleetd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "fleetd",
		},
		Orchestrator: OrchestratorConfig{
			ActionTimeout:           300,
			DispatchTimeout:         10,
			MaxConcurrentDispatches: 64,
			Executor:                ExecutorMQTT,
			Simulation: SimulationConfig{
				MinDelay:    10,
				MaxDelay:    20,
				SuccessRate: 0.8,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}

	if v := os.Getenv("GRAYLOGIC_ORCHESTRATOR_EXECUTOR"); v != "" {
		cfg.Orchestrator.Executor = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Orchestrator.validate(c.MQTT.Enabled)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (o OrchestratorConfig) validate(mqttEnabled bool) []string {
	var errs []string

	if o.ActionTimeout <= 0 {
		errs = append(errs, "orchestrator.action_timeout must be positive")
	}
	if o.DispatchTimeout <= 0 {
		errs = append(errs, "orchestrator.dispatch_timeout must be positive")
	}
	if o.MaxConcurrentDispatches <= 0 {
		errs = append(errs, "orchestrator.max_concurrent_dispatches must be positive")
	}

	switch o.Executor {
	case ExecutorMQTT:
		if !mqttEnabled {
			errs = append(errs, "orchestrator.executor \"mqtt\" requires mqtt.enabled")
		}
	case ExecutorSimulated:
		sim := o.Simulation
		if sim.MinDelay < 0 || sim.MaxDelay < sim.MinDelay {
			errs = append(errs, "orchestrator.simulation delays must satisfy 0 <= min_delay <= max_delay")
		}
		if sim.SuccessRate < 0 || sim.SuccessRate > 1 {
			errs = append(errs, "orchestrator.simulation.success_rate must be between 0 and 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("orchestrator.executor must be %q or %q", ExecutorMQTT, ExecutorSimulated))
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ActionTimeoutDuration returns the orchestrator action deadline as a Duration.
func (o OrchestratorConfig) ActionTimeoutDuration() time.Duration {
	return time.Duration(o.ActionTimeout) * time.Second
}

// DispatchTimeoutDuration returns the per-dispatch timeout as a Duration.
func (o OrchestratorConfig) DispatchTimeoutDuration() time.Duration {
	return time.Duration(o.DispatchTimeout) * time.Second
}
