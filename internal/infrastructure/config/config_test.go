package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
fleet:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 9090
orchestrator:
  action_timeout: 120
  executor: simulated
  simulation:
    min_delay: 1
    max_delay: 2
    success_rate: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fleet.ID != "test-fleet" {
		t.Errorf("Fleet.ID = %q, want %q", cfg.Fleet.ID, "test-fleet")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Orchestrator.Executor != ExecutorSimulated {
		t.Errorf("Orchestrator.Executor = %q, want %q", cfg.Orchestrator.Executor, ExecutorSimulated)
	}
	if got := cfg.Orchestrator.ActionTimeoutDuration(); got != 2*time.Minute {
		t.Errorf("ActionTimeoutDuration() = %v, want 2m", got)
	}
	// Untouched keys keep their defaults.
	if cfg.Orchestrator.MaxConcurrentDispatches != 64 {
		t.Errorf("MaxConcurrentDispatches = %d, want default 64", cfg.Orchestrator.MaxConcurrentDispatches)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "fleet: [unclosed")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("error = %q, want parsing error", err)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "api.port") {
		t.Errorf("error = %q, want mention of api.port", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:    "missing fleet id",
			modify:  func(c *Config) { c.Fleet.ID = "" },
			wantErr: "fleet.id",
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "zero action timeout",
			modify:  func(c *Config) { c.Orchestrator.ActionTimeout = 0 },
			wantErr: "action_timeout",
		},
		{
			name:    "zero dispatch timeout",
			modify:  func(c *Config) { c.Orchestrator.DispatchTimeout = 0 },
			wantErr: "dispatch_timeout",
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Orchestrator.MaxConcurrentDispatches = 0 },
			wantErr: "max_concurrent_dispatches",
		},
		{
			name:    "unknown executor",
			modify:  func(c *Config) { c.Orchestrator.Executor = "ssh" },
			wantErr: "orchestrator.executor",
		},
		{
			name: "mqtt executor without mqtt",
			modify: func(c *Config) {
				c.MQTT.Enabled = false
			},
			wantErr: "requires mqtt.enabled",
		},
		{
			name: "simulated executor without mqtt",
			modify: func(c *Config) {
				c.MQTT.Enabled = false
				c.Orchestrator.Executor = ExecutorSimulated
			},
		},
		{
			name: "simulation delays inverted",
			modify: func(c *Config) {
				c.Orchestrator.Executor = ExecutorSimulated
				c.Orchestrator.Simulation.MinDelay = 5
				c.Orchestrator.Simulation.MaxDelay = 1
			},
			wantErr: "min_delay",
		},
		{
			name: "success rate out of range",
			modify: func(c *Config) {
				c.Orchestrator.Executor = ExecutorSimulated
				c.Orchestrator.Simulation.SuccessRate = 1.5
			},
			wantErr: "success_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_ReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Fleet.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want errors")
	}
	for _, want := range []string{"fleet.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.Orchestrator.DispatchTimeoutDuration(); got != 10*time.Second {
		t.Errorf("DispatchTimeoutDuration() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/env/fleet.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "env-broker")
	t.Setenv("GRAYLOGIC_MQTT_ENABLED", "false")
	t.Setenv("GRAYLOGIC_API_PORT", "8181")
	t.Setenv("GRAYLOGIC_OTEL_ENDPOINT", "otel:4318")
	t.Setenv("GRAYLOGIC_ORCHESTRATOR_EXECUTOR", "simulated")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/fleet.db" {
		t.Errorf("Database.Path = %q, want /env/fleet.db", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = true, want false")
	}
	if cfg.API.Port != 8181 {
		t.Errorf("API.Port = %d, want 8181", cfg.API.Port)
	}
	if cfg.Telemetry.Endpoint != "otel:4318" {
		t.Errorf("Telemetry.Endpoint = %q, want otel:4318", cfg.Telemetry.Endpoint)
	}
	if cfg.Orchestrator.Executor != ExecutorSimulated {
		t.Errorf("Orchestrator.Executor = %q, want simulated", cfg.Orchestrator.Executor)
	}
}

func TestApplyEnvOverrides_IgnoresMalformed(t *testing.T) {
	t.Setenv("GRAYLOGIC_API_PORT", "not-a-port")
	t.Setenv("GRAYLOGIC_MQTT_ENABLED", "maybe")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want default true")
	}
}
