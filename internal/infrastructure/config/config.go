package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Rig Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Rig       RigConfig             `yaml:"rig"`
	Devices   map[string]DeviceSpec `yaml:"devices"`
	Nodes     []NodeConfig          `yaml:"nodes"`
	Cluster   ClusterConfig         `yaml:"cluster"`
	Fabric    FabricConfig          `yaml:"fabric"`
	API       APIConfig             `yaml:"api"`
	WebSocket WebSocketConfig       `yaml:"websocket"`
	Mirror    MirrorConfig          `yaml:"mirror"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// RigConfig contains rig-wide identification.
type RigConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DeviceSpec declares one device to be built by the object graph builder.
//
// Init values may reference other devices in the same spec using the
// explicit reference form "ref:<uid>". Bare strings are always literals.
type DeviceSpec struct {
	Target   string         `yaml:"target"`
	Init     map[string]any `yaml:"init"`
	Defaults map[string]any `yaml:"defaults"`
}

// NodeConfig describes one cluster node: a named group of devices hosted
// either by this process (hostname resolves locally) or on a remote machine.
type NodeConfig struct {
	Name        string   `yaml:"name"`
	Hostname    string   `yaml:"hostname"`
	ReqEndpoint string   `yaml:"req_endpoint"`
	PubEndpoint string   `yaml:"pub_endpoint"`
	Devices     []string `yaml:"devices"`
}

// ClusterConfig contains cluster-wide startup policy.
type ClusterConfig struct {
	ConnectionTimeout int `yaml:"connection_timeout"` // seconds
	ProvisionTimeout  int `yaml:"provision_timeout"`  // seconds
}

// GetConnectionTimeout returns the per-node connection timeout as a Duration.
func (c ClusterConfig) GetConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

// GetProvisionTimeout returns the node readiness timeout as a Duration.
func (c ClusterConfig) GetProvisionTimeout() time.Duration {
	return time.Duration(c.ProvisionTimeout) * time.Second
}

// FabricConfig contains transport-level settings for the device fabric.
type FabricConfig struct {
	ConnectTimeout int             `yaml:"connect_timeout"` // seconds
	RequestTimeout int             `yaml:"request_timeout"` // seconds
	KeepAlive      KeepAliveConfig `yaml:"keepalive"`
}

// KeepAliveConfig configures TCP keep-alive probing so a dead peer is
// detected well before the OS-level default timeout.
type KeepAliveConfig struct {
	Idle     int `yaml:"idle"`     // seconds before first probe
	Interval int `yaml:"interval"` // seconds between probes
	Probes   int `yaml:"probes"`   // probes before declaring the peer dead
}

// GetIdle returns the keep-alive idle threshold as a Duration.
func (k KeepAliveConfig) GetIdle() time.Duration {
	return time.Duration(k.Idle) * time.Second
}

// GetInterval returns the keep-alive probe interval as a Duration.
func (k KeepAliveConfig) GetInterval() time.Duration {
	return time.Duration(k.Interval) * time.Second
}

// GetConnectTimeout returns the dial timeout as a Duration.
func (f FabricConfig) GetConnectTimeout() time.Duration {
	return time.Duration(f.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the request send/receive timeout as a Duration.
func (f FabricConfig) GetRequestTimeout() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MirrorConfig contains MQTT property mirror settings.
type MirrorConfig struct {
	Enabled   bool                  `yaml:"enabled"`
	Broker    MirrorBrokerConfig    `yaml:"broker"`
	Auth      MirrorAuthConfig      `yaml:"auth"`
	QoS       int                   `yaml:"qos"`
	Reconnect MirrorReconnectConfig `yaml:"reconnect"`
}

// MirrorBrokerConfig contains MQTT broker connection details.
type MirrorBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MirrorAuthConfig contains MQTT authentication credentials.
type MirrorAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MirrorReconnectConfig contains MQTT reconnection settings.
type MirrorReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TelemetryConfig contains InfluxDB property history settings.
type TelemetryConfig struct {
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RIGCORE_SECTION_KEY
// For example: RIGCORE_MIRROR_HOST, RIGCORE_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Useful for embedding and tests.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Rig: RigConfig{
			ID:   "rig-001",
			Name: "Rig Core",
		},
		Cluster: ClusterConfig{
			ConnectionTimeout: 15,
			ProvisionTimeout:  30,
		},
		Fabric: FabricConfig{
			ConnectTimeout: 10,
			RequestTimeout: 5,
			KeepAlive: KeepAliveConfig{
				Idle:     5,
				Interval: 2,
				Probes:   3,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8070,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Mirror: MirrorConfig{
			Broker: MirrorBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rigcore",
			},
			QoS: 1,
			Reconnect: MirrorReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RIGCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("RIGCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Mirror
	if v := os.Getenv("RIGCORE_MIRROR_HOST"); v != "" {
		cfg.Mirror.Broker.Host = v
	}
	if v := os.Getenv("RIGCORE_MIRROR_USERNAME"); v != "" {
		cfg.Mirror.Auth.Username = v
	}
	if v := os.Getenv("RIGCORE_MIRROR_PASSWORD"); v != "" {
		cfg.Mirror.Auth.Password = v
	}

	// API
	if v := os.Getenv("RIGCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Telemetry
	if v := os.Getenv("RIGCORE_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Rig.ID == "" {
		errs = append(errs, "rig.id is required")
	}

	// Device spec validation
	for uid, spec := range c.Devices {
		if uid == "" {
			errs = append(errs, "devices: empty uid")
		}
		if spec.Target == "" {
			errs = append(errs, fmt.Sprintf("devices.%s: target is required", uid))
		}
	}

	// Node validation
	seen := make(map[string]bool, len(c.Nodes))
	for _, node := range c.Nodes {
		if node.Name == "" {
			errs = append(errs, "nodes: name is required")
			continue
		}
		if seen[node.Name] {
			errs = append(errs, fmt.Sprintf("nodes.%s: duplicate node name", node.Name))
		}
		seen[node.Name] = true
		if node.Hostname == "" {
			errs = append(errs, fmt.Sprintf("nodes.%s: hostname is required", node.Name))
		}
		if node.ReqEndpoint == "" || node.PubEndpoint == "" {
			errs = append(errs, fmt.Sprintf("nodes.%s: req_endpoint and pub_endpoint are required", node.Name))
		}
		for _, uid := range node.Devices {
			if _, ok := c.Devices[uid]; !ok {
				errs = append(errs, fmt.Sprintf("nodes.%s: unknown device %q", node.Name, uid))
			}
		}
	}

	// Mirror validation
	if c.Mirror.QoS < 0 || c.Mirror.QoS > 2 {
		errs = append(errs, "mirror.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			errs = append(errs, "telemetry.bucket is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
