package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes YAML content to a temporary file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const validConfig = `
rig:
  id: rig-test
  name: Test Rig

devices:
  cam0:
    target: sim.camera
    init:
      exposure_ms: 10
  laser0:
    target: sim.laser
    init:
      shutter: "ref:cam0"

nodes:
  - name: scope-a
    hostname: localhost
    req_endpoint: 127.0.0.1:5555
    pub_endpoint: 127.0.0.1:5556
    devices: [cam0]

cluster:
  connection_timeout: 5
  provision_timeout: 10

logging:
  level: debug
  format: text
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Rig.ID != "rig-test" {
		t.Errorf("rig.id = %q, want rig-test", cfg.Rig.ID)
	}
	if len(cfg.Devices) != 2 {
		t.Errorf("devices count = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices["cam0"].Target != "sim.camera" {
		t.Errorf("cam0 target = %q, want sim.camera", cfg.Devices["cam0"].Target)
	}
	if len(cfg.Nodes) != 1 || cfg.Nodes[0].Name != "scope-a" {
		t.Fatalf("nodes = %+v, want one node scope-a", cfg.Nodes)
	}
	if cfg.Cluster.GetConnectionTimeout() != 5*time.Second {
		t.Errorf("connection timeout = %v, want 5s", cfg.Cluster.GetConnectionTimeout())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "rig:\n  id: rig-min\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Fabric.GetRequestTimeout() != 5*time.Second {
		t.Errorf("fabric request timeout = %v, want 5s", cfg.Fabric.GetRequestTimeout())
	}
	if cfg.Fabric.KeepAlive.Probes != 3 {
		t.Errorf("keepalive probes = %d, want 3", cfg.Fabric.KeepAlive.Probes)
	}
	if cfg.API.Port != 8070 {
		t.Errorf("api.port = %d, want 8070", cfg.API.Port)
	}
	if cfg.Mirror.Broker.Port != 1883 {
		t.Errorf("mirror broker port = %d, want 1883", cfg.Mirror.Broker.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "rig: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIGCORE_MIRROR_HOST", "broker.example.com")
	t.Setenv("RIGCORE_LOG_LEVEL", "warn")

	path := writeTempConfig(t, "rig:\n  id: rig-env\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Mirror.Broker.Host != "broker.example.com" {
		t.Errorf("mirror host = %q, want broker.example.com", cfg.Mirror.Broker.Host)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing rig id",
			mutate:  func(c *Config) { c.Rig.ID = "" },
			wantErr: "rig.id is required",
		},
		{
			name: "device without target",
			mutate: func(c *Config) {
				c.Devices = map[string]DeviceSpec{"cam0": {}}
			},
			wantErr: "target is required",
		},
		{
			name: "node missing endpoints",
			mutate: func(c *Config) {
				c.Nodes = []NodeConfig{{Name: "n1", Hostname: "localhost"}}
			},
			wantErr: "req_endpoint and pub_endpoint are required",
		},
		{
			name: "duplicate node name",
			mutate: func(c *Config) {
				n := NodeConfig{Name: "n1", Hostname: "localhost", ReqEndpoint: "a:1", PubEndpoint: "a:2"}
				c.Nodes = []NodeConfig{n, n}
			},
			wantErr: "duplicate node name",
		},
		{
			name: "node references unknown device",
			mutate: func(c *Config) {
				c.Nodes = []NodeConfig{{
					Name: "n1", Hostname: "localhost",
					ReqEndpoint: "a:1", PubEndpoint: "a:2",
					Devices: []string{"ghost"},
				}}
			},
			wantErr: `unknown device "ghost"`,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.Mirror.QoS = 3 },
			wantErr: "mirror.qos",
		},
		{
			name:    "telemetry enabled without url",
			mutate:  func(c *Config) { c.Telemetry.Enabled = true },
			wantErr: "telemetry.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
