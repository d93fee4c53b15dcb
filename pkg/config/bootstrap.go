package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/open-rov/rovbridge/pkg/link"
)

// Environment overrides applied after the file is parsed.
const (
	EnvHTTPPort = "ROVBRIDGE_HTTP_PORT"
	EnvLogLevel = "ROVBRIDGE_LOG_LEVEL"
)

// BootstrapConfig holds the startup configuration loaded from bridge_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig   `yaml:"logging"`
	Server  ServerConfig    `yaml:"server"`
	Links   []LinkConfig    `yaml:"links"`
	Vehicle VehicleConfig   `yaml:"vehicle"`
	ZeroMQ  ZeroMQBootstrap `yaml:"zeromq"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// ServerConfig holds the HTTP/WebSocket listener settings
type ServerConfig struct {
	HTTPPort       int      `yaml:"http_port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LinkConfig describes one named serial link
type LinkConfig struct {
	Name        string `yaml:"name"`
	BaudRate    int    `yaml:"baud_rate,omitempty"`
	Path        string `yaml:"path,omitempty"`
	AutoConnect bool   `yaml:"auto_connect,omitempty"`
	WriteQueue  int    `yaml:"write_queue,omitempty"`
}

// VehicleConfig points at the persisted vehicle configuration
type VehicleConfig struct {
	ConfigFile  string `yaml:"config_file"`
	ESCChannels int    `yaml:"esc_channels,omitempty"`
}

// ZeroMQBootstrap holds the optional telemetry PUB socket settings
type ZeroMQBootstrap struct {
	Enabled            bool   `yaml:"enabled"`
	PublishBindAddress string `yaml:"publish_bind_address,omitempty"`
}

// LinkOptions converts the configured links for the link manager.
func (c *BootstrapConfig) LinkOptions() []link.Config {
	out := make([]link.Config, 0, len(c.Links))
	for _, l := range c.Links {
		out = append(out, link.Config{
			Name:       l.Name,
			BaudRate:   l.BaudRate,
			WriteQueue: l.WriteQueue,
		})
	}
	return out
}

// LoadBootstrapConfig reads, defaults and validates the bootstrap configuration file.
// Relative paths inside the file are resolved against the file's directory.
func LoadBootstrapConfig(filePath string) (*BootstrapConfig, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path for bootstrap config '%s': %w", filePath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", absPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", absPath, err)
	}

	bootstrapCfg.applyDefaults(filepath.Dir(absPath))
	if err := bootstrapCfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) applyDefaults(baseDir string) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if len(c.Links) == 0 {
		c.Links = []LinkConfig{{Name: link.Primary}}
	}
	for i := range c.Links {
		if c.Links[i].BaudRate == 0 {
			c.Links[i].BaudRate = link.DefaultBaudRate
		}
	}
	if c.Vehicle.ConfigFile == "" {
		c.Vehicle.ConfigFile = "vehicle.yaml"
	}
	if !filepath.IsAbs(c.Vehicle.ConfigFile) {
		c.Vehicle.ConfigFile = filepath.Join(baseDir, c.Vehicle.ConfigFile)
	}
	if c.Logging.LogPath != "" && !filepath.IsAbs(c.Logging.LogPath) {
		c.Logging.LogPath = filepath.Join(baseDir, c.Logging.LogPath)
	}
	if c.ZeroMQ.Enabled && c.ZeroMQ.PublishBindAddress == "" {
		c.ZeroMQ.PublishBindAddress = "tcp://*:5556"
	}
}

func (c *BootstrapConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvHTTPPort, v, err)
		}
		c.Server.HTTPPort = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate reports the first missing or inconsistent field.
func (c *BootstrapConfig) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid field in bootstrap config: server.http_port %d", c.Server.HTTPPort)
	}
	seen := make(map[string]bool, len(c.Links))
	paths := make(map[string]string, len(c.Links))
	hasPrimary := false
	for i, l := range c.Links {
		if l.Name == "" {
			return fmt.Errorf("missing required field in bootstrap config: links[%d].name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate link name in bootstrap config: links[%d].name %q", i, l.Name)
		}
		seen[l.Name] = true
		if l.Name == link.Primary {
			hasPrimary = true
		}
		if l.AutoConnect && l.Path == "" {
			return fmt.Errorf("missing required field in bootstrap config: links[%d].path (auto_connect is set)", i)
		}
		if l.Path != "" {
			if other, dup := paths[l.Path]; dup {
				return fmt.Errorf("duplicate path in bootstrap config: links[%d].path %q is already used by link %q", i, l.Path, other)
			}
			paths[l.Path] = l.Name
		}
		if l.BaudRate < 0 || l.WriteQueue < 0 {
			return fmt.Errorf("invalid field in bootstrap config: links[%d] baud_rate/write_queue must not be negative", i)
		}
	}
	if !hasPrimary {
		return fmt.Errorf("missing required link in bootstrap config: %q", link.Primary)
	}
	if c.Vehicle.ESCChannels < 0 {
		return fmt.Errorf("invalid field in bootstrap config: vehicle.esc_channels %d", c.Vehicle.ESCChannels)
	}
	if c.ZeroMQ.Enabled && c.ZeroMQ.PublishBindAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: zeromq.publish_bind_address")
	}
	return nil
}
