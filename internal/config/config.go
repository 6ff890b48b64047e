package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Storage         StorageConfig     `yaml:"storage"`
	Bridges         []BridgeConfig    `yaml:"bridges"`
	Rules           RulesConfig       `yaml:"rules"`
	SSDP            SSDPConfig        `yaml:"ssdp"`
	MDNS            MDNSConfig        `yaml:"mdns"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	HTTP            HTTPConfig        `yaml:"http"`
	History         HistoryConfig     `yaml:"history"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Script          string            `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects where bridge state is persisted
type StorageConfig struct {
	Driver   string `yaml:"driver"`    // sqlite (default) or bolt
	BoltPath string `yaml:"bolt_path"` // Only used by the bolt driver
}

// BridgeConfig describes one emulated bridge
type BridgeConfig struct {
	Name            string `yaml:"name"`
	Address         string `yaml:"address"`
	Netmask         string `yaml:"netmask"`
	Gateway         string `yaml:"gateway"`
	MAC             string `yaml:"mac"`
	Bind            string `yaml:"bind"` // Listen address, empty for all interfaces
	Port            int    `yaml:"port"`
	HTTPSPort       int    `yaml:"https_port"` // 0 disables HTTPS
	ExternalAddress string `yaml:"external_address"`
	ExternalPort    int    `yaml:"external_port"`
	Script          string `yaml:"script"` // Overrides the top-level script
}

// RulesConfig contains rule engine settings
type RulesConfig struct {
	Interval Duration `yaml:"interval"`
}

// SSDPConfig contains discovery settings
type SSDPConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// MDNSConfig contains mDNS responder settings
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
}

// MQTTConfig contains event mirror settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// HTTPConfig contains API listener settings
type HTTPConfig struct {
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // 0 disables throttling
	Burst        int      `yaml:"burst"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// HistoryConfig contains fire history settings
type HistoryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolveScripts(filepath.Dir(path))
	return cfg, nil
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huebridge.sqlite"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "./huebridge.bolt"
	}

	for i := range cfg.Bridges {
		b := &cfg.Bridges[i]
		if b.Address == "" {
			b.Address = "127.0.0.1"
		}
		if b.Netmask == "" {
			b.Netmask = "255.255.255.0"
		}
		if b.Gateway == "" {
			b.Gateway = b.Address
		}
		if b.Port == 0 {
			b.Port = 80
		}
		if b.Script == "" {
			b.Script = cfg.Script
		}
	}

	if cfg.Rules.Interval == 0 {
		cfg.Rules.Interval = Duration(time.Second)
	}
	if cfg.SSDP.Interval == 0 {
		cfg.SSDP.Interval = Duration(30 * time.Second)
	}
	if cfg.MDNS.Hostname == "" {
		cfg.MDNS.Hostname = "huebridge"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "huebridge"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "huebridge"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = Duration(15 * time.Second)
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = Duration(15 * time.Second)
	}

	// History defaults
	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

func (cfg *Config) validate() error {
	switch cfg.Storage.Driver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: must be 0, 1 or 2")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker: required when mqtt is enabled")
	}

	if len(cfg.Bridges) == 0 {
		return fmt.Errorf("bridges: at least one bridge is required")
	}
	seen := make(map[string]bool)
	for i, b := range cfg.Bridges {
		if !macPattern.MatchString(b.MAC) {
			return fmt.Errorf("bridges[%d].mac: %q is not a MAC address", i, b.MAC)
		}
		key := strings.ToLower(b.MAC)
		if seen[key] {
			return fmt.Errorf("bridges[%d].mac: duplicate %s", i, b.MAC)
		}
		seen[key] = true
	}
	return nil
}

// resolveScripts makes relative script paths relative to the config file.
func (cfg *Config) resolveScripts(dir string) {
	for i := range cfg.Bridges {
		if s := cfg.Bridges[i].Script; s != "" && !filepath.IsAbs(s) {
			cfg.Bridges[i].Script = filepath.Join(dir, s)
		}
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
