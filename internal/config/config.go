package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the govirtus daemon, loaded from
// YAML with environment variable overrides for secrets.
type Config struct {
	Cloud   CloudConfig   `yaml:"cloud"`
	Auth    AuthConfig    `yaml:"auth"`
	Poll    PollConfig    `yaml:"poll"`
	Command CommandConfig `yaml:"command"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// CloudConfig holds the gateway connection settings. The API keys
// default to the published values and rarely need setting.
type CloudConfig struct {
	BaseURL        string       `yaml:"base_url"`
	HomeID         string       `yaml:"home_id"`
	AircoAPIKey    string       `yaml:"airco_api_key"`
	NodeAPIKey     string       `yaml:"node_api_key"`
	SensorsAPIKey  string       `yaml:"sensors_api_key"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	Nodes          []NodeConfig `yaml:"nodes"`
}

// NodeConfig identifies one air conditioner to manage.
type NodeConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// AuthConfig holds OAuth settings and credential persistence.
type AuthConfig struct {
	TokenURL            string     `yaml:"token_url"`
	ClientID            string     `yaml:"client_id"`
	StatePath           string     `yaml:"state_path"`
	ExpiryMarginSeconds int        `yaml:"expiry_margin_seconds"`
	Blob                BlobConfig `yaml:"blob"`
}

// BlobConfig mirrors the credential state to S3-compatible storage so a
// fresh host can pick up a still-valid refresh token.
type BlobConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

type PollConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	Errors          bool `yaml:"errors"`
}

// CommandConfig tunes command validation. Swing values extend the
// accepted set beyond AUTO for units that report fixed positions.
type CommandConfig struct {
	MinTemperature float64  `yaml:"min_temperature"`
	MaxTemperature float64  `yaml:"max_temperature"`
	SwingValues    []string `yaml:"swing_values"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	Discovery       bool   `yaml:"discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
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

func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			TimeoutSeconds: 15,
		},
		Auth: AuthConfig{
			TokenURL:            "https://keycloak-prod.iot.leroymerlin.fr/realms/enki/protocol/openid-connect/token",
			ClientID:            "enki-front",
			StatePath:           "/var/lib/govirtus/oauth.json",
			ExpiryMarginSeconds: 60,
		},
		Poll: PollConfig{
			IntervalSeconds: 30,
			Errors:          true,
		},
		Command: CommandConfig{
			MinTemperature: 16,
			MaxTemperature: 30,
		},
		MQTT: MQTTConfig{
			ClientID:        "govirtus",
			TopicPrefix:     "govirtus",
			Discovery:       true,
			DiscoveryPrefix: "homeassistant",
		},
		Server: ServerConfig{
			Listen: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOVIRTUS_HOME_ID"); v != "" {
		cfg.Cloud.HomeID = v
	}
	if v := os.Getenv("GOVIRTUS_STATE_PATH"); v != "" {
		cfg.Auth.StatePath = v
	}
	if v := os.Getenv("GOVIRTUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

func (c *Config) Validate() error {
	if c.Cloud.HomeID == "" {
		return fmt.Errorf("cloud.home_id is required")
	}
	if len(c.Cloud.Nodes) == 0 {
		return fmt.Errorf("cloud.nodes must list at least one node")
	}
	for i, node := range c.Cloud.Nodes {
		if node.ID == "" {
			return fmt.Errorf("cloud.nodes[%d].id is required", i)
		}
	}
	if c.Auth.StatePath == "" {
		return fmt.Errorf("auth.state_path is required")
	}
	if c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("poll.interval_seconds must be positive")
	}
	if c.Command.MinTemperature >= c.Command.MaxTemperature {
		return fmt.Errorf("command temperature range is inverted")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not one of json, console", c.Logging.Format)
	}
	return nil
}

// Timeout returns the gateway HTTP timeout as a Duration.
func (c CloudConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExpiryMargin returns the token early-refresh margin as a Duration.
func (c AuthConfig) ExpiryMargin() time.Duration {
	return time.Duration(c.ExpiryMarginSeconds) * time.Second
}

// Interval returns the poll cadence as a Duration.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
