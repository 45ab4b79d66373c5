// Package config loads deploydash settings from defaults, an optional YAML
// file and DEPLOYDASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transports accepted by broker.transport.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config contains runtime configuration for deploydash.
type Config struct {
	Broker      BrokerConfig      `yaml:"broker" mapstructure:"broker"`
	Board       BoardConfig       `yaml:"board" mapstructure:"board"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
}

// BrokerConfig captures message bus connection settings.
type BrokerConfig struct {
	Transport             string `yaml:"transport" mapstructure:"transport"`
	URL                   string `yaml:"url" mapstructure:"url"`
	Host                  string `yaml:"host" mapstructure:"host"`
	Port                  int    `yaml:"port" mapstructure:"port"`
	ClientIDPrefix        string `yaml:"client_id_prefix" mapstructure:"client_id_prefix"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
	RetryDelayMs          int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (b BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSeconds) * time.Second
}

// RetryDelay returns the reconnect delay as a duration.
func (b BrokerConfig) RetryDelay() time.Duration {
	return time.Duration(b.RetryDelayMs) * time.Millisecond
}

// BoardConfig captures rendering and action settings.
type BoardConfig struct {
	RenderDelayMs     int    `yaml:"render_delay_ms" mapstructure:"render_delay_ms"`
	RefreshCooldownMs int    `yaml:"refresh_cooldown_ms" mapstructure:"refresh_cooldown_ms"`
	TickSeconds       int    `yaml:"tick_seconds" mapstructure:"tick_seconds"`
	Filter            string `yaml:"filter" mapstructure:"filter"`
}

func (b BoardConfig) RenderDelay() time.Duration {
	return time.Duration(b.RenderDelayMs) * time.Millisecond
}

func (b BoardConfig) RefreshCooldown() time.Duration {
	return time.Duration(b.RefreshCooldownMs) * time.Millisecond
}

func (b BoardConfig) TickInterval() time.Duration {
	return time.Duration(b.TickSeconds) * time.Second
}

// LoggingConfig captures logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// ServerConfig captures HTTP API settings.
type ServerConfig struct {
	Enabled             bool     `yaml:"enabled" mapstructure:"enabled"`
	Port                int      `yaml:"port" mapstructure:"port"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ReadTimeout returns the configured read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the configured write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// RedisConfig captures snapshot sharing settings.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	URL        string `yaml:"url" mapstructure:"url"`
	Key        string `yaml:"key" mapstructure:"key"`
	Channel    string `yaml:"channel" mapstructure:"channel"`
	TTLSeconds int    `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// CredentialsConfig locates the saved broker login.
type CredentialsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Load reads configuration from the provided path and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("broker.transport", TransportMQTT)
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.host", "")
	v.SetDefault("broker.port", 443)
	v.SetDefault("broker.client_id_prefix", "deploydash_")
	v.SetDefault("broker.connect_timeout_seconds", 3)
	v.SetDefault("broker.retry_delay_ms", 2000)

	v.SetDefault("board.render_delay_ms", 100)
	v.SetDefault("board.refresh_cooldown_ms", 1000)
	v.SetDefault("board.tick_seconds", 1)
	v.SetDefault("board.filter", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key", "deploydash:snapshot")
	v.SetDefault("redis.channel", "deploydash:changes")
	v.SetDefault("redis.ttl_seconds", 0)

	v.SetDefault("credentials.path", "")

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".deploydash"))
		}
		v.AddConfigPath("/etc/deploydash")
	}

	v.SetEnvPrefix("DEPLOYDASH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		return fmt.Errorf("broker.transport: unsupported transport %q", c.Broker.Transport)
	}
	if c.Broker.RetryDelayMs <= 0 {
		return fmt.Errorf("broker.retry_delay_ms must be positive")
	}
	if c.Board.RenderDelayMs <= 0 {
		return fmt.Errorf("board.render_delay_ms must be positive")
	}
	if c.Board.TickSeconds <= 0 {
		return fmt.Errorf("board.tick_seconds must be positive")
	}
	return nil
}
