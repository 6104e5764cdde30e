// ABOUTME: Configuration loading and parsing for the alfa-future agent chat client.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the chat client and the dev harness need.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig names the agent backend endpoint.
type ServerConfig struct {
	// Host is the backend authority, e.g. "app.alfa-future.ru".
	Host string `yaml:"host"`
	// Secure selects wss/https over ws/http.
	Secure bool `yaml:"secure"`
	// ListenAddr is where the dev harness binds, e.g. ":8787".
	ListenAddr string `yaml:"listen_addr"`
}

// TransportConfig tunes reconnection and queuing.
type TransportConfig struct {
	ReconnectBase time.Duration `yaml:"-"`
	ReconnectMax  time.Duration `yaml:"-"`
	QueueLimit    int           `yaml:"queue_limit"`

	// Raw string values for YAML unmarshaling
	ReconnectBaseRaw string `yaml:"reconnect_base"`
	ReconnectMaxRaw  string `yaml:"reconnect_max"`
}

// AuthConfig holds the externally supplied bearer token and, for the dev
// harness, the HS256 secret it verifies tokens with.
type AuthConfig struct {
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present: a local
// insecure endpoint matching the dev harness defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "localhost:8787",
			ListenAddr: ":8787",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Transport.QueueLimit < 0 {
		return fmt.Errorf("transport.queue_limit must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Transport.ReconnectBaseRaw != "" {
		cfg.Transport.ReconnectBase, err = time.ParseDuration(cfg.Transport.ReconnectBaseRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_base %q: %w", cfg.Transport.ReconnectBaseRaw, err)
		}
	}

	if cfg.Transport.ReconnectMaxRaw != "" {
		cfg.Transport.ReconnectMax, err = time.ParseDuration(cfg.Transport.ReconnectMaxRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_max %q: %w", cfg.Transport.ReconnectMaxRaw, err)
		}
	}

	return nil
}
