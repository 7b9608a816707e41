package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Backend     BackendConfig  `toml:"backend"`
	Delivery    DeliveryConfig `toml:"delivery"`
	WebSocket   WSConfig       `toml:"websocket"`
	Redis       RedisConfig    `toml:"redis"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=1,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=memory badger"` // Job store backend
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Format string   `toml:"format" validate:"oneof=text json"`
	Output []string `toml:"output"` // "stdout", "file"
}

// BackendConfig points at the external automation backend (workflow engine).
// WebhookURL may be empty at startup; submission fails fast with an
// operator-actionable error instead of degrading to a stub mode.
type BackendConfig struct {
	WebhookURL string `toml:"webhook_url"`
	// Timeout bounds the synchronous trigger call. "0" waits indefinitely -
	// an explicit operator choice, not a constant.
	Timeout string `toml:"timeout" validate:"duration"`
}

// DeliveryConfig tunes the async completion delivery subsystem.
type DeliveryConfig struct {
	// Retention is the grace period a terminal record stays queryable before
	// garbage collection, so late pollers still see the result.
	Retention string `toml:"retention" validate:"duration"`
	// HeartbeatInterval paces inert keep-alive events on push channels.
	HeartbeatInterval string `toml:"heartbeat_interval" validate:"duration"`
	// PollInterval and PollMaxAttempts bound the polling fallback
	// (2s * 300 = 10 minute ceiling by default).
	PollInterval    string `toml:"poll_interval" validate:"duration"`
	PollMaxAttempts int    `toml:"poll_max_attempts" validate:"gte=1"`
	// SweepSchedule is the cron expression for the retention sweep that
	// catches terminal records whose deletion timer did not survive a restart.
	SweepSchedule string `toml:"sweep_schedule"`
}

// WSConfig contains configuration for the WebSocket broadcast hub.
type WSConfig struct {
	// UpdateThrottle caps the rate of non-terminal update broadcasts so a
	// chatty workflow does not flood connected UIs. Terminal updates are
	// always delivered. Empty disables throttling.
	UpdateThrottle string `toml:"update_throttle" validate:"omitempty,duration"`
}

// RedisConfig enables the optional multi-replica fan-out bridge. When enabled,
// ingested updates are published to Channel and every replica re-injects
// received updates into its local registry.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in courier.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Backend: BackendConfig{
			WebhookURL: "",
			Timeout:    "30s",
		},
		Delivery: DeliveryConfig{
			Retention:         "2m",
			HeartbeatInterval: "30s",
			PollInterval:      "2s",
			PollMaxAttempts:   300,
			SweepSchedule:     "*/1 * * * *",
		},
		WebSocket: WSConfig{
			UpdateThrottle: "250ms",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "courier:updates",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration against struct tags. Duration fields use
// a custom "duration" rule; "0" is accepted as an explicit infinite timeout.
func Validate(config *Config) error {
	v := validator.New()
	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" || s == "0" {
			return true
		}
		_, err := time.ParseDuration(s)
		return err == nil
	}); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}

	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COURIER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COURIER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COURIER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if storageType := os.Getenv("COURIER_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("COURIER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("COURIER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COURIER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COURIER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Backend configuration
	if webhookURL := os.Getenv("COURIER_BACKEND_WEBHOOK_URL"); webhookURL != "" {
		config.Backend.WebhookURL = webhookURL
	}
	if timeout := os.Getenv("COURIER_BACKEND_TIMEOUT"); timeout != "" {
		config.Backend.Timeout = timeout
	}

	// Delivery configuration
	if retention := os.Getenv("COURIER_DELIVERY_RETENTION"); retention != "" {
		config.Delivery.Retention = retention
	}
	if heartbeat := os.Getenv("COURIER_DELIVERY_HEARTBEAT_INTERVAL"); heartbeat != "" {
		config.Delivery.HeartbeatInterval = heartbeat
	}
	if pollInterval := os.Getenv("COURIER_DELIVERY_POLL_INTERVAL"); pollInterval != "" {
		config.Delivery.PollInterval = pollInterval
	}
	if pollMaxAttempts := os.Getenv("COURIER_DELIVERY_POLL_MAX_ATTEMPTS"); pollMaxAttempts != "" {
		if n, err := strconv.Atoi(pollMaxAttempts); err == nil && n > 0 {
			config.Delivery.PollMaxAttempts = n
		}
	}

	// Redis bridge configuration
	if enabled := os.Getenv("COURIER_REDIS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Redis.Enabled = b
		}
	}
	if addr := os.Getenv("COURIER_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("COURIER_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if channel := os.Getenv("COURIER_REDIS_CHANNEL"); channel != "" {
		config.Redis.Channel = channel
	}
}

// ParseDurationOr parses a duration string, falling back to def on errors.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseTimeout parses the backend trigger timeout. "0" or "" means wait
// indefinitely (returns zero duration).
func ParseTimeout(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
