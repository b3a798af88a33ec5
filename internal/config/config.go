package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Device identity
	DeviceID     string `env:"DEVICE_ID"`
	DeviceIDPath string `env:"DEVICE_ID_PATH" default:"$HOME/.classlink/device_id"`

	// Discovery
	DiscoveryPort           int           `env:"DISCOVERY_PORT" default:"8888"`
	DiscoveryReceiveTimeout time.Duration `env:"DISCOVERY_RECEIVE_TIMEOUT" default:"1s"`
	DiscoveryTimeout        time.Duration `env:"DISCOVERY_TIMEOUT" default:"30s"`

	// Pairing session
	PairingTransport   string        `env:"PAIRING_TRANSPORT" default:"tcp"`
	PairingDialTimeout time.Duration `env:"PAIRING_DIAL_TIMEOUT" default:"10s"`
	PairingGrace       time.Duration `env:"PAIRING_GRACE" default:"2s"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`

	// Teacher HTTP API
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" default:"15s"`
	HTTPRateLimit float64       `env:"HTTP_RATE_LIMIT" default:"5"`
	HTTPRateBurst int           `env:"HTTP_RATE_BURST" default:"10"`

	// Local storage
	DatabaseURL string `env:"DATABASE_URL" default:"./data/classlink.db"`

	// Local control API
	LocalAPIAddr   string `env:"LOCAL_API_ADDR" default:"127.0.0.1:8790"`
	LocalAPISecret string `env:"LOCAL_API_SECRET"`

	// Sync engine
	SyncShutdownTimeout time.Duration `env:"SYNC_SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// LoadConfig loads configuration from the given env file (if present) and
// the process environment. An empty envFile means ".env".
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// a missing .env file is fine, system env vars still apply
	_ = godotenv.Load(envFile)

	config := &Config{}

	// Device identity
	if err := loadEnvString(&config.DeviceID, "DEVICE_ID", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DeviceIDPath, "DEVICE_ID_PATH", defaultDeviceIDPath()); err != nil {
		return nil, err
	}

	// Discovery
	if err := loadEnvInt(&config.DiscoveryPort, "DISCOVERY_PORT", 8888); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DiscoveryReceiveTimeout, "DISCOVERY_RECEIVE_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DiscoveryTimeout, "DISCOVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	// Pairing
	if err := loadEnvString(&config.PairingTransport, "PAIRING_TRANSPORT", "tcp"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PairingDialTimeout, "PAIRING_DIAL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PairingGrace, "PAIRING_GRACE", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	// Teacher HTTP API
	if err := loadEnvDuration(&config.HTTPTimeout, "HTTP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.HTTPRateLimit, "HTTP_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HTTPRateBurst, "HTTP_RATE_BURST", 10); err != nil {
		return nil, err
	}

	// Storage
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", "./data/classlink.db"); err != nil {
		return nil, err
	}

	// Local API
	if err := loadEnvString(&config.LocalAPIAddr, "LOCAL_API_ADDR", "127.0.0.1:8790"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LocalAPISecret, "LOCAL_API_SECRET", ""); err != nil {
		return nil, err
	}

	// Sync
	if err := loadEnvDuration(&config.SyncShutdownTimeout, "SYNC_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func defaultDeviceIDPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".classlink", "device_id")
	}
	return filepath.Join(homeDir, ".classlink", "device_id")
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		errors = append(errors, "DISCOVERY_PORT must be between 1 and 65535")
	}
	if c.DiscoveryReceiveTimeout <= 0 {
		errors = append(errors, "DISCOVERY_RECEIVE_TIMEOUT must be positive")
	}

	validTransports := []string{"tcp", "ws"}
	if !contains(validTransports, c.PairingTransport) {
		errors = append(errors, fmt.Sprintf("PAIRING_TRANSPORT must be one of: %s", strings.Join(validTransports, ", ")))
	}
	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "HEARTBEAT_INTERVAL must be positive")
	}
	if c.HTTPRateLimit <= 0 || c.HTTPRateBurst < 1 {
		errors = append(errors, "HTTP_RATE_LIMIT and HTTP_RATE_BURST must be positive")
	}
	if c.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL must not be empty")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.LocalAPISecret != "" && len(c.LocalAPISecret) < 32 {
		errors = append(errors, "LOCAL_API_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// UsesPostgres reports whether DATABASE_URL points at a postgres server
// rather than a local sqlite file.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
