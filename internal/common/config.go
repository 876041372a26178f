package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Mantis      MantisConfig    `toml:"mantis"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Jobs        JobsConfig      `toml:"jobs"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// MantisConfig contains everything needed to talk to the remote tracker.
// Credentials are normally supplied via environment (MANTIS_USERNAME etc.)
// rather than committed to the config file.
type MantisConfig struct {
	BaseURL            string        `toml:"base_url"`            // Base URL of the Mantis instance
	Username           string        `toml:"username"`            // Login user
	Password           string        `toml:"password"`            // Login password
	QueryID            string        `toml:"query_id"`            // Saved filter id for the CSV export
	EnrichConcurrency  int           `toml:"enrich_concurrency"`  // Parallel priority fetches per chunk
	ExtractConcurrency int           `toml:"extract_concurrency"` // Parallel detail fetches per chunk
	RequestTimeout     time.Duration `toml:"request_timeout"`     // Per-request timeout
	RequestsPerSecond  float64       `toml:"requests_per_second"` // Outbound rate limit against the tracker
	UserAgent          string        `toml:"user_agent"`          // User agent sent on every request
	PriorityTTL        time.Duration `toml:"priority_ttl"`        // Cache TTL for a found priority
	PriorityMissTTL    time.Duration `toml:"priority_miss_ttl"`   // Cache TTL for a not-found priority
}

type StorageConfig struct {
	DataDir    string `toml:"data_dir"`    // Directory for JSON data files
	UploadsDir string `toml:"uploads_dir"` // Directory for uploaded attachments
}

// SchedulerConfig controls the optional automatic refresh
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron expression, e.g. "0 0 7 * * *"
}

// JobsConfig contains configuration for background job bookkeeping
type JobsConfig struct {
	ExtractRetention time.Duration `toml:"extract_retention"` // How long finished extraction jobs stay queryable
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters mirror what the legacy dashboard used in production.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 3001,
			Host: "localhost",
		},
		Mantis: MantisConfig{
			QueryID:            "1291",
			EnrichConcurrency:  5,
			ExtractConcurrency: 3,
			RequestTimeout:     15 * time.Second,
			RequestsPerSecond:  8,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PriorityTTL:        30 * time.Minute,
			PriorityMissTTL:    5 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:    "./data",
			UploadsDir: "./uploads",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 0 7 * * 1-5", // Weekday mornings, if enabled
		},
		Jobs: JobsConfig{
			ExtractRetention: 1 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path skips the file stage.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env is how the legacy deployment carried credentials; load it if
	// present so the MANTIS_* variables below pick the values up.
	_ = godotenv.Load(".env.local", ".env")

	applyEnvOverrides(config)

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// The MANTIS_* names are kept compatible with the legacy dashboard.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PILOTAGE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("PILOTAGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PILOTAGE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if baseURL := os.Getenv("MANTIS_BASE_URL"); baseURL != "" {
		config.Mantis.BaseURL = baseURL
	}
	if username := os.Getenv("MANTIS_USERNAME"); username != "" {
		config.Mantis.Username = username
	}
	if password := os.Getenv("MANTIS_PASSWORD"); password != "" {
		config.Mantis.Password = password
	}
	if qid := os.Getenv("MANTIS_SOURCE_QUERY_ID"); qid != "" {
		config.Mantis.QueryID = qid
	}
	if concurrency := os.Getenv("MANTIS_ENRICH_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Mantis.EnrichConcurrency = c
		}
	}

	if dataDir := os.Getenv("PILOTAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
	if uploadsDir := os.Getenv("PILOTAGE_UPLOADS_DIR"); uploadsDir != "" {
		config.Storage.UploadsDir = uploadsDir
	}

	if level := os.Getenv("PILOTAGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks that the configuration is usable for talking to Mantis.
// Storage-only operation (topics, documentation) works without credentials,
// so this is called by the refresh paths rather than at startup.
func (c *MantisConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("mantis base_url is not configured")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("mantis credentials are not configured")
	}
	return nil
}
