package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/verdant/internal/models"
)

// Config represents the application configuration.
type Config struct {
	Environment string          `toml:"environment"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Validator   ValidatorConfig `toml:"validator"`
	Dedup       DedupConfig     `toml:"dedup"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Sources     SourcesConfig   `toml:"sources"`
	Schedule    ScheduleConfig  `toml:"schedule"`
	Export      ExportConfig    `toml:"export"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration for the ledger.
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type FilesystemConfig struct {
	Images string `toml:"images" validate:"required"` // directory for accepted files
}

// PipelineConfig bounds run-wide concurrency and the fetch retry policy.
type PipelineConfig struct {
	Concurrency  int             `toml:"concurrency" validate:"gte=1"`
	RateCalls    int             `toml:"rate_calls" validate:"gte=1"` // default per-source window size
	RatePeriod   models.Duration `toml:"rate_period" validate:"gt=0"` // default per-source window length
	MaxAttempts  int             `toml:"max_attempts" validate:"gte=1"`
	BackoffBase  models.Duration `toml:"backoff_base"`
	BackoffMax   models.Duration `toml:"backoff_max"`
	FetchTimeout models.Duration `toml:"fetch_timeout"`
	MaxBodySize  int64           `toml:"max_body_size" validate:"gte=1"`
	UserAgent    string          `toml:"user_agent"`
	Force        bool            `toml:"force"` // reprocess items already terminal
}

// ValidatorConfig constrains which fetched images are accepted.
type ValidatorConfig struct {
	MinWidth          int      `toml:"min_width" validate:"gte=1"`
	MinHeight         int      `toml:"min_height" validate:"gte=1"`
	AllowedFormats    []string `toml:"allowed_formats" validate:"min=1"`
	AllowedColorModes []string `toml:"allowed_color_modes"`
}

// DedupConfig configures the duplicate index.
type DedupConfig struct {
	Metric    string  `toml:"metric" validate:"oneof=cosine euclidean"`
	Threshold float64 `toml:"threshold" validate:"gt=0"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider    string          `toml:"provider" validate:"oneof=http gemini"`
	Endpoint    string          `toml:"endpoint"`
	APIKey      string          `toml:"api_key"`
	Model       string          `toml:"model"`
	Dimension   int             `toml:"dimension" validate:"gte=1"`
	Timeout     models.Duration `toml:"timeout"`
	RateLimit   int             `toml:"rate_limit"` // requests per second
	MaxAttempts int             `toml:"max_attempts" validate:"gte=1"`
}

// SourcesConfig points at the source catalog files (TOML or YAML).
type SourcesConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

// ScheduleConfig enables periodic pipeline runs.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // 6-field cron expression (with seconds)
}

// ExportConfig controls the structured ledger export artifact.
type ExportConfig struct {
	Path string `toml:"path"` // JSONL output, one record per item
}

// NewDefaultConfig creates a configuration with default values. Only
// user-facing settings are expected in verdant.toml; everything here is a
// working default.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/ledger",
			},
			Filesystem: FilesystemConfig{
				Images: "./data/images",
			},
		},
		Pipeline: PipelineConfig{
			Concurrency:  8,
			RateCalls:    5,
			RatePeriod:   models.Duration(time.Second),
			MaxAttempts:  3,
			BackoffBase:  models.Duration(time.Second),
			BackoffMax:   models.Duration(30 * time.Second),
			FetchTimeout: models.Duration(30 * time.Second),
			MaxBodySize:  10 * 1024 * 1024, // 10MB
			UserAgent:    "verdant/" + Version,
		},
		Validator: ValidatorConfig{
			MinWidth:          224,
			MinHeight:         224,
			AllowedFormats:    []string{"jpeg", "png", "webp"},
			AllowedColorModes: []string{"rgba", "ycbcr"},
		},
		Dedup: DedupConfig{
			Metric:    "cosine",
			Threshold: 0.08,
		},
		Embedding: EmbeddingConfig{
			Provider:    "http",
			Endpoint:    "http://localhost:9090/embed",
			Model:       "clip-vit-b32",
			Dimension:   512,
			Timeout:     models.Duration(60 * time.Second),
			RateLimit:   10,
			MaxAttempts: 3,
		},
		Sources: SourcesConfig{
			Dir: "./sources",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 0 */6 * * *", // every 6 hours
		},
		Export: ExportConfig{
			Path: "./data/ledger-export.jsonl",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the configuration. A validation
// failure here is a hard startup failure.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Embedding.Provider == "http" && c.Embedding.Endpoint == "" {
		return fmt.Errorf("invalid configuration: embedding.endpoint is required for the http provider")
	}
	if c.Embedding.Provider == "gemini" && c.Embedding.APIKey == "" {
		return fmt.Errorf("invalid configuration: embedding.api_key is required for the gemini provider")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VERDANT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("VERDANT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("VERDANT_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if dir := os.Getenv("VERDANT_IMAGES_DIR"); dir != "" {
		config.Storage.Filesystem.Images = dir
	}
	if dir := os.Getenv("VERDANT_SOURCES_DIR"); dir != "" {
		config.Sources.Dir = dir
	}
	if key := os.Getenv("VERDANT_EMBEDDING_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if endpoint := os.Getenv("VERDANT_EMBEDDING_ENDPOINT"); endpoint != "" {
		config.Embedding.Endpoint = endpoint
	}
	if n := os.Getenv("VERDANT_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			config.Pipeline.Concurrency = v
		}
	}
}

// DefaultRateLimit returns the per-source rate limit applied to sources
// whose definition carries none of its own.
func (c *Config) DefaultRateLimit() models.RateLimitConfig {
	return models.RateLimitConfig{
		Calls:  c.Pipeline.RateCalls,
		Period: c.Pipeline.RatePeriod,
	}
}

// ApplyFlagOverrides applies command-line flag values on top of the loaded
// configuration (highest priority).
func ApplyFlagOverrides(config *Config, force bool, exportPath string) {
	if force {
		config.Pipeline.Force = true
	}
	if exportPath != "" {
		config.Export.Path = exportPath
	}
}
