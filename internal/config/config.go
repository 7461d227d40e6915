package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"catpipe/internal/dataprocessing"
)

// EnvPrefix namespaces every environment variable, e.g. CATPIPE_SPLIT_RATIOS
const EnvPrefix = "CATPIPE"

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Dataset   DatasetConfig   `yaml:"dataset" envconfig:"DATASET"`
	Split     SplitConfig     `yaml:"split" envconfig:"SPLIT"`
	Model     ModelConfig     `yaml:"model" envconfig:"MODEL"`
	Render    RenderConfig    `yaml:"render" envconfig:"RENDER"`
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ImagesDir  string `yaml:"images_dir" envconfig:"IMAGES_DIR" validate:"required"`
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR" validate:"required"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// DatasetConfig describes the input file and its schema
type DatasetConfig struct {
	Path         string   `yaml:"path" envconfig:"PATH" validate:"required"`
	Sheet        string   `yaml:"sheet" envconfig:"SHEET"`
	FeatureNames []string `yaml:"feature_names" envconfig:"FEATURE_NAMES"`
	TargetName   string   `yaml:"target_name" envconfig:"TARGET_NAME" validate:"required"`
	// Columns lists the features tabulated against the target; empty means the first two
	Columns []string `yaml:"columns" envconfig:"COLUMNS"`
}

// SplitConfig controls the train/eval/test partitioning
type SplitConfig struct {
	Ratios       []float64 `yaml:"ratios" envconfig:"RATIOS"`
	Seed         int64     `yaml:"seed" envconfig:"SEED"`
	StrictRatios bool      `yaml:"strict_ratios" envconfig:"STRICT_RATIOS"`
	Tolerance    float64   `yaml:"tolerance" envconfig:"TOLERANCE" validate:"min=0,max=0.01"`
}

// ModelConfig selects and tunes the classifier
type ModelConfig struct {
	Kind            string `yaml:"kind" envconfig:"KIND" validate:"oneof=tree forest"`
	Trees           int    `yaml:"trees" envconfig:"TREES" validate:"min=1,max=500"`
	FeaturesPerTree int    `yaml:"features_per_tree" envconfig:"FEATURES_PER_TREE" validate:"min=1"`
}

// RenderConfig controls the PNG output
type RenderConfig struct {
	Enabled bool     `yaml:"enabled" envconfig:"ENABLED"`
	Depth   int      `yaml:"depth" envconfig:"DEPTH" validate:"min=1,max=10"`
	Labels  []string `yaml:"labels" envconfig:"LABELS"`
}

// ExportConfig selects the written artifacts and their optional mirror
type ExportConfig struct {
	CSV     bool        `yaml:"csv" envconfig:"CSV"`
	XLSX    bool        `yaml:"xlsx" envconfig:"XLSX"`
	Parquet bool        `yaml:"parquet" envconfig:"PARQUET"`
	Store   StoreConfig `yaml:"store" envconfig:"STORE"`
}

// StoreConfig describes where artifacts are mirrored after being written
type StoreConfig struct {
	Backend   string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=none local s3"`
	Root      string `yaml:"root" envconfig:"ROOT" validate:"required_if=Backend local"`
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required_if=Backend s3"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET" validate:"required_if=Backend s3"`
	Prefix    string `yaml:"prefix" envconfig:"PREFIX"`
	Region    string `yaml:"region" envconfig:"REGION"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RunTimeout      time.Duration   `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" validate:"gt=0"`
	Workers         int             `yaml:"workers" envconfig:"WORKERS" validate:"min=1,max=64"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"min=1"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// TelemetryConfig controls tracing and metrics
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TracingEnabled bool    `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	SampleRate     float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE" validate:"min=0,max=1"`
}

// Load builds the configuration from defaults, then the first config file
// found in the usual locations, then environment variables.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file; an empty path skips the file
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable keep the file or default value
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	policy := dataprocessing.EqualityPolicy{Strict: c.Split.StrictRatios, Tolerance: c.Split.Tolerance}
	if err := dataprocessing.CheckRatios(c.Split.Ratios, policy); err != nil {
		return fmt.Errorf("split ratios: %w", err)
	}

	if c.Logging.Output != "stdout" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output %q needs a file_path", c.Logging.Output)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"catpipe.yaml",
		"configs/catpipe.yaml",
		"../configs/catpipe.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/catpipe.log",
		},
		Paths: PathsConfig{
			ImagesDir:  DefaultImagesDir,
			ReportsDir: DefaultReportsDir,
			LogsDir:    DefaultLogsDir,
		},
		Dataset: DatasetConfig{
			Path:       DefaultDatasetPath,
			TargetName: DefaultTargetName,
		},
		Split: SplitConfig{
			Ratios:    []float64{0.6, 0.2, 0.2},
			Seed:      DefaultSeed,
			Tolerance: DefaultRatioTolerance,
		},
		Model: ModelConfig{
			Kind:            "tree",
			Trees:           10,
			FeaturesPerTree: 1,
		},
		Render: RenderConfig{
			Enabled: true,
			Depth:   DefaultTreeDepth,
			Labels:  []string{"k0", "k1"},
		},
		Export: ExportConfig{
			CSV:     true,
			XLSX:    true,
			Parquet: true,
			Store: StoreConfig{
				Backend: "none",
				Prefix:  "catpipe",
			},
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      10 * time.Minute,
			Workers:         2,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			Environment:    "development",
			TracingEnabled: false,
			MetricsEnabled: true,
			SampleRate:     1.0,
		},
	}
}
