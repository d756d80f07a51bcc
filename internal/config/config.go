package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Translator TranslatorConfig `mapstructure:"translator"`
	NLP        NLPConfig        `mapstructure:"nlp"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig contains content store configuration
type StorageConfig struct {
	UploadsDir  string `mapstructure:"uploads_dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"` // bytes
}

// SQLiteConfig contains record database configuration
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ScannerConfig contains malware scanner configuration
type ScannerConfig struct {
	Binary  string        `mapstructure:"binary"`
	Timeout time.Duration `mapstructure:"timeout"`
	// FailOpen treats an unreachable scanner as clean. Default is
	// fail-closed.
	FailOpen bool `mapstructure:"fail_open"`
}

// TranslatorConfig contains translation service configuration
type TranslatorConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Region         string        `mapstructure:"region"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// NLPConfig contains metadata extraction service configuration
type NLPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IngestionConfig contains pipeline and scheduler configuration
type IngestionConfig struct {
	Workers int `mapstructure:"workers"`
	// DedupePolicy decides what a byte-identical re-upload does:
	// "reuse" returns the existing record, "version" creates a new one.
	DedupePolicy string `mapstructure:"dedupe_policy"`
	RegistryTTL  int    `mapstructure:"registry_ttl"` // seconds
	Shards       int    `mapstructure:"shards"`
}

// ProgressConfig contains progress bus configuration
type ProgressConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = &Config{}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()
	return loadLocked(configPath)
}

// loadLocked does the actual loading; callers hold mu. The viper state
// is reset first so values from a previously loaded file do not leak
// into this load.
func loadLocked(configPath string) error {
	viper.Reset()
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	// Set default values
	setDefaults()

	// Load from file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	bindEnvVars()

	// Unmarshal configuration
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Storage defaults
	viper.SetDefault("storage.uploads_dir", "uploads")
	viper.SetDefault("storage.max_file_size", 50*1024*1024)

	// SQLite defaults
	viper.SetDefault("sqlite.path", "ingestion.db")

	// Scanner defaults
	viper.SetDefault("scanner.binary", "clamscan")
	viper.SetDefault("scanner.timeout", 60*time.Second)
	viper.SetDefault("scanner.fail_open", false)

	// Translator defaults
	viper.SetDefault("translator.endpoint", "https://api.cognitive.microsofttranslator.com")
	viper.SetDefault("translator.region", "global")
	viper.SetDefault("translator.chunk_size", 4800)
	viper.SetDefault("translator.max_retries", 3)
	viper.SetDefault("translator.initial_backoff", 2*time.Second)

	// NLP defaults
	viper.SetDefault("nlp.base_url", "https://api.openai.com/v1/chat/completions")
	viper.SetDefault("nlp.model", "gpt-4o")
	viper.SetDefault("nlp.timeout", 30*time.Second)

	// Ingestion defaults
	viper.SetDefault("ingestion.workers", 4)
	viper.SetDefault("ingestion.dedupe_policy", "reuse")
	viper.SetDefault("ingestion.registry_ttl", 900)
	viper.SetDefault("ingestion.shards", 16)

	// Progress defaults
	viper.SetDefault("progress.subscriber_buffer", 64)
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.host", "APP_SERVER_HOST")
	viper.BindEnv("server.port", "APP_SERVER_PORT")

	// Storage
	viper.BindEnv("storage.uploads_dir", "APP_STORAGE_UPLOADS_DIR")
	viper.BindEnv("storage.max_file_size", "APP_STORAGE_MAX_FILE_SIZE")

	// SQLite
	viper.BindEnv("sqlite.path", "APP_SQLITE_PATH")

	// Scanner
	viper.BindEnv("scanner.binary", "APP_SCANNER_BINARY")
	viper.BindEnv("scanner.fail_open", "APP_SCANNER_FAIL_OPEN")

	// Translator
	viper.BindEnv("translator.endpoint", "APP_TRANSLATOR_ENDPOINT")
	viper.BindEnv("translator.api_key", "APP_TRANSLATOR_API_KEY")
	viper.BindEnv("translator.region", "APP_TRANSLATOR_REGION")

	// NLP
	viper.BindEnv("nlp.base_url", "APP_NLP_BASE_URL")
	viper.BindEnv("nlp.api_key", "APP_NLP_API_KEY")
	viper.BindEnv("nlp.model", "APP_NLP_MODEL")

	// Ingestion
	viper.BindEnv("ingestion.workers", "APP_INGESTION_WORKERS")
	viper.BindEnv("ingestion.dedupe_policy", "APP_INGESTION_DEDUPE_POLICY")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	// Validate Server
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate Storage
	if cfg.Storage.UploadsDir == "" {
		return fmt.Errorf("storage.uploads_dir is required")
	}
	if cfg.Storage.MaxFileSize < 1 {
		return fmt.Errorf("storage.max_file_size must be positive")
	}

	// Validate SQLite
	if cfg.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}

	// Validate Translator
	if cfg.Translator.ChunkSize < 1 {
		return fmt.Errorf("translator.chunk_size must be positive")
	}
	if cfg.Translator.MaxRetries < 1 {
		return fmt.Errorf("translator.max_retries must be at least 1")
	}

	// Validate Ingestion
	if cfg.Ingestion.Workers < 1 {
		return fmt.Errorf("ingestion.workers must be at least 1")
	}
	if cfg.Ingestion.DedupePolicy != "reuse" && cfg.Ingestion.DedupePolicy != "version" {
		return fmt.Errorf("ingestion.dedupe_policy must be reuse or version")
	}
	if cfg.Ingestion.RegistryTTL < 0 {
		return fmt.Errorf("ingestion.registry_ttl must be non-negative")
	}

	// Validate Progress
	if cfg.Progress.SubscriberBuffer < 1 {
		return fmt.Errorf("progress.subscriber_buffer must be at least 1")
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Reset instance to allow reload
	instance = nil
	once = sync.Once{}

	return loadLocked(configPath)
}
