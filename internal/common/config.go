package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docflow/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Pipeline PipelineConfig
	Retry    RetryConfig
	Monitor  MonitorConfig
	OCR      OCRConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ingest   IngestConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// PipelineConfig holds the orchestrator knobs.
type PipelineConfig struct {
	MaxFileSize        int64
	MaxConcurrentJobs  int
	DefaultTimeout     time.Duration
	MinTextLength      int
	SupportedFormats   []constants.Format
	OCREnabled         bool
	DefaultMaxRetries  int
	PollInterval       time.Duration
	EventBuffer        int
	ProgressClearDelay time.Duration
}

// RetryConfig holds backoff parameters.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// MonitorConfig holds stalled-job and health settings.
type MonitorConfig struct {
	StalledThreshold    time.Duration
	HealthCheckInterval time.Duration
	CountStallAsRetry   bool
	AutoRecover         bool
	RetentionWindow     time.Duration
	CleanupInterval     time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftoppm    string
	Tesseract   string
	Language    string
	DPI         int
	TessdataDir string
}

// RedisConfig enables the progress mirror when URL is set.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// IngestConfig lists inbox directories watched for new files.
type IngestConfig struct {
	WatchDirs   []string
	InitialScan bool
	Debounce    time.Duration
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "error", err)
	}
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", "file:docflow.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		},
		Pipeline: PipelineConfig{
			MaxFileSize:        getEnvAsInt64("PIPELINE_MAX_FILE_SIZE", 50<<20),
			MaxConcurrentJobs:  getEnvAsInt("PIPELINE_MAX_CONCURRENT_JOBS", 4),
			DefaultTimeout:     getEnvAsDuration("PIPELINE_DEFAULT_TIMEOUT", 2*time.Minute),
			MinTextLength:      getEnvAsInt("PIPELINE_MIN_TEXT_LENGTH", 10),
			SupportedFormats:   getEnvAsFormats("PIPELINE_SUPPORTED_FORMATS", constants.FileTypes),
			OCREnabled:         getEnvAsBool("PIPELINE_OCR_ENABLED", false),
			DefaultMaxRetries:  getEnvAsInt("PIPELINE_MAX_RETRIES", 3),
			PollInterval:       getEnvAsDuration("PIPELINE_POLL_INTERVAL", time.Second),
			EventBuffer:        getEnvAsInt("PIPELINE_EVENT_BUFFER", 1024),
			ProgressClearDelay: getEnvAsDuration("PIPELINE_PROGRESS_CLEAR_DELAY", 30*time.Second),
		},
		Retry: RetryConfig{
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 60*time.Second),
			Multiplier:   getEnvAsFloat64("RETRY_MULTIPLIER", 2),
			JitterFactor: getEnvAsFloat64("RETRY_JITTER_FACTOR", 0.1),
		},
		Monitor: MonitorConfig{
			StalledThreshold:    getEnvAsDuration("MONITOR_STALLED_THRESHOLD", 5*time.Minute),
			HealthCheckInterval: getEnvAsDuration("MONITOR_HEALTH_INTERVAL", 30*time.Second),
			CountStallAsRetry:   getEnvAsBool("MONITOR_COUNT_STALL_AS_RETRY", false),
			AutoRecover:         getEnvAsBool("MONITOR_AUTO_RECOVER", true),
			RetentionWindow:     getEnvAsDuration("MONITOR_RETENTION_WINDOW", 7*24*time.Hour),
			CleanupInterval:     getEnvAsDuration("MONITOR_CLEANUP_INTERVAL", time.Hour),
		},
		OCR: OCRConfig{
			Pdftoppm:    getEnv("OCR_PDFTOPPM", "pdftoppm"),
			Tesseract:   getEnv("OCR_TESSERACT", "tesseract"),
			Language:    getEnv("OCR_LANG", "eng"),
			DPI:         getEnvAsInt("OCR_DPI", 300),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: getEnvAsDuration("REDIS_PROGRESS_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "docflow.job-events"),
		},
		Ingest: IngestConfig{
			WatchDirs:   getEnvAsList("INGEST_WATCH_DIRS"),
			InitialScan: getEnvAsBool("INGEST_INITIAL_SCAN", true),
			Debounce:    getEnvAsDuration("INGEST_DEBOUNCE", 500*time.Millisecond),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsFormats(key string, defaultValue []constants.Format) []constants.Format {
	names := getEnvAsList(key)
	if len(names) == 0 {
		return defaultValue
	}
	var out []constants.Format
	for _, n := range names {
		if f := constants.ParseFormat(n); f != constants.FormatUnknown {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxFileSize <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_MAX_FILE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_MAX_CONCURRENT_JOBS must be positive", ErrInvalidInput)
	}
	if c.Pipeline.MinTextLength < 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_MIN_TEXT_LENGTH must not be negative", ErrInvalidInput)
	}
	if c.Retry.Multiplier < 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_MULTIPLIER must be >= 1", ErrInvalidInput)
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor >= 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_JITTER_FACTOR must be in [0,1)", ErrInvalidInput)
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX_DELAY must be >= RETRY_INITIAL_DELAY > 0", ErrInvalidInput)
	}
	if c.Monitor.StalledThreshold <= 0 {
		return NewAppError("CONFIG_ERROR", "MONITOR_STALLED_THRESHOLD must be positive", ErrInvalidInput)
	}
	return nil
}
