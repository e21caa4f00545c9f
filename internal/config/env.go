package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// SplitConfig holds defaults for planning and writing splits.
type SplitConfig struct {
	Mode         string
	Template     string
	OutputDir    string
	Workers      int
	Merge        bool
	WholeOnEmpty bool
	JobTimeout   time.Duration
}

// WorkerConfig defines dispatcher behavior and limits.
type WorkerConfig struct {
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	TempMaxAge     time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig selects where written files end up.
type StorageConfig struct {
	Backend         string // "local"|"s3"
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// HTTPConfig holds server settings.
type HTTPConfig struct {
	Port        string
	UploadDir   string
	MaxUploadMB int64
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Split   SplitConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

// Load reads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfsplitter.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfsplitter",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Split = SplitConfig{
		Mode:         getEnv("SPLIT_MODE", "smart"),
		Template:     getEnv("SPLIT_TEMPLATE", "{base}_part{idx:02d}_p{start}-{end}.pdf"),
		OutputDir:    getEnv("SPLIT_OUTPUT_DIR", defaultOutputDir()),
		Workers:      parseInt(getEnv("SPLIT_WORKERS", "4"), 4),
		Merge:        parseBool(getEnv("SPLIT_MERGE", "false")),
		WholeOnEmpty: parseBool(getEnv("SPLIT_WHOLE_ON_EMPTY", "false")),
		JobTimeout:   parseDuration(getEnv("SPLIT_JOB_TIMEOUT", "10m"), 10*time.Minute),
	}
	if cfg.Split.Workers <= 0 {
		cfg.Split.Workers = 1
	}

	cfg.Worker = WorkerConfig{
		Concurrency:    parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		MaxAttempts:    parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay: parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		TempMaxAge:     parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:split"),
		Group:        getEnv("QUEUE_GROUP", "workers:split"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		Backend:         strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		Bucket:          getEnv("AWS_S3_BUCKET", ""),
		Prefix:          getEnv("AWS_S3_PREFIX", "splits"),
		Region:          getEnv("AWS_REGION", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
	}

	cfg.HTTP = HTTPConfig{
		Port:        getEnv("PORT", "8080"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB: int64(parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64)),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}

// defaultOutputDir prefers ~/Downloads like the desktop tool did.
func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		d := home + string(os.PathSeparator) + "Downloads"
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			return d
		}
	}
	return "out"
}
