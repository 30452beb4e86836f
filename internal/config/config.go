package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Chromatin server and worker.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Storage    StorageConfig
	Prediction PredictionConfig
	Worker     WorkerConfig
	Align      AlignConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	URL       string
	QueueName string
}

type StorageConfig struct {
	Backend   string
	LocalPath string

	// SequenceSizeThreshold is the residue count above which sequences are
	// kept in blob storage instead of the database row.
	SequenceSizeThreshold int
	S3                    S3Config
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

type PredictionConfig struct {
	ESMFoldURL  string
	Timeout     time.Duration
	MaxResidues int
}

type WorkerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	SoftTimeLimit   time.Duration
	HardTimeLimit   time.Duration
	RevokedKeyTTL   time.Duration
	StatusCacheTTL  time.Duration
}

type AlignConfig struct {
	MaxCells int64
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CHROMATIN_PORT", 8080),
			Env:  envString("CHROMATIN_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			URL:       os.Getenv("RABBITMQ_URL"),
			QueueName: envString("JOBS_QUEUE", "chromatin.jobs"),
		},
		Storage: StorageConfig{
			Backend:               envString("STORAGE_BACKEND", StorageLocal),
			LocalPath:             envString("LOCAL_STORAGE_PATH", "/tmp/chromatin/sequences"),
			SequenceSizeThreshold: envInt("SEQUENCE_SIZE_THRESHOLD", 10000),
			S3: S3Config{
				Endpoint:  envString("S3_ENDPOINT", "s3.amazonaws.com"),
				Bucket:    os.Getenv("S3_BUCKET"),
				Region:    envString("S3_REGION", "us-east-1"),
				AccessKey: os.Getenv("S3_ACCESS_KEY_ID"),
				SecretKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
				UseSSL:    envBool("S3_USE_SSL", true),
				Prefix:    envString("S3_PREFIX", "sequences"),
			},
		},
		Prediction: PredictionConfig{
			ESMFoldURL:  envString("ESMFOLD_API_URL", "https://api.esmatlas.com/foldSequence/v1/pdb/"),
			Timeout:     envDurationSecs("ESMFOLD_TIMEOUT_SECS", 600*time.Second),
			MaxResidues: envInt("ESMFOLD_MAX_RESIDUES", 400),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", 4),
			ShutdownTimeout: envDurationSecs("WORKER_SHUTDOWN_TIMEOUT_SECS", 30*time.Second),
			SoftTimeLimit:   envDurationSecs("WORKER_SOFT_TIME_LIMIT_SECS", 3300*time.Second),
			HardTimeLimit:   envDurationSecs("WORKER_HARD_TIME_LIMIT_SECS", 3600*time.Second),
			RevokedKeyTTL:   envDurationSecs("WORKER_REVOKED_TTL_SECS", 24*time.Hour),
			StatusCacheTTL:  envDuration("JOB_STATUS_CACHE_TTL", 30*time.Minute),
		},
		Align: AlignConfig{
			MaxCells: int64(envInt("ALIGN_MAX_CELLS", 100_000_000)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Queue.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	if !strings.HasPrefix(c.Queue.URL, "amqp://") && !strings.HasPrefix(c.Queue.URL, "amqps://") {
		return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.Queue.URL)
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required when STORAGE_BACKEND is local")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is s3")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when STORAGE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3; got %q", c.Storage.Backend)
	}

	if !strings.HasPrefix(c.Prediction.ESMFoldURL, "http://") && !strings.HasPrefix(c.Prediction.ESMFoldURL, "https://") {
		return fmt.Errorf("ESMFOLD_API_URL must start with http:// or https://, got %q", c.Prediction.ESMFoldURL)
	}
	if c.Prediction.MaxResidues <= 0 {
		return fmt.Errorf("ESMFOLD_MAX_RESIDUES must be positive")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.ShutdownTimeout < 0 {
		return fmt.Errorf("WORKER_SHUTDOWN_TIMEOUT_SECS must not be negative")
	}
	if c.Worker.SoftTimeLimit <= 0 || c.Worker.HardTimeLimit <= 0 {
		return fmt.Errorf("worker time limits must be positive")
	}
	if c.Worker.SoftTimeLimit > c.Worker.HardTimeLimit {
		return fmt.Errorf("WORKER_SOFT_TIME_LIMIT_SECS (%s) must not exceed WORKER_HARD_TIME_LIMIT_SECS (%s)",
			c.Worker.SoftTimeLimit, c.Worker.HardTimeLimit)
	}

	if c.Align.MaxCells <= 0 {
		return fmt.Errorf("ALIGN_MAX_CELLS must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
