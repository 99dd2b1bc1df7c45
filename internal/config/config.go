package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Face     FaceConfig
	Worker   WorkerConfig
	Audit    AuditConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// RedisConfig holds job store connection settings.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	DequeueTimeout time.Duration
}

// StorageConfig holds object storage settings. Endpoint is empty for AWS
// proper and set for S3-compatible stores (R2, minio).
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PresignExpiry   time.Duration
}

// ProviderConfig holds the vision/OCR provider settings.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FaceConfig holds face detector tunables.
type FaceConfig struct {
	CascadePath string
	MinSize     int
	Quality     float64
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
	IdleBackoff time.Duration
}

// AuditConfig holds the optional audit database settings. An empty DSN
// disables the audit trail.
type AuditConfig struct {
	DSN string
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "redis:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			DequeueTimeout: getEnvAsDuration("QUEUE_DEQUEUE_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "ap-south-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "kyc-raw"),
			PresignExpiry:   getEnvAsDuration("S3_PRESIGN_EXPIRY", 10*time.Minute),
		},
		Provider: ProviderConfig{
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Face: FaceConfig{
			CascadePath: getEnv("FACEFINDER_PATH", "cascade/facefinder"),
			MinSize:     getEnvAsInt("FACE_MIN_SIZE", 80),
			Quality:     getEnvAsFloat64("FACE_QUALITY_THRESHOLD", 5.0),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 2),
			JobTimeout:  getEnvAsDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
			IdleBackoff: getEnvAsDuration("WORKER_IDLE_BACKOFF", time.Second),
		},
		Audit: AuditConfig{
			DSN: getEnv("AUDIT_DB_DSN", ""),
		},
	}
}

// ValidateAPI checks the settings the intake API cannot run without.
func (c *Config) ValidateAPI() error {
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.Storage.Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}
	return nil
}

// ValidateWorker checks the settings the worker cannot run without.
func (c *Config) ValidateWorker() error {
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.Storage.Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}
	if c.Provider.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat64(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
