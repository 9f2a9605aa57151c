package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store and blob drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMinIO    = "minio"
	DriverMemory   = "memory"
)

// Config holds the runtime configuration shared by the server and the CLI
type Config struct {
	Host          string
	Port          string
	PublicBaseURL string
	TemplatesPath string
	StaticPath    string
	SessionTTL    time.Duration

	LogLevel  string
	LogFormat string

	StoreDriver   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	MongoURI      string
	MongoDatabase string

	BlobDriver          string
	MinIOEndpoint       string
	MinIOPublicEndpoint string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
	MinIOPresignTTL     time.Duration

	RabbitMQURL      string
	RabbitMQExchange string
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		Host:                getEnv("GATEWAY_HOST", "0.0.0.0"),
		Port:                getEnv("GATEWAY_PORT", "8080"),
		PublicBaseURL:       getEnv("PUBLIC_BASE_URL", ""),
		TemplatesPath:       getEnv("TEMPLATES_PATH", "web/templates"),
		StaticPath:          getEnv("STATIC_PATH", "web/static"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		StoreDriver:         getEnv("STORE_DRIVER", DriverPostgres),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "dozin"),
		DBSSLMode:           getEnv("DB_SSL_MODE", "disable"),
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDatabase:       getEnv("MONGO_DATABASE", "dozin"),
		BlobDriver:          getEnv("BLOB_DRIVER", DriverMinIO),
		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOPublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin123"),
		MinIOBucket:         getEnv("MINIO_BUCKET_NAME", "dozin-images"),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:    getEnv("RABBITMQ_EXCHANGE", "dozin.events"),
	}

	var err error
	if cfg.MinIOUseSSL, err = strconv.ParseBool(getEnv("MINIO_USE_SSL", "false")); err != nil {
		return nil, fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
	}
	if cfg.MinIOPresignTTL, err = time.ParseDuration(getEnv("MINIO_PRESIGN_TTL", "0s")); err != nil {
		return nil, fmt.Errorf("invalid MINIO_PRESIGN_TTL: %w", err)
	}
	if cfg.SessionTTL, err = time.ParseDuration(getEnv("SESSION_TTL", "2h")); err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and nonsensical durations.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.BlobDriver {
	case DriverMinIO, DriverMemory:
	default:
		return fmt.Errorf("unknown BLOB_DRIVER %q", c.BlobDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MinIOPresignTTL < 0 {
		return fmt.Errorf("MINIO_PRESIGN_TTL must not be negative, got %s", c.MinIOPresignTTL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// BaseURL returns the externally visible origin of the server.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimSuffix(c.PublicBaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%s", c.Port)
}

// ConfigureLogger sets the global zerolog level and output.
// format "json" writes raw JSON lines, anything else the console writer.
func ConfigureLogger(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
