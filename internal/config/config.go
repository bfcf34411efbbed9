package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full server configuration
type Config struct {
	Server   ServerConfig
	DICOM    DICOMConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	CORS     CORSConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DICOMConfig holds the DICOM listener configuration
type DICOMConfig struct {
	AETitle         string
	Host            string
	Port            int
	MaxAssociations int
	MaxPDULength    int
	StorageDir      string
	Timeout         time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Enabled bool
	Type    string // "memory" or "redis"
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from the environment, with an optional .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		DICOM: DICOMConfig{
			AETitle:         getEnv("DICOM_AE_TITLE", "PACS_NODE"),
			Host:            getEnv("DICOM_HOST", "0.0.0.0"),
			Port:            getEnvInt("DICOM_PORT", 11112),
			MaxAssociations: getEnvInt("DICOM_MAX_ASSOCIATIONS", 0),
			MaxPDULength:    getEnvInt("DICOM_MAX_PDU_LENGTH", 16384),
			StorageDir:      getEnv("DICOM_STORAGE_DIR", "./data/instances"),
			Timeout:         getEnvDuration("DICOM_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "pacs_node"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			Type:    getEnv("CACHE_TYPE", "memory"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Request-ID"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
// The association ceiling has no safe default and must be set explicitly.
func (c *Config) Validate() error {
	if c.DICOM.MaxAssociations <= 0 {
		return fmt.Errorf("DICOM_MAX_ASSOCIATIONS must be set to a positive value")
	}
	if c.DICOM.AETitle == "" || len(c.DICOM.AETitle) > 16 {
		return fmt.Errorf("DICOM_AE_TITLE must be 1-16 characters, got %q", c.DICOM.AETitle)
	}
	if c.DICOM.Port < 1 || c.DICOM.Port > 65535 {
		return fmt.Errorf("DICOM_PORT must be between 1 and 65535, got %d", c.DICOM.Port)
	}
	if c.DICOM.MaxPDULength < 0 {
		return fmt.Errorf("DICOM_MAX_PDU_LENGTH must not be negative, got %d", c.DICOM.MaxPDULength)
	}
	if c.DICOM.StorageDir == "" {
		return fmt.Errorf("DICOM_STORAGE_DIR must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Cache.Enabled && c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("CACHE_TYPE must be \"memory\" or \"redis\", got %q", c.Cache.Type)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
