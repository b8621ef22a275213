package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "civicwatch/pkg/platform/strings"
)

// Config is the full runtime configuration for the server.
type Config struct {
	Server     Server
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Evidence   EvidenceConfig
	Analysis   AnalysisConfig
	Projection ProjectionConfig
	RateLimit  RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the case repository. An empty URL keeps everything
// in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the case event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type EvidenceConfig struct {
	BlobDir     string
	MaxBytes    int64
	AutoAnalyze bool
}

type AnalysisConfig struct {
	AnalyzerURL      string
	AnchorURL        string
	Timeout          time.Duration
	Workers          int
	QueueSize        int
	FailureThreshold int
	Cooldown         time.Duration
}

type ProjectionConfig struct {
	MapCellLevel int
	CacheTTL     time.Duration
}

// RateLimitConfig sets per-actor request budgets. Zero disables a class.
type RateLimitConfig struct {
	Reads  int
	Writes int
	Window time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds the config from environment variables, loading a .env file
// first when one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	var errs []string
	cfg := Config{
		Server: Server{
			Addr:            getEnv("CIVICWATCH_ADDR", ":8080"),
			JWTSigningKey:   getEnv("JWT_SIGNING_KEY", devSigningKey),
			JWTIssuer:       getEnv("JWT_ISSUER", "civicwatch"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25, &errs),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5, &errs),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute, &errs),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10, &errs),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second, &errs),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second, &errs),
		},
		Kafka: KafkaConfig{
			Brokers: pstrings.SplitList(os.Getenv("KAFKA_BROKERS"), ","),
			Topic:   getEnv("KAFKA_TOPIC", "civicwatch.case-events"),
		},
		Evidence: EvidenceConfig{
			BlobDir:     os.Getenv("BLOB_DIR"),
			MaxBytes:    int64(getInt("EVIDENCE_MAX_BYTES", 25<<20, &errs)),
			AutoAnalyze: getBool("AUTO_ANALYZE", false, &errs),
		},
		Analysis: AnalysisConfig{
			AnalyzerURL:      os.Getenv("ANALYZER_URL"),
			AnchorURL:        os.Getenv("ANCHOR_URL"),
			Timeout:          getDuration("ANALYZER_TIMEOUT", 30*time.Second, &errs),
			Workers:          getInt("ANALYSIS_WORKERS", 2, &errs),
			QueueSize:        getInt("ANALYSIS_QUEUE_SIZE", 64, &errs),
			FailureThreshold: getInt("ANALYZER_FAILURE_THRESHOLD", 5, &errs),
			Cooldown:         getDuration("ANALYZER_COOLDOWN", 30*time.Second, &errs),
		},
		Projection: ProjectionConfig{
			MapCellLevel: getInt("MAP_CELL_LEVEL", 13, &errs),
			CacheTTL:     getDuration("PROJECTION_CACHE_TTL", 10*time.Minute, &errs),
		},
		RateLimit: RateLimitConfig{
			Reads:  getInt("RATE_LIMIT_READS", 300, &errs),
			Writes: getInt("RATE_LIMIT_WRITES", 60, &errs),
			Window: getDuration("RATE_LIMIT_WINDOW", time.Minute, &errs),
		},
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that parsing alone cannot enforce.
func (c Config) Validate() error {
	if c.Evidence.MaxBytes <= 0 {
		return fmt.Errorf("EVIDENCE_MAX_BYTES must be positive")
	}
	if c.Projection.MapCellLevel < 0 || c.Projection.MapCellLevel > 30 {
		return fmt.Errorf("MAP_CELL_LEVEL must be between 0 and 30")
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("ANALYSIS_WORKERS must be at least 1")
	}
	if c.RateLimit.Reads < 0 || c.RateLimit.Writes < 0 {
		return fmt.Errorf("RATE_LIMIT_READS and RATE_LIMIT_WRITES must not be negative")
	}
	if c.Analysis.QueueSize < 1 {
		return fmt.Errorf("ANALYSIS_QUEUE_SIZE must be at least 1")
	}
	return nil
}

// UsesDevSigningKey reports whether tokens are signed with the built-in key.
func (c Config) UsesDevSigningKey() bool {
	return c.Server.JWTSigningKey == devSigningKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, key+" must be an integer")
		return fallback
	}
	return v
}

func getBool(key string, fallback bool, errs *[]string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, key+" must be a boolean")
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, key+" must be a duration")
		return fallback
	}
	return v
}
