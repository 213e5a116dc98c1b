package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Buckets   BucketConfig
	Processor ProcessorConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	JWTAudience  string
	DashboardURL string
}

type BucketConfig struct {
	Uploads       string
	MantarrayLogs string
}

// ProcessorConfig drives a single queue-processor instance. Queue is the
// queue family this processor watches (e.g. "pulse3d"); worker pods for a
// specific version append "-v<version>" to it.
type ProcessorConfig struct {
	Queue      string
	ECRRepo    string
	Namespace  string
	MaxWorkers int
}

func Load() (*Config, error) {
	// .env is a dev convenience, absence is fine
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxWorkers, err := getEnvInt("MAX_NUM_OF_WORKERS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_NUM_OF_WORKERS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTAudience:  getEnv("JWT_AUDIENCE", "curibio:services"),
			DashboardURL: getEnv("DASHBOARD_URL", "https://dashboard.curibio.com"),
		},
		Buckets: BucketConfig{
			Uploads:       getEnv("UPLOADS_BUCKET_ENV", ""),
			MantarrayLogs: getEnv("MANTARRAY_LOGS_BUCKET_ENV", ""),
		},
		Processor: ProcessorConfig{
			Queue:      getEnv("QUEUE", ""),
			ECRRepo:    getEnv("ECR_REPO", ""),
			Namespace:  getEnv("WORKER_NAMESPACE", "pulse3d"),
			MaxWorkers: maxWorkers,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the vars every service needs. Services with extra
// requirements (e.g. the queue processor) layer ValidateProcessor on top.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) ValidateProcessor() error {
	var missing []string
	if c.Processor.Queue == "" {
		missing = append(missing, "QUEUE")
	}
	if c.Processor.ECRRepo == "" {
		missing = append(missing, "ECR_REPO")
	}
	if c.Buckets.Uploads == "" {
		missing = append(missing, "UPLOADS_BUCKET_ENV")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
