package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Name        string
	Version     string
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	JWT         JWTConfig
	S3          S3Config
	SMTP        SMTPConfig
	Session     SessionConfig
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxHeaderMB  int
}

type PostgresConfig struct {
	Host               string
	Port               string
	Username           string
	Password           string
	DBName             string
	SSLMode            string
	MaxConnections     int
	MaxIdleConnections int
	MaxLifetime        time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	SigningKey  string
	JoinLinkTTL time.Duration
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	BaseURL  string
}

// SessionConfig tunes the real-time session coordinator
type SessionConfig struct {
	ConnectTimeout         time.Duration
	AckTimeout             time.Duration
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	MaxReconnectAttempts   int
	TypingTTL              time.Duration
	HistoryPageSize        int
	AvgConsultationMinutes int
	EventBufferSize        int
}

func NewConfig() (*Config, error) {
	// Optional; real deployments configure through the environment.
	_ = godotenv.Load()

	httpReadTimeout, err := time.ParseDuration(getEnv("HTTP_READ_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}

	httpWriteTimeout, err := time.ParseDuration(getEnv("HTTP_WRITE_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}

	postgresMaxLifetime, err := time.ParseDuration(getEnv("POSTGRES_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, err
	}

	joinLinkTTL, err := time.ParseDuration(getEnv("JWT_JOIN_LINK_TTL", "24h"))
	if err != nil {
		return nil, err
	}

	connectTimeout, err := time.ParseDuration(getEnv("SESSION_CONNECT_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}

	ackTimeout, err := time.ParseDuration(getEnv("SESSION_ACK_TIMEOUT", "5s"))
	if err != nil {
		return nil, err
	}

	backoffBase, err := time.ParseDuration(getEnv("SESSION_BACKOFF_BASE", "1s"))
	if err != nil {
		return nil, err
	}

	backoffMax, err := time.ParseDuration(getEnv("SESSION_BACKOFF_MAX", "30s"))
	if err != nil {
		return nil, err
	}

	typingTTL, err := time.ParseDuration(getEnv("SESSION_TYPING_TTL", "5s"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Name:        getEnv("APP_NAME", "telecare"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		HTTP: HTTPConfig{
			Port:         getEnv("HTTP_PORT", "8080"),
			ReadTimeout:  httpReadTimeout,
			WriteTimeout: httpWriteTimeout,
			MaxHeaderMB:  getEnvAsInt("HTTP_MAX_HEADER_MB", 1),
		},
		Postgres: PostgresConfig{
			Host:               getEnv("POSTGRES_HOST", "localhost"),
			Port:               getEnv("POSTGRES_PORT", "5432"),
			Username:           getEnv("POSTGRES_USER", "postgres"),
			Password:           getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:             getEnv("POSTGRES_DB", "telecare"),
			SSLMode:            getEnv("POSTGRES_SSL_MODE", "disable"),
			MaxConnections:     getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("POSTGRES_MAX_IDLE_CONNECTIONS", 5),
			MaxLifetime:        postgresMaxLifetime,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SigningKey:  getEnv("JWT_SIGNING_KEY", "your_secret_key"),
			JoinLinkTTL: joinLinkTTL,
		},
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "telecare"),
			UseSSL:          getEnv("S3_USE_SSL", "true") == "true",
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@telecare.local"),
			BaseURL:  getEnv("APP_BASE_URL", "http://localhost:8080"),
		},
		Session: SessionConfig{
			ConnectTimeout:         connectTimeout,
			AckTimeout:             ackTimeout,
			BackoffBase:            backoffBase,
			BackoffMax:             backoffMax,
			MaxReconnectAttempts:   getEnvAsInt("SESSION_MAX_RECONNECT_ATTEMPTS", 8),
			TypingTTL:              typingTTL,
			HistoryPageSize:        getEnvAsInt("SESSION_HISTORY_PAGE_SIZE", 50),
			AvgConsultationMinutes: getEnvAsInt("SESSION_AVG_CONSULTATION_MINUTES", 15),
			EventBufferSize:        getEnvAsInt("SESSION_EVENT_BUFFER_SIZE", 50),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value := 0
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return defaultValue
	}

	return value
}
