package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Scan     ScanConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type TopicConfig struct {
	ScanRecorded  string
	TicketIssued  string
	PaymentEvents string
}

// ScanConfig holds the knobs of the scan validation protocol.
type ScanConfig struct {
	// SessionTTL bounds how long a confirm may lag behind its request.
	SessionTTL time.Duration
	// SessionGrace keeps expired sessions around in the cache so that a
	// late confirm gets SESSION_EXPIRED rather than SESSION_NOT_FOUND.
	SessionGrace time.Duration
	// AgentTokenSecret verifies the Bearer tokens gate devices send.
	AgentTokenSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "scan_user"),
			Password:     getEnv("DB_PASSWORD", "scan_pass"),
			Database:     getEnv("DB_NAME", "scan_service"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "scan-service-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				ScanRecorded:  getEnv("KAFKA_TOPIC_SCAN_RECORDED", "scan-recorded"),
				TicketIssued:  getEnv("KAFKA_TOPIC_TICKET_ISSUED", "ticket-issued"),
				PaymentEvents: getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "payment-success"),
			},
		},
		Scan: ScanConfig{
			SessionTTL:       time.Duration(getEnvInt("SCAN_SESSION_TTL_SECONDS", 90)) * time.Second,
			SessionGrace:     time.Duration(getEnvInt("SCAN_SESSION_GRACE_SECONDS", 300)) * time.Second,
			AgentTokenSecret: getEnv("AGENT_TOKEN_SECRET", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
