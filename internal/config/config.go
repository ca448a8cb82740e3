package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/execution-hub/bizrules/internal/domain/audit"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL    string
	ServerAddr     string
	LogLevel       string
	MigrationsDir  string
	StoreBackend   string
	TrackerBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers           []string
	KafkaNotificationTopic string

	SchedulerInterval   time.Duration
	SchedulerBatch      int
	AuditSigningKey     []byte
	ReassignWorkloadCap int
}

// Load reads configuration from the environment. A .env file in the working directory,
// when present, is loaded first without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "bizrules")
		pass := getenv("POSTGRES_PASSWORD", "bizrules_pass")
		db := getenv("POSTGRES_DB", "bizrules")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:            dsn,
		ServerAddr:             getenv("SERVER_ADDR", "0.0.0.0:8080"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		MigrationsDir:          getenv("MIGRATIONS_DIR", "internal/migrations"),
		StoreBackend:           strings.ToLower(getenv("STORE_BACKEND", BackendPostgres)),
		TrackerBackend:         strings.ToLower(getenv("TRACKER_BACKEND", BackendPostgres)),
		RedisAddr:              getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                parseInt(os.Getenv("REDIS_DB"), 0),
		KafkaBrokers:           splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaNotificationTopic: getenv("KAFKA_NOTIFICATION_TOPIC", "bizrules.notifications"),
		SchedulerInterval:      parseDuration(getenv("SCHEDULER_INTERVAL", "30s"), 30*time.Second),
		SchedulerBatch:         parseInt(os.Getenv("SCHEDULER_BATCH"), 100),
		ReassignWorkloadCap:    parseInt(os.Getenv("REASSIGN_WORKLOAD_CAP"), 0),
	}

	if v := os.Getenv("AUDIT_SIGNING_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be hex: %w", err)
		}
		if len(key) > audit.MaxKeySize {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be at most %d bytes", audit.MaxKeySize)
		}
		cfg.AuditSigningKey = key
	}

	switch cfg.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	switch cfg.TrackerBackend {
	case BackendPostgres, BackendRedis:
	default:
		return nil, fmt.Errorf("unsupported TRACKER_BACKEND %q", cfg.TrackerBackend)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}

func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
