package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	StoreBackend string // file | redis | postgres
	DataDir      string
	RedisAddr    string
	PostgresDSN  string
	KafkaBrokers []string

	LockTimeout time.Duration
	LockTTL     time.Duration

	// Referral amounts differ per side and are configured independently.
	InviterReward int64
	InviteeReward int64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		StoreBackend:  getEnv("STORE_BACKEND", "file"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		PostgresDSN:   getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=credits sslmode=disable"),
		KafkaBrokers:  []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		LockTimeout:   getDuration("LOCK_TIMEOUT", 3*time.Second),
		LockTTL:       getDuration("LOCK_TTL", 10*time.Second),
		InviterReward: getInt64("REFERRAL_INVITER_REWARD", 5),
		InviteeReward: getInt64("REFERRAL_INVITEE_REWARD", 3),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"store_backend", cfg.StoreBackend,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"lock_timeout", cfg.LockTimeout,
		"lock_ttl", cfg.LockTTL)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
