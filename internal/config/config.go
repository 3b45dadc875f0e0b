package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	LockPostgres = "postgres"
	LockRedis    = "redis"
	LockMemory   = "memory"
)

type Config struct {
	Environment       string
	LogLevel          string
	DBDSN             string
	Storage           string
	HTTPAddr          string
	MigrationsEnabled bool

	LockBackend   string
	LockTTL       time.Duration
	LockPoolSize  int32
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SplitSlots         []string
	AllocatorMaxPasses int

	RateLimitRPS   float64
	RateLimitBurst int

	TelegramToken       string
	TelegramAlertChatID int64

	// Начальное заполнение каталога: "email:100,sms:50" и слоты для SeedCatalogID
	SeedChannels  string
	SeedCatalogID string
	SeedSlots     []string
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	cfg := &Config{
		Environment:       getenv("ENV", "development"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		DBDSN:             os.Getenv("DB_DSN"),
		Storage:           strings.ToLower(getenv("STORAGE", StoragePostgres)),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		MigrationsEnabled: getenv("MIGRATIONS_ENABLED", "true") == "true",
		LockBackend:       strings.ToLower(os.Getenv("LOCK_BACKEND")),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		SplitSlots:        splitList(getenv("SPLIT_SLOTS", "08:00,08:30")),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		SeedChannels:      os.Getenv("SEED_CHANNELS"),
		SeedCatalogID:     getenv("SEED_CATALOG_ID", "default"),
		SeedSlots:         splitList(os.Getenv("SEED_SLOTS")),
	}

	var err error
	if cfg.LockTTL, err = time.ParseDuration(getenv("LOCK_TTL", "10s")); err != nil {
		return nil, fmt.Errorf("LOCK_TTL: %w", err)
	}
	lockPool, err := strconv.ParseInt(getenv("LOCK_POOL_SIZE", "8"), 10, 32)
	if err != nil || lockPool <= 0 {
		return nil, fmt.Errorf("LOCK_POOL_SIZE: must be a positive integer")
	}
	cfg.LockPoolSize = int32(lockPool)
	if cfg.RedisDB, err = strconv.Atoi(getenv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	if cfg.AllocatorMaxPasses, err = strconv.Atoi(getenv("ALLOCATOR_MAX_PASSES", "10000")); err != nil {
		return nil, fmt.Errorf("ALLOCATOR_MAX_PASSES: %w", err)
	}
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getenv("RATE_LIMIT_RPS", "20"), 64); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getenv("RATE_LIMIT_BURST", "40")); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
	}
	if chatID := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); chatID != "" {
		if cfg.TelegramAlertChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALERT_CHAT_ID: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Printf("Config loaded\n")

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		// Проверяем обязательные поля
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required but not set")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}

	if c.LockBackend == "" {
		c.LockBackend = LockPostgres
		if c.Storage == StorageMemory {
			c.LockBackend = LockMemory
		}
	}
	switch c.LockBackend {
	case LockPostgres:
		if c.Storage != StoragePostgres {
			return fmt.Errorf("LOCK_BACKEND=postgres requires STORAGE=postgres")
		}
	case LockRedis, LockMemory:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}

	if len(c.SplitSlots) != 0 && len(c.SplitSlots) != 2 {
		return fmt.Errorf("SPLIT_SLOTS must list exactly two slots, got %d", len(c.SplitSlots))
	}

	return nil
}

// AlertsEnabled оповещения в Telegram настроены
func (c *Config) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramAlertChatID != 0
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
