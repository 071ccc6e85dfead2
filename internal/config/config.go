package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string
	AllowedOrigin        string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	BoardCacheTTLSeconds int
	AuthSecret           string
	MongoURI             string
	MongoDB              string
	StageCatalogFile     string
	InvoicePrefix        string
	InvoiceNumbering     string
	DefaultTaxPercent    string
	InvoiceDueDays       int
	LogLevel             string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("BOARD_CACHE_TTL_SECONDS", "15"))
	if err != nil || ttl < 1 {
		ttl = 15
	}
	dueDays, err := strconv.Atoi(getEnv("INVOICE_DUE_DAYS", "30"))
	if err != nil || dueDays < 0 {
		dueDays = 30
	}

	return Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		BoardCacheTTLSeconds: ttl,
		AuthSecret:           strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		MongoURI:             strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDB:              getEnv("MONGO_DB", "salesboard"),
		StageCatalogFile:     strings.TrimSpace(os.Getenv("STAGE_CATALOG_FILE")),
		InvoicePrefix:        getEnv("INVOICE_PREFIX", "INV"),
		InvoiceNumbering:     strings.ToLower(getEnv("INVOICE_NUMBERING", "sequence")),
		DefaultTaxPercent:    getEnv("DEFAULT_TAX_PERCENT", "10"),
		InvoiceDueDays:       dueDays,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
