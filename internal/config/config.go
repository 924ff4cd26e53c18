package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Canonical similarity thresholds. The cache, matcher and credential
// conflict check each read exactly one of these; call sites never carry
// their own constants.
const (
	DefaultCacheSimilarity   = 0.85
	DefaultMatchThreshold    = 0.75
	DefaultConflictThreshold = 0.90
)

const (
	DefaultSessionTTL      = 30 * time.Minute
	DefaultCacheBucketTTL  = 6 * time.Hour
	DefaultMaxCacheEntries = 3
)

type Config struct {
	ServerPort  string
	RedisURL    string
	DatabaseURL string
	JWTSecret   string

	SessionTTL        time.Duration
	CacheBucketTTL    time.Duration
	MaxCacheEntries   int
	CacheSimilarity   float64
	MatchThreshold    float64
	ConflictThreshold float64

	OpenAIBaseURL string
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", "secret"),
		SessionTTL:        getEnvDuration("SESSION_TTL_SECONDS", DefaultSessionTTL),
		CacheBucketTTL:    getEnvDuration("CACHE_BUCKET_TTL_SECONDS", DefaultCacheBucketTTL),
		MaxCacheEntries:   getEnvInt("MAX_CACHE_ENTRIES", DefaultMaxCacheEntries),
		CacheSimilarity:   getEnvFloat("CACHE_SIMILARITY_THRESHOLD", DefaultCacheSimilarity),
		MatchThreshold:    getEnvFloat("MATCH_THRESHOLD", DefaultMatchThreshold),
		ConflictThreshold: getEnvFloat("CONFLICT_THRESHOLD", DefaultConflictThreshold),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}
