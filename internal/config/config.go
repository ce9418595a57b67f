// Package config loads process configuration from the environment. A .env
// file, if present, is merged first so local development matches deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration. Exactly one of IndexerURL or
// DatabaseURL must be set; it selects the query-source implementation.
type Config struct {
	Port string

	// Query source.
	IndexerURL  string // GraphQL indexer endpoint
	DatabaseURL string // mirrored index PostgreSQL DSN

	// Chain balance reads. Optional; empty RPCURL disables cash
	// contributions.
	RPCURL             string
	CollateralToken    string
	CollateralDecimals int32
	PositionDecimals   int32

	// Engine tuning.
	PageSize    int
	Concurrency int

	// Report cache. Optional.
	RedisURL string
	CacheTTL time.Duration

	// Poller + notifications. Zero PollInterval disables the poller.
	PollInterval   time.Duration
	SeenStatePath  string
	TelegramToken  string
	TelegramChatID string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be fully populated already.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		IndexerURL:      os.Getenv("INDEXER_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RPCURL:          os.Getenv("RPC_URL"),
		CollateralToken: os.Getenv("COLLATERAL_TOKEN"),
		RedisURL:        os.Getenv("REDIS_URL"),
		SeenStatePath:   envOr("SEEN_STATE_PATH", "seen-state.json"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:  os.Getenv("TELEGRAM_CHAT_ID"),
	}

	var err error
	if cfg.CollateralDecimals, err = envInt32("COLLATERAL_DECIMALS", 6); err != nil {
		return nil, err
	}
	if cfg.PositionDecimals, err = envInt32("POSITION_DECIMALS", 18); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = envInt("PAGE_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = envInt("CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 0); err != nil {
		return nil, err
	}

	if cfg.IndexerURL == "" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: either INDEXER_URL or DATABASE_URL must be set")
	}
	if cfg.RPCURL != "" && cfg.CollateralToken == "" {
		return nil, fmt.Errorf("config: RPC_URL requires COLLATERAL_TOKEN")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt32(key string, fallback int32) (int32, error) {
	n, err := envInt(key, int(fallback))
	return int32(n), err
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
