// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	PollInterval     time.Duration
	PollParallel     int
	MaxFeedCount     int
	CommandPrefix    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	intervalSec, err := intEnv("POLL_INTERVAL", 300)
	if err != nil {
		return nil, err
	}
	if intervalSec <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %d", intervalSec)
	}

	parallel, err := intEnv("POLL_PARALLEL", 10)
	if err != nil {
		return nil, err
	}
	if parallel <= 0 {
		return nil, fmt.Errorf("POLL_PARALLEL must be positive, got %d", parallel)
	}

	// Negative means unlimited.
	maxFeeds, err := intEnv("MAX_FEED_COUNT", -1)
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		PollInterval:     time.Duration(intervalSec) * time.Second,
		PollParallel:     parallel,
		MaxFeedCount:     maxFeeds,
		CommandPrefix:    os.Getenv("COMMAND_PREFIX"),
	}, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
