package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken = "DAILYCAST_TELEGRAM_TOKEN"
	EnvLogChatID     = "DAILYCAST_LOG_CHAT_ID"
	EnvDirectoryDSN  = "DAILYCAST_DIRECTORY_DSN"
	EnvRedisPassword = "DAILYCAST_REDIS_PASSWORD"
)

// LoadDotEnv loads the .env file next to the config file, if any.
// Variables already present in the environment keep their value.
func LoadDotEnv(configPath string) error {
	p := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

// ApplyEnv overlays secrets from the environment onto cfg.
// Empty variables leave the file value untouched.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil || getenv == nil {
		return nil
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvLogChatID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvLogChatID, v, err)
		}
		cfg.Telegram.LogChatID = id
	}
	if v := strings.TrimSpace(getenv(EnvDirectoryDSN)); v != "" {
		cfg.Directory.DSN = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		cfg.Directory.RedisPassword = v
	}
	return nil
}
