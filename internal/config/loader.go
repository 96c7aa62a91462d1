package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies MARKETSYNC_* overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	for i, s := range cfg.MarketFeed.Symbols {
		cfg.MarketFeed.Symbols[i] = strings.ToUpper(s)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.MarketFeed.WSURL, "MARKETSYNC_MARKET_FEED_WS_URL")
	setStr(&cfg.MarketFeed.RESTURL, "MARKETSYNC_MARKET_FEED_REST_URL")
	setDuration(&cfg.MarketFeed.ReconnectDelay, "MARKETSYNC_MARKET_FEED_RECONNECT_DELAY")
	setDuration(&cfg.MarketFeed.DirectionDecay, "MARKETSYNC_MARKET_FEED_DIRECTION_DECAY")
	setDuration(&cfg.MarketFeed.RequestTimeout, "MARKETSYNC_MARKET_FEED_REQUEST_TIMEOUT")
	setStringSlice(&cfg.MarketFeed.Symbols, "MARKETSYNC_MARKET_FEED_SYMBOLS")

	setStr(&cfg.Exchange.BaseURL, "MARKETSYNC_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.PushURL, "MARKETSYNC_EXCHANGE_PUSH_URL")
	setDuration(&cfg.Exchange.RequestTimeout, "MARKETSYNC_EXCHANGE_REQUEST_TIMEOUT")

	setStr(&cfg.Session.UserID, "MARKETSYNC_SESSION_USER_ID")
	setStr(&cfg.Session.Token, "MARKETSYNC_SESSION_TOKEN")

	setBool(&cfg.Redis.Enabled, "MARKETSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSYNC_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ProfileTTL, "MARKETSYNC_REDIS_PROFILE_TTL")

	setBool(&cfg.S3.Enabled, "MARKETSYNC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETSYNC_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Server.Enabled, "MARKETSYNC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKETSYNC_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MARKETSYNC_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETSYNC_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "MARKETSYNC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETSYNC_SERVER_RATE_WINDOW")

	setStr(&cfg.Notify.TelegramToken, "MARKETSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETSYNC_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MARKETSYNC_MODE")
	setStr(&cfg.LogLevel, "MARKETSYNC_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is set
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
