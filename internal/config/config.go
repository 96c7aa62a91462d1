// Package config defines the marketsync configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. Fields are decoded from a TOML file over
// Defaults and then overridden by MARKETSYNC_* environment variables.
type Config struct {
	MarketFeed MarketFeedConfig `toml:"market_feed"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Session    SessionConfig    `toml:"session"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// MarketFeedConfig configures the public ticker stream and kline history.
type MarketFeedConfig struct {
	WSURL          string   `toml:"ws_url"`
	RESTURL        string   `toml:"rest_url"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	DirectionDecay duration `toml:"direction_decay"`
	RequestTimeout duration `toml:"request_timeout"`
	// Symbols narrows the tracked catalog. Empty tracks every asset.
	Symbols []string `toml:"symbols"`
}

// ExchangeConfig configures the trading backend.
type ExchangeConfig struct {
	BaseURL        string   `toml:"base_url"`
	PushURL        string   `toml:"push_url"`
	RequestTimeout duration `toml:"request_timeout"`
}

// SessionConfig holds the signed-in user. Token may be a JWT carrying the
// user id.
type SessionConfig struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// RedisConfig holds Redis connection parameters. When disabled the process
// uses in-memory caches and bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	ProfileTTL duration `toml:"profile_ttl"`
}

// S3Config holds S3-compatible storage parameters for the order journal.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the local HTTP surface parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds external notification channels. Events lists the toast
// kinds forwarded to them; empty forwards every kind.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "800ms" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs the stream mode against the public
// Binance endpoints and a local exchange backend.
func Defaults() Config {
	return Config{
		MarketFeed: MarketFeedConfig{
			WSURL:          "wss://stream.binance.com:9443/ws/!ticker@arr",
			RESTURL:        "https://api.binance.com",
			ReconnectDelay: duration{2 * time.Second},
			DirectionDecay: duration{800 * time.Millisecond},
			RequestTimeout: duration{10 * time.Second},
		},
		Exchange: ExchangeConfig{
			BaseURL:        "http://localhost:8080",
			PushURL:        "ws://localhost:8080/ws",
			RequestTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			ProfileTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Region: "us-east-1",
			Bucket: "marketsync",
			UseSSL: true,
		},
		Server: ServerConfig{
			Port:       8090,
			RateWindow: duration{time.Second},
		},
		Mode:     "stream",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"stream": true,
	"server": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"order":     true,
	"market":    true,
	"orderbook": true,
}

// Validate checks for invalid or missing values and returns one error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: stream, server)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if err := checkURL(c.MarketFeed.WSURL, "ws", "wss"); err != nil {
		add("market_feed: ws_url: %w", err)
	}
	if err := checkURL(c.MarketFeed.RESTURL, "http", "https"); err != nil {
		add("market_feed: rest_url: %w", err)
	}
	if c.MarketFeed.ReconnectDelay.Duration <= 0 {
		add("market_feed: reconnect_delay must be > 0")
	}
	if c.MarketFeed.DirectionDecay.Duration <= 0 {
		add("market_feed: direction_decay must be > 0")
	}

	if err := checkURL(c.Exchange.BaseURL, "http", "https"); err != nil {
		add("exchange: base_url: %w", err)
	}
	if err := checkURL(c.Exchange.PushURL, "ws", "wss"); err != nil {
		add("exchange: push_url: %w", err)
	}
	if c.Exchange.RequestTimeout.Duration <= 0 {
		add("exchange: request_timeout must be > 0")
	}

	if c.Session.UserID == "" && c.Session.Token != "" && !strings.Contains(c.Session.Token, ".") {
		add("session: user_id is required unless token is a JWT carrying it")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Mode == "server" || c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required with telegram_token")
	}
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			add("notify: unknown event %q (valid: order, market, orderbook)", ev)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}
