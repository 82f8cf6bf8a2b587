// Package config defines the top-level configuration for the BTC 15-minute
// latency bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BTCBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Binance    BinanceConfig    `toml:"binance"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Execution  ExecutionConfig  `toml:"execution"`
	Risk       RiskConfig       `toml:"risk"`
	Engine     EngineConfig     `toml:"engine"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Log        LogConfig        `toml:"log"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and the
// optional pre-derived L2 API credentials.
type PolymarketConfig struct {
	ClobHost        string `toml:"clob_host"`
	GammaHost       string `toml:"gamma_host"`
	WsHost          string `toml:"ws_host"`
	ChainID         int    `toml:"chain_id"`
	SignatureType   int    `toml:"signature_type"`
	ExchangeAddress string `toml:"exchange_address"`
	ApiKey          string `toml:"api_key"`
	ApiSecret       string `toml:"api_secret"`
	ApiPassphrase   string `toml:"api_passphrase"`
}

// BinanceConfig configures the reference price stream.
type BinanceConfig struct {
	WsURL             string   `toml:"ws_url"`
	Symbol            string   `toml:"symbol"`
	Staleness         duration `toml:"staleness"`
	BackoffBase       duration `toml:"backoff_base"`
	BackoffCap        duration `toml:"backoff_cap"`
	MaxProtocolErrors int      `toml:"max_protocol_errors"`
}

// DiscoveryConfig controls how the rolling 15-minute market is found.
type DiscoveryConfig struct {
	EventSlug      string   `toml:"event_slug"`
	TagSlug        string   `toml:"tag_slug"`
	TitleMatch     []string `toml:"title_match"`
	WindowLength   duration `toml:"window_length"`
	PollInterval   duration `toml:"poll_interval"`
	ResolutionPoll duration `toml:"resolution_poll"`
}

// StrategyConfig holds latency-arbitrage parameters.
type StrategyConfig struct {
	JumpThreshold    float64  `toml:"jump_threshold"`
	EVThreshold      float64  `toml:"ev_threshold"`
	NotionalUSD      float64  `toml:"notional_usd"`
	Cooldown         duration `toml:"cooldown"`
	QuoteMoveEpsilon float64  `toml:"quote_move_epsilon"`
	MaxBump          float64  `toml:"max_bump"`
	MinOrderSize     float64  `toml:"min_order_size"`
	MinPrice         float64  `toml:"min_price"`
	RequoteDrift     float64  `toml:"requote_drift"`
}

// ExecutionConfig holds order-management parameters.
type ExecutionConfig struct {
	InventoryCap  float64  `toml:"inventory_cap"`
	PostOnly      bool     `toml:"post_only"`
	FillDedupTTL  duration `toml:"fill_dedup_ttl"`
	CancelRelease duration `toml:"cancel_release"`
}

// RiskConfig holds the daily loss breaker limit.
type RiskConfig struct {
	DailyLossCapUSD float64 `toml:"daily_loss_cap_usd"`
}

// EngineConfig sizes the event loop.
type EngineConfig struct {
	QueueSize     int      `toml:"queue_size"`
	ClockInterval duration `toml:"clock_interval"`
	ArchiveSize   int      `toml:"archive_size"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamLen  int64  `toml:"stream_len"`
}

// S3Config holds S3-compatible object storage parameters.
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

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig controls optional rotating file output.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:         137,
			SignatureType:   2,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Binance: BinanceConfig{
			WsURL:             "wss://stream.binance.com:9443/ws",
			Symbol:            "btcusdt",
			Staleness:         duration{5 * time.Second},
			BackoffBase:       duration{time.Second},
			BackoffCap:        duration{60 * time.Second},
			MaxProtocolErrors: 10,
		},
		Discovery: DiscoveryConfig{
			EventSlug:      "bitcoin-price-15-minute",
			TagSlug:        "bitcoin",
			TitleMatch:     []string{"15-minute", "15 minute", "15m"},
			WindowLength:   duration{15 * time.Minute},
			PollInterval:   duration{5 * time.Second},
			ResolutionPoll: duration{30 * time.Second},
		},
		Strategy: StrategyConfig{
			JumpThreshold:    0.001,
			EVThreshold:      1.02,
			NotionalUSD:      10,
			Cooldown:         duration{time.Second},
			QuoteMoveEpsilon: 0.0005,
			MaxBump:          0.08,
			MinOrderSize:     1,
			MinPrice:         0.02,
			RequoteDrift:     0.02,
		},
		Execution: ExecutionConfig{
			// One full notional order at min_price.
			InventoryCap:  500,
			PostOnly:      true,
			FillDedupTTL:  duration{10 * time.Minute},
			CancelRelease: duration{30 * time.Second},
		},
		Risk: RiskConfig{
			DailyLossCapUSD: 50,
		},
		Engine: EngineConfig{
			QueueSize:     1024,
			ClockInterval: duration{250 * time.Millisecond},
			ArchiveSize:   96,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			StreamLen:  100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "btcbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_tripped", "rollover", "order_rejected", "settlement"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are only needed when orders reach the real venue.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	if c.Binance.WsURL == "" || c.Binance.Symbol == "" {
		errs = append(errs, "binance: ws_url and symbol must not be empty")
	}
	if c.Binance.Staleness.Duration <= 0 {
		errs = append(errs, "binance: staleness must be positive")
	}
	if c.Binance.BackoffBase.Duration <= 0 || c.Binance.BackoffCap.Duration < c.Binance.BackoffBase.Duration {
		errs = append(errs, "binance: backoff_base must be positive and not exceed backoff_cap")
	}
	if c.Binance.MaxProtocolErrors < 1 {
		errs = append(errs, "binance: max_protocol_errors must be >= 1")
	}

	if c.Discovery.EventSlug == "" && c.Discovery.TagSlug == "" {
		errs = append(errs, "discovery: event_slug or tag_slug must be set")
	}
	if c.Discovery.WindowLength.Duration <= 0 {
		errs = append(errs, "discovery: window_length must be positive")
	}
	if c.Discovery.PollInterval.Duration <= 0 || c.Discovery.ResolutionPoll.Duration <= 0 {
		errs = append(errs, "discovery: poll_interval and resolution_poll must be positive")
	}

	if c.Strategy.JumpThreshold <= 0 {
		errs = append(errs, "strategy: jump_threshold must be positive")
	}
	if c.Strategy.EVThreshold < 1 {
		errs = append(errs, fmt.Sprintf("strategy: ev_threshold must be >= 1, got %g", c.Strategy.EVThreshold))
	}
	if c.Strategy.NotionalUSD <= 0 {
		errs = append(errs, "strategy: notional_usd must be positive")
	}
	if c.Strategy.Cooldown.Duration < 0 {
		errs = append(errs, "strategy: cooldown must not be negative")
	}
	if c.Strategy.QuoteMoveEpsilon < 0 {
		errs = append(errs, "strategy: quote_move_epsilon must not be negative")
	}
	if c.Strategy.MaxBump <= 0 || c.Strategy.MaxBump >= 1 {
		errs = append(errs, "strategy: max_bump must be in (0, 1)")
	}
	if c.Strategy.MinOrderSize < 0 {
		errs = append(errs, "strategy: min_order_size must not be negative")
	}

	if c.Strategy.MinPrice <= 0 || c.Strategy.MinPrice >= 1 {
		errs = append(errs, "strategy: min_price must be in (0, 1)")
	}

	if c.Execution.InventoryCap <= 0 {
		errs = append(errs, "execution: inventory_cap must be positive")
	} else if c.Strategy.MinPrice > 0 && c.Strategy.NotionalUSD > 0 {
		if largest := c.Strategy.NotionalUSD / c.Strategy.MinPrice; c.Execution.InventoryCap < largest {
			errs = append(errs, fmt.Sprintf(
				"execution: inventory_cap %g cannot hold one order at min_price (%g shares)",
				c.Execution.InventoryCap, largest))
		}
	}
	if c.Execution.CancelRelease.Duration < 0 {
		errs = append(errs, "execution: cancel_release must not be negative")
	}
	if c.Risk.DailyLossCapUSD <= 0 {
		errs = append(errs, "risk: daily_loss_cap_usd must be positive")
	}

	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine: queue_size must be >= 1")
	}
	if c.Engine.ClockInterval.Duration <= 0 {
		errs = append(errs, "engine: clock_interval must be positive")
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NeedsWallet reports whether the configured mode signs orders.
func (c *Config) NeedsWallet() bool {
	return strings.ToLower(c.Mode) == "live"
}
