package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BTCBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BTCBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BTCBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.SafeAddress, "BTCBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "BTCBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "BTCBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "BTCBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "BTCBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "BTCBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "BTCBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "BTCBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "BTCBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "BTCBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "BTCBOT_POLYMARKET_API_PASSPHRASE")

	// ── Binance ──
	setStr(&cfg.Binance.WsURL, "BTCBOT_BINANCE_WS_URL")
	setStr(&cfg.Binance.Symbol, "BTCBOT_BINANCE_SYMBOL")
	setDuration(&cfg.Binance.Staleness, "BTCBOT_BINANCE_STALENESS")
	setDuration(&cfg.Binance.BackoffBase, "BTCBOT_BINANCE_BACKOFF_BASE")
	setDuration(&cfg.Binance.BackoffCap, "BTCBOT_BINANCE_BACKOFF_CAP")
	setInt(&cfg.Binance.MaxProtocolErrors, "BTCBOT_BINANCE_MAX_PROTOCOL_ERRORS")

	// ── Discovery ──
	setStr(&cfg.Discovery.EventSlug, "BTCBOT_DISCOVERY_EVENT_SLUG")
	setStr(&cfg.Discovery.TagSlug, "BTCBOT_DISCOVERY_TAG_SLUG")
	setStringSlice(&cfg.Discovery.TitleMatch, "BTCBOT_DISCOVERY_TITLE_MATCH")
	setDuration(&cfg.Discovery.PollInterval, "BTCBOT_DISCOVERY_POLL_INTERVAL")
	setDuration(&cfg.Discovery.ResolutionPoll, "BTCBOT_DISCOVERY_RESOLUTION_POLL")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.JumpThreshold, "BTCBOT_STRATEGY_JUMP_THRESHOLD")
	setFloat64(&cfg.Strategy.EVThreshold, "BTCBOT_STRATEGY_EV_THRESHOLD")
	setFloat64(&cfg.Strategy.NotionalUSD, "BTCBOT_STRATEGY_NOTIONAL_USD")
	setDuration(&cfg.Strategy.Cooldown, "BTCBOT_STRATEGY_COOLDOWN")
	setFloat64(&cfg.Strategy.QuoteMoveEpsilon, "BTCBOT_STRATEGY_QUOTE_MOVE_EPSILON")
	setFloat64(&cfg.Strategy.MaxBump, "BTCBOT_STRATEGY_MAX_BUMP")
	setFloat64(&cfg.Strategy.MinOrderSize, "BTCBOT_STRATEGY_MIN_ORDER_SIZE")
	setFloat64(&cfg.Strategy.MinPrice, "BTCBOT_STRATEGY_MIN_PRICE")
	setFloat64(&cfg.Strategy.RequoteDrift, "BTCBOT_STRATEGY_REQUOTE_DRIFT")

	// ── Execution / Risk ──
	setFloat64(&cfg.Execution.InventoryCap, "BTCBOT_EXECUTION_INVENTORY_CAP")
	setBool(&cfg.Execution.PostOnly, "BTCBOT_EXECUTION_POST_ONLY")
	setDuration(&cfg.Execution.FillDedupTTL, "BTCBOT_EXECUTION_FILL_DEDUP_TTL")
	setDuration(&cfg.Execution.CancelRelease, "BTCBOT_EXECUTION_CANCEL_RELEASE")
	setFloat64(&cfg.Risk.DailyLossCapUSD, "BTCBOT_RISK_DAILY_LOSS_CAP_USD")

	// ── Engine ──
	setInt(&cfg.Engine.QueueSize, "BTCBOT_ENGINE_QUEUE_SIZE")
	setDuration(&cfg.Engine.ClockInterval, "BTCBOT_ENGINE_CLOCK_INTERVAL")
	setInt(&cfg.Engine.ArchiveSize, "BTCBOT_ENGINE_ARCHIVE_SIZE")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "BTCBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "BTCBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "BTCBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "BTCBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "BTCBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "BTCBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "BTCBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "BTCBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "BTCBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "BTCBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "BTCBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BTCBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BTCBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BTCBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BTCBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BTCBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BTCBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BTCBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamLen, "BTCBOT_REDIS_STREAM_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BTCBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BTCBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BTCBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BTCBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BTCBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BTCBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BTCBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BTCBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BTCBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BTCBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BTCBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BTCBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BTCBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BTCBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BTCBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BTCBOT_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "BTCBOT_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "BTCBOT_LOG_MAX_SIZE_MB")

	// ── Top-level ──
	setStr(&cfg.Mode, "BTCBOT_MODE")
	setStr(&cfg.LogLevel, "BTCBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
