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
// built-in defaults, applies DLMMBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DLMMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.KeypairPath, "DLMMBOT_WALLET_KEYPAIR_PATH")

	// ── RPC ──
	setStr(&cfg.RPC.Endpoint, "DLMMBOT_RPC_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "DLMMBOT_RPC_COMMITMENT")
	setDuration(&cfg.RPC.ConfirmTimeout, "DLMMBOT_RPC_CONFIRM_TIMEOUT")
	setDuration(&cfg.RPC.SettleDelay, "DLMMBOT_RPC_SETTLE_DELAY")

	// ── Pool ──
	setStr(&cfg.Pool.Address, "DLMMBOT_POOL_ADDRESS")
	setStr(&cfg.Pool.BaseMint, "DLMMBOT_POOL_BASE_MINT")
	setInt(&cfg.Pool.MaxBinsPerTx, "DLMMBOT_POOL_MAX_BINS_PER_TX")

	// ── Position ──
	setUint64(&cfg.Position.BudgetLamports, "DLMMBOT_POSITION_BUDGET_LAMPORTS")
	setFloat64(&cfg.Position.RatioX, "DLMMBOT_POSITION_RATIO_X")
	setInt(&cfg.Position.BinSpan, "DLMMBOT_POSITION_BIN_SPAN")
	setStr(&cfg.Position.Strategy, "DLMMBOT_POSITION_STRATEGY")
	setStr(&cfg.Position.RebalanceStrategy, "DLMMBOT_POSITION_REBALANCE_STRATEGY")
	setBool(&cfg.Position.Swapless, "DLMMBOT_POSITION_SWAPLESS")
	setStr(&cfg.Position.FeeMode, "DLMMBOT_POSITION_FEE_MODE")
	setInt(&cfg.Position.MaxAttempts, "DLMMBOT_POSITION_MAX_ATTEMPTS")
	setInt(&cfg.Position.HaircutBps, "DLMMBOT_POSITION_HAIRCUT_BPS")
	setFloat64(&cfg.Position.MinSwapUSD, "DLMMBOT_POSITION_MIN_SWAP_USD")

	// ── Fees ──
	setStr(&cfg.Fees.Tier, "DLMMBOT_FEES_TIER")

	// ── Jito ──
	setBool(&cfg.Jito.Enabled, "DLMMBOT_JITO_ENABLED")
	setStr(&cfg.Jito.BlockEngine, "DLMMBOT_JITO_BLOCK_ENGINE")
	setStr(&cfg.Jito.TipFloorURL, "DLMMBOT_JITO_TIP_FLOOR_URL")
	setStr(&cfg.Jito.TipStreamURL, "DLMMBOT_JITO_TIP_STREAM_URL")

	// ── Jupiter / Pricing ──
	setStr(&cfg.Jupiter.BaseURL, "DLMMBOT_JUPITER_BASE_URL")
	setStr(&cfg.Pricing.BaseURL, "DLMMBOT_PRICING_BASE_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DLMMBOT_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "DLMMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DLMMBOT_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DLMMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DLMMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DLMMBOT_REDIS_DB")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DLMMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DLMMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DLMMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DLMMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DLMMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "DLMMBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DLMMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DLMMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DLMMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DLMMBOT_NOTIFY_EVENTS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "DLMMBOT_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.OutOfRangeChecks, "DLMMBOT_MONITOR_OUT_OF_RANGE_CHECKS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DLMMBOT_MODE")
	setStr(&cfg.LogLevel, "DLMMBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
