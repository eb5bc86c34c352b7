// Package config defines the top-level configuration for the DLMM position
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DLMMBOT_* environment
// variables. It is passed explicitly into the engine at construction; there
// is no process-wide mutable configuration state.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	RPC      RPCConfig      `toml:"rpc"`
	Pool     PoolConfig     `toml:"pool"`
	Position PositionConfig `toml:"position"`
	Fees     FeesConfig     `toml:"fees"`
	Jito     JitoConfig     `toml:"jito"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Pricing  PricingConfig  `toml:"pricing"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig locates the signing keypair. Key material itself is managed
// outside this engine; only a keygen-file path is accepted.
type WalletConfig struct {
	KeypairPath string `toml:"keypair_path"`
}

// RPCConfig holds the Solana RPC endpoint parameters.
type RPCConfig struct {
	Endpoint       string   `toml:"endpoint"`
	Commitment     string   `toml:"commitment"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	SettleDelay    duration `toml:"settle_delay"`
}

// PoolConfig identifies the DLMM pool and the wallet's base asset within it.
type PoolConfig struct {
	Address string `toml:"address"`
	// BaseMint is the mint of the budget/base asset (usually wrapped SOL).
	BaseMint string `toml:"base_mint"`
	// MaxBinsPerTx is the venue's per-transaction bin-count limit; a wider
	// position is split across multiple position accounts.
	MaxBinsPerTx int `toml:"max_bins_per_tx"`
}

// PositionConfig holds the user's position-shape parameters.
type PositionConfig struct {
	// BudgetLamports is the deposit ceiling in base-asset base units.
	BudgetLamports uint64 `toml:"budget_lamports"`
	// RatioX is the target fraction of value held as the X asset; the Y
	// share is 1 - RatioX. Negative means "no target ratio".
	RatioX   float64 `toml:"ratio_x"`
	BinSpan  int     `toml:"bin_span"`
	Strategy string  `toml:"strategy"`
	// RebalanceStrategy is used on reopen; defaults to Strategy when empty.
	RebalanceStrategy string `toml:"rebalance_strategy"`
	// Swapless skips the pre-deposit exchange and deposits one-sided.
	Swapless bool   `toml:"swapless"`
	FeeMode  string `toml:"fee_mode"`

	// SlippageLadderBps is the ascending slippage sequence tried across
	// attempts.
	SlippageLadderBps []int    `toml:"slippage_ladder_bps"`
	MaxAttempts       int      `toml:"max_attempts"`
	RetryBackoff      duration `toml:"retry_backoff"`

	// HaircutBps is the fixed safety haircut applied once to the enforced
	// deposit.
	HaircutBps int `toml:"haircut_bps"`
	// ShrinkBps is the single adaptive shrink applied after an
	// insufficient-funds failure traced to a transfer.
	ShrinkBps int `toml:"shrink_bps"`
	// MinSwapUSD is the threshold below which a fee conversion is skipped.
	MinSwapUSD float64 `toml:"min_swap_usd"`
	// BalanceThresholdUSD is the smallest USD imbalance worth swapping for.
	BalanceThresholdUSD float64 `toml:"balance_threshold_usd"`
	// BalanceSlippageBps is the slippage for composition and fee-conversion
	// swaps.
	BalanceSlippageBps int `toml:"balance_slippage_bps"`

	// MinFeeReserveLamports is the SOL balance the wallet must retain before
	// any pre-deposit swap is attempted.
	MinFeeReserveLamports uint64 `toml:"min_fee_reserve_lamports"`
	// FeeBufferLamports is added to the quoted creation cost when carving
	// fee headroom out of the SOL-side deposit.
	FeeBufferLamports uint64 `toml:"fee_buffer_lamports"`
}

// FeesConfig holds priority-fee estimation parameters.
type FeesConfig struct {
	// Tier is the starting priority tier: low, medium, high, extreme.
	Tier string `toml:"tier"`
	// ComputeUnits is the compute budget requested per transaction.
	ComputeUnits uint32 `toml:"compute_units"`
}

// JitoConfig holds bundle-relay parameters.
type JitoConfig struct {
	Enabled            bool     `toml:"enabled"`
	BlockEngine        string   `toml:"block_engine"`
	TipFloorURL        string   `toml:"tip_floor_url"`
	TipStreamURL       string   `toml:"tip_stream_url"`
	TipFloorLamports   uint64   `toml:"tip_floor_lamports"`
	TipCeilingLamports uint64   `toml:"tip_ceiling_lamports"`
	PollInterval       duration `toml:"poll_interval"`
	PollTimeout        duration `toml:"poll_timeout"`
}

// JupiterConfig holds swap-aggregator parameters.
type JupiterConfig struct {
	BaseURL           string `toml:"base_url"`
	MaxPriceImpactBps int    `toml:"max_price_impact_bps"`
}

// PricingConfig holds USD price oracle parameters.
type PricingConfig struct {
	BaseURL  string   `toml:"base_url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// PostgresConfig holds the baseline-store connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds price-cache connection parameters. Leave Addr empty to
// run without a cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// S3Config holds execution-log archive parameters. Leave Bucket empty to
// disable archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MonitorConfig holds the auto-rebalance watch loop parameters.
type MonitorConfig struct {
	Interval duration `toml:"interval"`
	// OutOfRangeChecks is how many consecutive checks the active bin must
	// sit outside the position range before a rebalance fires.
	OutOfRangeChecks int `toml:"out_of_range_checks"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			Endpoint:       "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			ConfirmTimeout: duration{60 * time.Second},
			SettleDelay:    duration{3 * time.Second},
		},
		Pool: PoolConfig{
			BaseMint:     "So11111111111111111111111111111111111111112",
			MaxBinsPerTx: 69,
		},
		Position: PositionConfig{
			RatioX:                0.5,
			BinSpan:               20,
			Strategy:              "spot",
			FeeMode:               "compound_both",
			SlippageLadderBps:     []int{50, 100, 300},
			MaxAttempts:           3,
			RetryBackoff:          duration{2 * time.Second},
			HaircutBps:            30,
			ShrinkBps:             50,
			MinSwapUSD:            1.00,
			BalanceThresholdUSD:   0.05,
			BalanceSlippageBps:    50,
			MinFeeReserveLamports: 50_000_000,
			FeeBufferLamports:     5_000_000,
		},
		Fees: FeesConfig{
			Tier:         "medium",
			ComputeUnits: 800_000,
		},
		Jito: JitoConfig{
			Enabled:            true,
			BlockEngine:        "https://mainnet.block-engine.jito.wtf",
			TipFloorURL:        "https://bundles.jito.wtf/api/v1/bundles/tip_floor",
			TipStreamURL:       "",
			TipFloorLamports:   10_000,
			TipCeilingLamports: 3_000_000,
			PollInterval:       duration{2 * time.Second},
			PollTimeout:        duration{30 * time.Second},
		},
		Jupiter: JupiterConfig{
			BaseURL:           "https://quote-api.jup.ag/v6",
			MaxPriceImpactBps: 100,
		},
		Pricing: PricingConfig{
			BaseURL:  "https://lite-api.jup.ag/price/v2",
			CacheTTL: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_rebalanced", "error"},
		},
		Monitor: MonitorConfig{
			Interval:         duration{30 * time.Second},
			OutOfRangeChecks: 2,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"open":      true,
	"rebalance": true,
	"monitor":   true,
	"status":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: open, rebalance, monitor, status)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.KeypairPath == "" {
		errs = append(errs, "wallet: keypair_path must be set")
	}

	if c.RPC.Endpoint == "" {
		errs = append(errs, "rpc: endpoint must not be empty")
	}
	switch c.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Sprintf("rpc: unknown commitment %q", c.RPC.Commitment))
	}

	if c.Pool.Address == "" {
		errs = append(errs, "pool: address must be set")
	} else if _, err := solana.PublicKeyFromBase58(c.Pool.Address); err != nil {
		errs = append(errs, fmt.Sprintf("pool: invalid address %q: %v", c.Pool.Address, err))
	}
	if _, err := solana.PublicKeyFromBase58(c.Pool.BaseMint); err != nil {
		errs = append(errs, fmt.Sprintf("pool: invalid base_mint %q: %v", c.Pool.BaseMint, err))
	}
	if c.Pool.MaxBinsPerTx < 1 {
		errs = append(errs, "pool: max_bins_per_tx must be >= 1")
	}

	if c.Position.BudgetLamports == 0 {
		errs = append(errs, "position: budget_lamports must be > 0")
	}
	if c.Position.RatioX >= 0 && c.Position.RatioX > 1 {
		errs = append(errs, fmt.Sprintf("position: ratio_x must be within [0,1], got %v", c.Position.RatioX))
	}
	if c.Position.BinSpan < 1 {
		errs = append(errs, "position: bin_span must be >= 1")
	}
	switch c.Position.Strategy {
	case "spot", "curve", "bidask":
	default:
		errs = append(errs, fmt.Sprintf("position: unknown strategy %q (valid: spot, curve, bidask)", c.Position.Strategy))
	}
	if s := c.Position.RebalanceStrategy; s != "" && s != "spot" && s != "curve" && s != "bidask" {
		errs = append(errs, fmt.Sprintf("position: unknown rebalance_strategy %q", s))
	}
	switch c.Position.FeeMode {
	case "compound_both", "compound_x", "compound_y", "keep", "convert":
	default:
		errs = append(errs, fmt.Sprintf("position: unknown fee_mode %q", c.Position.FeeMode))
	}
	if len(c.Position.SlippageLadderBps) == 0 {
		errs = append(errs, "position: slippage_ladder_bps must not be empty")
	}
	for i, bps := range c.Position.SlippageLadderBps {
		if bps <= 0 {
			errs = append(errs, fmt.Sprintf("position: slippage_ladder_bps[%d] must be > 0", i))
		}
		if i > 0 && bps < c.Position.SlippageLadderBps[i-1] {
			errs = append(errs, "position: slippage_ladder_bps must be ascending")
		}
	}
	if c.Position.MaxAttempts < 1 {
		errs = append(errs, "position: max_attempts must be >= 1")
	}
	if c.Position.HaircutBps < 0 || c.Position.HaircutBps > 500 {
		errs = append(errs, fmt.Sprintf("position: haircut_bps must be 0-500, got %d", c.Position.HaircutBps))
	}

	switch c.Fees.Tier {
	case "low", "medium", "high", "extreme":
	default:
		errs = append(errs, fmt.Sprintf("fees: unknown tier %q (valid: low, medium, high, extreme)", c.Fees.Tier))
	}
	if c.Fees.ComputeUnits == 0 {
		errs = append(errs, "fees: compute_units must be > 0")
	}

	if c.Jito.Enabled {
		if c.Jito.BlockEngine == "" {
			errs = append(errs, "jito: block_engine must not be empty when enabled")
		}
		if c.Jito.TipFloorLamports > c.Jito.TipCeilingLamports {
			errs = append(errs, "jito: tip_floor_lamports must not exceed tip_ceiling_lamports")
		}
	}

	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Pricing.BaseURL == "" {
		errs = append(errs, "pricing: base_url must not be empty")
	}

	if c.Postgres.DSN != "" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must be set when bucket is configured")
	}

	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.OutOfRangeChecks < 1 {
		errs = append(errs, "monitor: out_of_range_checks must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
