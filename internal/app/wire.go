package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/accounting"
	"github.com/solquant/dlmmbot/internal/allocator"
	"github.com/solquant/dlmmbot/internal/balancer"
	s3blob "github.com/solquant/dlmmbot/internal/blob/s3"
	"github.com/solquant/dlmmbot/internal/budget"
	"github.com/solquant/dlmmbot/internal/builder"
	"github.com/solquant/dlmmbot/internal/bundler"
	rediscache "github.com/solquant/dlmmbot/internal/cache/redis"
	"github.com/solquant/dlmmbot/internal/config"
	"github.com/solquant/dlmmbot/internal/engine"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/notify"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
	"github.com/solquant/dlmmbot/internal/platform/dlmm/meteora"
	"github.com/solquant/dlmmbot/internal/platform/jito"
	"github.com/solquant/dlmmbot/internal/platform/jupiter"
	"github.com/solquant/dlmmbot/internal/platform/pricing"
	solchain "github.com/solquant/dlmmbot/internal/platform/solana"
	"github.com/solquant/dlmmbot/internal/rebalance"
	"github.com/solquant/dlmmbot/internal/retrier"
	"github.com/solquant/dlmmbot/internal/store/postgres"
)

// Deps holds every wired dependency the operating modes draw from. Optional
// integrations (Redis, Postgres, S3, Jito, notifications) are nil when not
// configured; modes degrade rather than fail.
type Deps struct {
	Chain *solchain.Client
	Pool  dlmm.Pool

	Jito      *jito.Client
	Swapper   *jupiter.Executor
	Prices    pricing.Source
	Estimator *fees.Estimator

	RunLock *rediscache.RunLock
	Limiter *rediscache.RateLimiter

	Store    accounting.Store
	Tracker  *accounting.Tracker
	LogStore *postgres.ExecutionLogStore
	Archiver *s3blob.Archiver

	Engine       *engine.Engine
	Orchestrator *rebalance.Orchestrator
	Notifier     *notify.Notifier
}

// Wire constructs the full dependency graph from configuration. The returned
// cleanup function closes every opened resource and is safe to call once.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Deps, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Deps{}

	wallet, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.Wallet.KeypairPath)
	if err != nil {
		return fail(fmt.Errorf("app: load wallet keypair: %w", err))
	}

	deps.Chain = solchain.NewClient(solchain.Options{
		Endpoint:       cfg.RPC.Endpoint,
		Commitment:     cfg.RPC.Commitment,
		ConfirmTimeout: cfg.RPC.ConfirmTimeout.Duration,
		SettleDelay:    cfg.RPC.SettleDelay.Duration,
	}, wallet, logger)

	poolKey, err := solana.PublicKeyFromBase58(cfg.Pool.Address)
	if err != nil {
		return fail(fmt.Errorf("app: parse pool address: %w", err))
	}
	pool, err := meteora.Connect(ctx, deps.Chain.RPC(), poolKey, cfg.Pool.MaxBinsPerTx, logger)
	if err != nil {
		return fail(fmt.Errorf("app: connect pool: %w", err))
	}
	deps.Pool = pool

	if cfg.Jito.Enabled {
		deps.Jito = jito.NewClient(cfg.Jito.BlockEngine, cfg.Jito.TipStreamURL, logger)
		deps.Jito.Start(ctx)
	}

	jup := jupiter.NewClient(cfg.Jupiter.BaseURL, logger)
	deps.Swapper = jupiter.NewExecutor(jup, deps.Chain, logger)

	deps.Prices = pricing.NewClient(cfg.Pricing.BaseURL, logger)

	if cfg.Redis.Addr != "" {
		redisClient, err := rediscache.New(ctx, rediscache.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = rediscache.NewPriceCache(redisClient, deps.Prices, logger)
		deps.RunLock = rediscache.NewRunLock(redisClient)
		deps.Limiter = rediscache.NewRateLimiter(redisClient)
	}

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("app: run migrations: %w", err))
		}
		deps.Store = postgres.NewBaselineStore(pg.Pool())
		deps.LogStore = postgres.NewExecutionLogStore(pg.Pool())
	} else {
		logger.Warn("no postgres dsn configured, baselines will not survive restarts")
		deps.Store = accounting.NewMemoryStore()
	}

	deps.Tracker = accounting.New(deps.Store, deps.Prices, logger)
	deps.Estimator = fees.NewEstimator(deps.Chain, logger)

	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3Client)
	}

	deps.Notifier = buildNotifier(cfg, logger)

	bal := balancer.New(deps.Prices, deps.Swapper,
		decimal.NewFromFloat(cfg.Position.BalanceThresholdUSD), logger)

	var relay bundler.Relay
	if deps.Jito != nil {
		relay = deps.Jito
	}
	bndl := bundler.New(relay, deps.Chain, deps.Estimator, cfg.Fees.ComputeUnits, bundler.Options{
		TipFloorLamports:   cfg.Jito.TipFloorLamports,
		TipCeilingLamports: cfg.Jito.TipCeilingLamports,
		LandTimeout:        cfg.Jito.PollTimeout.Duration,
	}, logger)

	build := builder.New(pool, deps.Chain, bndl, deps.Estimator, builder.Options{
		ShrinkBps:      cfg.Position.ShrinkBps,
		SlippageLadder: cfg.Position.SlippageLadderBps,
		ComputeUnits:   cfg.Fees.ComputeUnits,
	}, logger)

	tier, err := fees.ParseTier(cfg.Fees.Tier)
	if err != nil {
		return fail(err)
	}
	policy := retrier.Policy{
		MaxAttempts: cfg.Position.MaxAttempts,
		Backoff:     cfg.Position.RetryBackoff.Duration,
		SlippageBps: cfg.Position.SlippageLadderBps,
		FeeTiers:    fees.Ladder(tier, cfg.Position.MaxAttempts),
	}

	deps.Engine = engine.New(pool, deps.Chain,
		allocator.New(logger), budget.New(cfg.Position.HaircutBps, logger),
		bal, build, deps.Tracker, deps.Prices, policy,
		engine.Settings{
			MinFeeReserveLamports: cfg.Position.MinFeeReserveLamports,
			FeeBufferLamports:     cfg.Position.FeeBufferLamports,
			BalanceSlippageBps:    cfg.Position.BalanceSlippageBps,
		}, logger)

	deps.Orchestrator = rebalance.New(pool, deps.Chain, deps.Engine, deps.Swapper,
		deps.Prices, deps.Tracker, deps.Estimator,
		rebalance.Options{
			MinSwapUSD:      decimal.NewFromFloat(cfg.Position.MinSwapUSD),
			SwapSlippageBps: cfg.Position.BalanceSlippageBps,
			ComputeUnits:    cfg.Fees.ComputeUnits,
		}, logger)
	deps.Engine.AttachRebalancer(deps.Orchestrator)

	return deps, cleanup, nil
}

// buildNotifier assembles the configured notification channels. With no
// channels configured the notifier dispatches to nothing.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	return notify.New(senders, cfg.Notify.Events, logger)
}
