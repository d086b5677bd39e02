// Combobot - Pair-Cost Arbitrage Bot for Polymarket Up/Down Windows
//
// Every 15-minute up/down window resolves to exactly $1 across its two
// legs. Whenever the combined ask of Up and Down dips below $1, buying
// the cheaper leg walks the position's blended pair cost toward the
// target and locks risk-free profit on the matched shares.
//
// Flow:
// 1. Discover the current BTC/ETH/SOL windows via the Gamma API
// 2. Stream top-of-book over WebSocket, fall back to REST polling
// 3. Evaluate each window against the position ledger every tick
// 4. Buy the cheaper leg through the execution gate (one trade per tick)
// 5. Hold to resolution; matched shares pay out $1 regardless of outcome
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/bot"
	"github.com/web3guy0/combobot/core"
	"github.com/web3guy0/combobot/exec"
	"github.com/web3guy0/combobot/feeds"
	"github.com/web3guy0/combobot/internal/config"
	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/markets"
	"github.com/web3guy0/combobot/risk"
	"github.com/web3guy0/combobot/storage"
	"github.com/web3guy0/combobot/wallet"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("mode", "pair_cost_arbitrage").
		Strs("symbols", cfg.Symbols).
		Bool("dry_run", cfg.DryRun).
		Msg("⚡ Combobot starting...")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== STORAGE ======
	db, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Database unavailable - heartbeats and audit rows disabled")
		db = storage.Disabled()
	}

	// ====== PRICE PLUMBING ======
	cache := feeds.NewPriceCache()
	listener := feeds.NewPushListener(cfg.WSURL, cache)
	poller := feeds.NewPollFetcher(cfg.CLOBAPIURL, cache)
	source := feeds.NewPriceSource(cache, poller, cfg.MaxBookAge)

	spot := feeds.NewBinanceFeed(cfg.Symbols, cfg.SpotTTL)

	// ====== MARKET DISCOVERY ======
	registry := markets.NewRegistry(cfg.GammaAPIURL, cfg.Symbols)

	// ====== BALANCE ======
	// On-chain USDC when a wallet and RPC endpoint are configured,
	// otherwise the fixed bankroll from config
	var balanceSource *wallet.BalanceSource
	fetchBalance := func() (decimal.Decimal, error) {
		return cfg.Bankroll, nil
	}
	if cfg.WalletPrivateKey != "" && cfg.PolygonRPCURL != "" {
		balanceSource, err = wallet.NewBalanceSource(cfg.PolygonRPCURL, cfg.USDCContract, cfg.WalletPrivateKey)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Balance source unavailable - using configured bankroll")
		} else {
			fetchBalance = func() (decimal.Decimal, error) {
				return balanceSource.GetAvailableBalance(ctx)
			}
			log.Info().Msg("💰 On-chain USDC balance source connected")
		}
	} else {
		log.Info().Str("bankroll", cfg.Bankroll.StringFixed(2)).Msg("💰 Using configured bankroll")
	}
	balance := feeds.NewTTLValue(cfg.BalanceTTL, fetchBalance)

	// ====== EXECUTION ======
	led := ledger.New()

	client, err := exec.NewClient(exec.ClientConfig{
		BaseURL:           cfg.CLOBAPIURL,
		APIKey:            cfg.CLOBApiKey,
		APISecret:         cfg.CLOBApiSecret,
		Passphrase:        cfg.CLOBPassphrase,
		PrivateKeyHex:     cfg.WalletPrivateKey,
		SlippageAllowance: cfg.SlippageAllowance,
		DryRun:            cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize order client")
	}

	guard := risk.NewGuard(cfg.MaxDirectionalPct, cfg.ImbalanceWarnShares, cfg.ImbalanceMaxShares)
	cooldown := risk.NewCooldown(cfg.TradeCooldown, cfg.RateLimitCooldown)

	gate := exec.NewGate(exec.GateConfig{
		MinExecuteSeconds: cfg.MinExecuteSeconds,
		MaxBookAge:        cfg.MaxBookAge,
		DryRun:            cfg.DryRun,
	}, client, led, guard, cooldown, db)

	// ====== TELEGRAM ======
	notifier, err := bot.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram unavailable - notifications disabled")
	}
	if notifier != nil {
		notifier.Start()
		gate.SetNotifier(notifier)
		mode := "PAPER"
		if !cfg.DryRun {
			mode = "LIVE"
		}
		startBalance, _ := balance.Get()
		notifier.NotifyStartup(mode, cfg.Symbols, startBalance)
	}

	// ====== ENGINE ======
	engine := core.NewEngine(cfg, registry, source, listener, led, gate, db, spot, balance)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	log.Info().Msg("✅ All systems online")
	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msg("║     PAIR-COST ARBITRAGE ACTIVE           ║")
	log.Info().Msg("║                                          ║")
	log.Info().Msg("║  → Watch Up+Down combined ask < $1       ║")
	log.Info().Msg("║  → Buy the cheaper leg                   ║")
	log.Info().Msg("║  → Matched shares pay $1 at resolution   ║")
	log.Info().Msg("╚══════════════════════════════════════════╝")
	log.Info().Msg("")

	// Wait for shutdown signal or engine exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Engine exited")
			if notifier != nil {
				notifier.NotifyError(err)
			}
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down...")
	cancel()

	if notifier != nil {
		notifier.Stop()
	}
	if balanceSource != nil {
		balanceSource.Close()
	}

	log.Info().Msg("👋 Goodbye!")
}
