package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Mode
	DryRun      bool
	AutoExecute bool
	Debug       bool

	// Tracked underlyings
	Symbols []string

	// Venue endpoints
	GammaAPIURL string
	CLOBAPIURL  string
	WSURL       string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet
	WalletPrivateKey string
	PolygonRPCURL    string
	USDCContract     string

	// Strategy thresholds
	TargetPairCost    decimal.Decimal // stop improving once position pair cost is at/below this
	MinImprovement    decimal.Decimal // projected pair-cost improvement a trade must deliver
	MaxDirectionalPct decimal.Decimal // directional USD exposure cap as fraction of capital
	TradeCapitalPct   decimal.Decimal // fraction of capital per trade before clamping
	MinTradeUSD       decimal.Decimal
	MaxTradeUSD       decimal.Decimal
	SlippageAllowance decimal.Decimal // added to best ask when crossing

	// Timing gates
	MinEvalSeconds    float64 // evaluator skips windows closer to expiry than this
	MinExecuteSeconds float64 // execution gate cutoff, stricter than the evaluator
	TradeCooldown     time.Duration
	RateLimitCooldown time.Duration

	// Freshness
	MaxBookAge     time.Duration // price samples older than this are unusable
	StaleTickAfter time.Duration // skip the whole tick when nothing is fresher than this

	// Cadences
	TickInterval      time.Duration
	DiscoveryInterval time.Duration
	HeartbeatInterval time.Duration

	// TTL caches
	BalanceTTL time.Duration
	SpotTTL    time.Duration

	// Share imbalance guard
	ImbalanceWarnShares decimal.Decimal
	ImbalanceMaxShares  decimal.Decimal

	// Fallback bankroll when the on-chain balance source is unavailable
	Bankroll decimal.Decimal

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabaseURL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Mode
		DryRun:      getEnvBool("DRY_RUN", true),
		AutoExecute: getEnvBool("AUTO_EXECUTE", false),
		Debug:       getEnvBool("DEBUG", false),

		// Venue endpoints
		GammaAPIURL: getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		CLOBAPIURL:  getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		WSURL:       getEnv("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		// CLOB credentials
		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		// Wallet
		WalletPrivateKey: os.Getenv("ETH_PRIVATE_KEY"),
		PolygonRPCURL:    getEnv("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		USDCContract:     getEnv("USDC_CONTRACT", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),

		// Strategy thresholds
		TargetPairCost:    getEnvDecimal("TARGET_PAIR_COST", decimal.NewFromFloat(0.982)),
		MinImprovement:    getEnvDecimal("MIN_IMPROVEMENT", decimal.NewFromFloat(0.004)),
		MaxDirectionalPct: getEnvDecimal("MAX_DIRECTIONAL_PCT", decimal.NewFromFloat(0.35)),
		TradeCapitalPct:   getEnvDecimal("TRADE_CAPITAL_PCT", decimal.NewFromFloat(0.12)),
		MinTradeUSD:       getEnvDecimal("MIN_TRADE_USD", decimal.NewFromFloat(2)),
		MaxTradeUSD:       getEnvDecimal("MAX_TRADE_USD", decimal.NewFromFloat(100)),
		SlippageAllowance: getEnvDecimal("SLIPPAGE_ALLOWANCE", decimal.NewFromFloat(0.006)),

		// Timing gates
		MinEvalSeconds:    getEnvFloat("MIN_EVAL_SECONDS", 90),
		MinExecuteSeconds: getEnvFloat("MIN_EXECUTE_SECONDS", 25),
		TradeCooldown:     getEnvDuration("TRADE_COOLDOWN", 15*time.Second),
		RateLimitCooldown: getEnvDuration("RATE_LIMIT_COOLDOWN", 60*time.Second),

		// Freshness
		MaxBookAge:     getEnvDuration("MAX_BOOK_AGE", 1500*time.Millisecond),
		StaleTickAfter: getEnvDuration("STALE_TICK_AFTER", 3*time.Second),

		// Cadences
		TickInterval:      getEnvDuration("TICK_INTERVAL", 500*time.Millisecond),
		DiscoveryInterval: getEnvDuration("DISCOVERY_INTERVAL", 60*time.Second),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 3*time.Second),

		// TTL caches
		BalanceTTL: getEnvDuration("BALANCE_TTL", 30*time.Second),
		SpotTTL:    getEnvDuration("SPOT_TTL", 5*time.Second),

		// Share imbalance guard
		ImbalanceWarnShares: getEnvDecimal("IMBALANCE_WARN_SHARES", decimal.NewFromInt(400)),
		ImbalanceMaxShares:  getEnvDecimal("IMBALANCE_MAX_SHARES", decimal.NewFromInt(500)),

		Bankroll: getEnvDecimal("BANKROLL", decimal.NewFromFloat(1000)),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "data/combobot.db"),
	}

	// Tracked symbols
	raw := getEnv("TRADING_SYMBOLS", "BTC,ETH,SOL")
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("TRADING_SYMBOLS must name at least one symbol")
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Live auto-execution needs signing material up front
	if !cfg.DryRun && cfg.AutoExecute {
		if cfg.WalletPrivateKey == "" {
			return nil, fmt.Errorf("ETH_PRIVATE_KEY is required for live auto-execution")
		}
		if cfg.CLOBApiKey == "" || cfg.CLOBApiSecret == "" {
			return nil, fmt.Errorf("CLOB_API_KEY and CLOB_API_SECRET are required for live auto-execution")
		}
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
