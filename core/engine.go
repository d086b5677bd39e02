package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/exec"
	"github.com/web3guy0/combobot/feeds"
	"github.com/web3guy0/combobot/internal/config"
	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/markets"
	"github.com/web3guy0/combobot/storage"
	"github.com/web3guy0/combobot/strategy"
	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - The tick loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per tick:
//   Discovery (time-sliced) → subscription sync → price refresh →
//   staleness guard → heartbeat → Evaluator → Execution Gate → sleep
//
// Single-threaded by design: everything except the push listener runs
// here. The listener and the tick loop share only the Price Cache.
//
// ═══════════════════════════════════════════════════════════════════════════════

const windowSeconds = 900

// Engine drives the decision loop
type Engine struct {
	cfg      *config.Config
	registry *markets.Registry
	source   *feeds.PriceSource
	listener *feeds.PushListener
	led      *ledger.Ledger
	gate     *exec.Gate
	db       *storage.Database
	spot     *feeds.BinanceFeed
	balance  *feeds.TTLValue[decimal.Decimal]

	evalParams strategy.Params

	// Tick-loop state, never touched elsewhere
	active        []types.Market
	tick          int64
	lastDiscovery time.Time
	lastHeartbeat time.Time
}

// NewEngine wires the components together
func NewEngine(
	cfg *config.Config,
	registry *markets.Registry,
	source *feeds.PriceSource,
	listener *feeds.PushListener,
	led *ledger.Ledger,
	gate *exec.Gate,
	db *storage.Database,
	spot *feeds.BinanceFeed,
	balance *feeds.TTLValue[decimal.Decimal],
) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		source:   source,
		listener: listener,
		led:      led,
		gate:     gate,
		db:       db,
		spot:     spot,
		balance:  balance,
		evalParams: strategy.Params{
			TargetPairCost:    cfg.TargetPairCost,
			MinImprovement:    cfg.MinImprovement,
			MaxDirectionalPct: cfg.MaxDirectionalPct,
			TradeCapitalPct:   cfg.TradeCapitalPct,
			MinTradeUSD:       cfg.MinTradeUSD,
			MaxTradeUSD:       cfg.MaxTradeUSD,
			MinEvalSeconds:    cfg.MinEvalSeconds,
		},
	}
}

// Run blocks until ctx is cancelled. Startup fails hard when no market
// resolves at all; after that the loop degrades, never exits.
func (e *Engine) Run(ctx context.Context) error {
	e.active = e.registry.Discover(ctx)
	e.lastDiscovery = time.Now()
	if len(e.active) == 0 {
		return fmt.Errorf("no active markets resolved for %v", e.cfg.Symbols)
	}

	e.warnOnRestart()

	e.listener.UpdateSubscriptions(e.trackedTokens())
	e.listener.Start()
	defer e.listener.Stop()

	log.Info().
		Int("markets", len(e.active)).
		Bool("dry_run", e.cfg.DryRun).
		Bool("auto_execute", e.cfg.AutoExecute).
		Msg("⚡ Engine running")

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Int64("ticks", e.tick).Msg("Engine stopped")
			return nil
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

// warnOnRestart flags the known gap: the ledger starts empty while
// recent live fills may still be held on the venue
func (e *Engine) warnOnRestart() {
	windowStart := time.Unix(time.Now().Unix()/windowSeconds*windowSeconds, 0)
	if count, err := e.db.TradesSince(windowStart); err == nil && count > 0 {
		log.Warn().
			Int64("recent_fills", count).
			Msg("⚠️ Restarted with live fills inside the current window; ledger starts empty")
	}
}

// runTick is one pass of the decision loop
func (e *Engine) runTick(ctx context.Context) {
	e.tick++
	now := time.Now()

	// Discovery on its own cadence, time-sliced into the loop
	if now.Sub(e.lastDiscovery) >= e.cfg.DiscoveryInterval {
		e.refreshMarkets(ctx, now)
	}

	tokens := e.trackedTokens()
	if len(tokens) == 0 {
		return
	}

	prices := e.source.Refresh(ctx, tokens)

	// Global staleness guard: nothing fresh means no trading this tick
	if age, ok := e.source.NewestAge(tokens); !ok || age > e.cfg.StaleTickAfter {
		log.Warn().
			Dur("newest_age", age).
			Str("ws_state", e.listener.Status()).
			Msg("⏸️ TICK_SKIPPED: all prices stale")
		return
	}

	capital := e.availableCapital()
	intents, oppCount := e.evaluateAll(prices, capital, now)

	if now.Sub(e.lastHeartbeat) >= e.cfg.HeartbeatInterval {
		e.writeHeartbeat(prices, capital, oppCount, now)
		e.lastHeartbeat = now
	}

	if !e.cfg.AutoExecute || len(intents) == 0 {
		return
	}

	// At most one trade per tick: first intent that clears the gate
	for _, intent := range intents {
		if e.gate.Execute(ctx, intent, capital, now) {
			if !e.cfg.DryRun {
				e.balance.Invalidate()
			}
			break
		}
	}
}

// refreshMarkets re-runs discovery and reconciles the ledger with the
// new active set
func (e *Engine) refreshMarkets(ctx context.Context, now time.Time) {
	e.active = e.registry.Discover(ctx)
	e.lastDiscovery = now

	// Archive positions whose market fell out of the active set
	activeIDs := make(map[string]bool, len(e.active))
	for _, m := range e.active {
		activeIDs[m.ConditionID] = true
	}
	for _, id := range e.led.ConditionIDs() {
		if activeIDs[id] {
			continue
		}
		final := e.led.Archive(id)
		log.Info().
			Str("condition", id).
			Str("locked_shares", final.LockedShares.StringFixed(2)).
			Str("locked_profit", final.LockedProfit.StringFixed(2)).
			Str("total_cost", final.TotalCost.StringFixed(2)).
			Msg("📦 MARKET_ARCHIVED")
	}

	e.listener.UpdateSubscriptions(e.trackedTokens())
}

// trackedTokens lists every token id across the active markets
func (e *Engine) trackedTokens() []string {
	tokens := make([]string, 0, len(e.active)*2)
	for _, m := range e.active {
		tokens = append(tokens, m.UpTokenID, m.DownTokenID)
	}
	return tokens
}

// availableCapital serves the TTL-cached balance, falling back to the
// configured bankroll when the source never answered
func (e *Engine) availableCapital() decimal.Decimal {
	balance, err := e.balance.Get()
	if err != nil {
		log.Debug().Err(err).Msg("Balance unavailable, using configured bankroll")
		return e.cfg.Bankroll
	}
	return balance
}

// evaluateAll runs the evaluator over every active market, logging a
// price snapshot per symbol and persisting near-miss decisions
func (e *Engine) evaluateAll(prices map[string]types.PricePoint, capital decimal.Decimal, now time.Time) ([]*types.TradeIntent, int) {
	var intents []*types.TradeIntent
	oppCount := 0

	for i := range e.active {
		market := e.active[i]

		up, upOK := prices[market.UpTokenID]
		down, downOK := prices[market.DownTokenID]
		if !upOK || !downOK {
			continue
		}

		livePair := up.Mid().Add(down.Mid())
		if livePair.LessThan(decimal.NewFromInt(1)) {
			oppCount++
		}

		log.Debug().
			Str("symbol", market.Symbol).
			Str("up_ask", up.BestAsk.StringFixed(3)).
			Str("down_ask", down.BestAsk.StringFixed(3)).
			Str("pair", livePair.StringFixed(4)).
			Str("origin", string(up.Origin)).
			Float64("secs_left", market.SecondsRemaining(now)).
			Msg("PRICE_SNAPSHOT")

		intent, nearMiss := strategy.Evaluate(e.evalParams, market, e.led, up, down, capital, now)
		if nearMiss != nil {
			e.db.WriteEvalDecision(*nearMiss)
		}
		if intent != nil {
			log.Info().
				Str("symbol", market.Symbol).
				Str("side", string(intent.Side)).
				Str("type", intent.Classification).
				Str("usd", intent.AmountUSD.StringFixed(2)).
				Str("projected_pair", intent.PairCostAfter.StringFixed(4)).
				Msg("🎯 OPPORTUNITY")
			intents = append(intents, intent)
		}
	}

	return intents, oppCount
}

// writeHeartbeat upserts the monitoring snapshot, best-effort
func (e *Engine) writeHeartbeat(prices map[string]types.PricePoint, capital decimal.Decimal, oppCount int, now time.Time) {
	snap := types.HeartbeatSnapshot{
		Tick:          e.tick,
		ActiveMarkets: len(e.active),
		Opportunities: oppCount,
		Balance:       capital,
		Prices:        make(map[string]types.SymbolPrices, len(e.active)),
		DryRun:        e.cfg.DryRun,
		UpdatedAt:     now,
	}

	for _, m := range e.active {
		up, upOK := prices[m.UpTokenID]
		down, downOK := prices[m.DownTokenID]
		if !upOK || !downOK {
			continue
		}
		snap.Prices[m.Symbol] = types.SymbolPrices{
			UpMid:    up.Mid(),
			DownMid:  down.Mid(),
			PairCost: up.Mid().Add(down.Mid()),
			Spot:     e.spot.GetSpot(m.Symbol),
			Origin:   string(up.Origin),
		}
	}

	e.db.WriteHeartbeat(snap)
}
