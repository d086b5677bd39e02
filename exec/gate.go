package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/risk"
	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION GATE - One trade per tick, serialized and audited
// ═══════════════════════════════════════════════════════════════════════════════
//
// Last line of vetoes before money moves: expiry cutoff, book age,
// exposure recheck against the current ledger, share imbalance. A global
// cooldown spaces attempts; rate limits extend it. Dry-run walks the
// identical ledger and audit path without placing an order. A fill is
// applied to the ledger only after the executor confirms a positive
// matched size.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderExecutor places market buys
type OrderExecutor interface {
	PlaceMarketBuy(ctx context.Context, tokenID string, bestAsk, usd decimal.Decimal) (types.Fill, error)
}

// TradeRecorder persists audit rows, best-effort
type TradeRecorder interface {
	WriteTradeRecord(rec types.TradeRecord)
}

// TradeNotifier pushes executed trades to the operator
type TradeNotifier interface {
	NotifyTrade(rec types.TradeRecord, lockedProfit decimal.Decimal)
}

// GateConfig is the gate's tunable surface
type GateConfig struct {
	MinExecuteSeconds float64
	MaxBookAge        time.Duration
	DryRun            bool
}

// Gate serializes execution
type Gate struct {
	cfg      GateConfig
	executor OrderExecutor
	led      *ledger.Ledger
	guard    *risk.Guard
	cooldown *risk.Cooldown
	recorder TradeRecorder
	notifier TradeNotifier
}

// NewGate wires the gate
func NewGate(cfg GateConfig, executor OrderExecutor, led *ledger.Ledger, guard *risk.Guard, cooldown *risk.Cooldown, recorder TradeRecorder) *Gate {
	return &Gate{
		cfg:      cfg,
		executor: executor,
		led:      led,
		guard:    guard,
		cooldown: cooldown,
		recorder: recorder,
	}
}

// SetNotifier attaches an optional trade notifier
func (g *Gate) SetNotifier(n TradeNotifier) {
	g.notifier = n
}

// Execute attempts one intent. Returns true when a trade (real or
// simulated) was applied to the ledger.
func (g *Gate) Execute(ctx context.Context, intent *types.TradeIntent, capital decimal.Decimal, now time.Time) bool {
	if !g.cooldown.Ready(now) {
		log.Debug().
			Str("symbol", intent.Symbol).
			Dur("remaining", g.cooldown.Remaining(now)).
			Str("reason", types.ReasonCooldown).
			Msg("Trade blocked")
		return false
	}

	veto := func(reason string) bool {
		log.Info().
			Str("symbol", intent.Symbol).
			Str("side", string(intent.Side)).
			Str("reason", reason).
			Msg("🚫 Trade vetoed at gate")
		return false
	}

	if intent.SecondsRemaining < g.cfg.MinExecuteSeconds {
		return veto(types.ReasonExpiryCutoff)
	}
	if intent.PriceAge > g.cfg.MaxBookAge {
		return veto(types.ReasonStaleBook)
	}

	// Recheck against the ledger as it stands now, not the evaluator's view
	met := g.led.Metrics(intent.ConditionID)
	if err := g.guard.CheckExposure(met, intent.Side, intent.AmountUSD, capital); err != nil {
		return veto(err.Error())
	}
	estShares := intent.AmountUSD.Div(intent.Price)
	if err := g.guard.CheckImbalance(met, intent.Side, estShares); err != nil {
		return veto(err.Error())
	}

	// Past the vetoes: this is an attempt, so the cooldown arms no
	// matter how it ends
	g.cooldown.Arm(now)

	if g.cfg.DryRun {
		ref := fmt.Sprintf("DRY_%d", now.UnixNano())
		return g.applyFill(intent, types.Fill{
			Shares:      estShares,
			AvgPrice:    intent.Price,
			ExternalRef: ref,
		}, true, now)
	}

	fill, err := g.executor.PlaceMarketBuy(ctx, intent.TokenID, intent.Price, intent.AmountUSD)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			g.cooldown.ArmRateLimited(now)
			log.Warn().Str("symbol", intent.Symbol).Msg("🚨 Rate limited, cooldown extended")
		}
		log.Error().Err(err).Str("symbol", intent.Symbol).Msg("Order failed")
		g.record(intent, types.Fill{}, g.led.Metrics(intent.ConditionID), false, err.Error(), now)
		return false
	}

	if !fill.Shares.IsPositive() {
		log.Warn().Str("symbol", intent.Symbol).Msg("Order placed but nothing filled")
		g.record(intent, fill, g.led.Metrics(intent.ConditionID), false, "no fill", now)
		return false
	}

	return g.applyFill(intent, fill, false, now)
}

// applyFill updates the ledger and writes the audit row. Identical for
// live and simulated fills.
func (g *Gate) applyFill(intent *types.TradeIntent, fill types.Fill, dryRun bool, now time.Time) bool {
	cost := fill.Shares.Mul(fill.AvgPrice)
	g.led.ApplyFill(intent.ConditionID, intent.Side, fill.Shares, cost)

	after := g.led.Metrics(intent.ConditionID)

	log.Info().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Str("type", intent.Classification).
		Str("shares", fill.Shares.StringFixed(2)).
		Str("price", fill.AvgPrice.StringFixed(3)).
		Str("pair_cost", after.PairCost.StringFixed(4)).
		Str("locked_profit", after.LockedProfit.StringFixed(2)).
		Bool("dry_run", dryRun).
		Msg("💰 TRADE EXECUTED")

	rec := g.record(intent, fill, after, true, "", now)

	if g.notifier != nil {
		g.notifier.NotifyTrade(rec, after.LockedProfit)
	}
	return true
}

// record writes one audit row and returns it
func (g *Gate) record(intent *types.TradeIntent, fill types.Fill, after ledger.Metrics, success bool, errText string, now time.Time) types.TradeRecord {
	rec := types.TradeRecord{
		Timestamp:        now,
		ConditionID:      intent.ConditionID,
		Symbol:           intent.Symbol,
		TradeType:        intent.Classification,
		Side:             intent.Side,
		AmountUSD:        intent.AmountUSD,
		Shares:           fill.Shares,
		Price:            fill.AvgPrice,
		AvgUpCostAfter:   after.AvgUp,
		AvgDownCostAfter: after.AvgDown,
		PairCostAfter:    after.PairCost,
		LockedShares:     after.LockedShares,
		ProjectedProfit:  after.LockedProfit,
		Success:          success,
		Error:            errText,
		DryRun:           g.cfg.DryRun,
		ExternalRef:      fill.ExternalRef,
	}
	if g.recorder != nil {
		g.recorder.WriteTradeRecord(rec)
	}
	return rec
}
