package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GUARD - Pre-execution vetoes
// ═══════════════════════════════════════════════════════════════════════════════
//
// The evaluator already sized the trade against its own estimate; these
// checks run again immediately before execution against the current
// ledger state, so a fill applied between evaluation and execution can
// still veto.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Guard holds the exposure and imbalance limits
type Guard struct {
	maxDirectionalPct decimal.Decimal
	imbalanceWarn     decimal.Decimal
	imbalanceMax      decimal.Decimal
}

// NewGuard creates a guard with the configured caps
func NewGuard(maxDirectionalPct, imbalanceWarn, imbalanceMax decimal.Decimal) *Guard {
	return &Guard{
		maxDirectionalPct: maxDirectionalPct,
		imbalanceWarn:     imbalanceWarn,
		imbalanceMax:      imbalanceMax,
	}
}

// CheckExposure verifies the directional USD tilt after the proposed buy
// stays within the capital-fraction cap
func (g *Guard) CheckExposure(met ledger.Metrics, side types.Side, usd, capital decimal.Decimal) error {
	costUp, costDown := met.CostUp, met.CostDown
	if side == types.SideUp {
		costUp = costUp.Add(usd)
	} else {
		costDown = costDown.Add(usd)
	}

	tilt := costUp.Sub(costDown).Abs()
	limit := g.maxDirectionalPct.Mul(capital)
	if tilt.GreaterThan(limit) {
		return fmt.Errorf("%s: tilt $%s exceeds cap $%s", types.ReasonDirectionalCap, tilt.StringFixed(2), limit.StringFixed(2))
	}
	return nil
}

// CheckImbalance vetoes buys that push the share imbalance onto the
// heavier side past the hard limit, warning past the soft one
func (g *Guard) CheckImbalance(met ledger.Metrics, side types.Side, shares decimal.Decimal) error {
	up, down := met.SharesUp, met.SharesDown
	if side == types.SideUp {
		up = up.Add(shares)
	} else {
		down = down.Add(shares)
	}

	imbalance := up.Sub(down).Abs()
	if imbalance.GreaterThanOrEqual(g.imbalanceMax) {
		return fmt.Errorf("%s: %s shares imbalance at limit %s", types.ReasonImbalanceCap, imbalance.StringFixed(0), g.imbalanceMax.StringFixed(0))
	}
	if imbalance.GreaterThanOrEqual(g.imbalanceWarn) {
		log.Warn().
			Str("imbalance", imbalance.StringFixed(0)).
			Str("side", string(side)).
			Msg("⚠️ Share imbalance approaching limit")
	}
	return nil
}
