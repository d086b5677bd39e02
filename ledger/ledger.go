package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LEDGER - Accumulated legs and pair-cost math
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strictly additive: the strategy only buys. Shares and costs never
// decrease; archiving a market reads its final metrics and discards live
// tracking. Only the tick loop mutates the ledger.
//
// ═══════════════════════════════════════════════════════════════════════════════

var one = decimal.NewFromInt(1)

// Position holds both legs of one market
type Position struct {
	SharesUp   decimal.Decimal
	CostUp     decimal.Decimal
	SharesDown decimal.Decimal
	CostDown   decimal.Decimal
}

// Metrics is the derived view of a position
type Metrics struct {
	AvgUp        decimal.Decimal
	AvgDown      decimal.Decimal
	PairCost     decimal.Decimal // 1.0 until both legs are funded
	PairFunded   bool            // both legs hold shares
	LockedShares decimal.Decimal
	LockedProfit decimal.Decimal
	Imbalance    decimal.Decimal // |sharesUp - sharesDown|
	HeavySide    types.Side      // which leg is heavier, up when balanced
	NetCostUSD   decimal.Decimal // |costUp - costDown|, directional tilt
	TotalCost    decimal.Decimal
	SharesUp     decimal.Decimal
	SharesDown   decimal.Decimal
	CostUp       decimal.Decimal
	CostDown     decimal.Decimal
}

// Ledger maps condition id to position
type Ledger struct {
	positions map[string]*Position
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{positions: make(map[string]*Position)}
}

// ApplyFill adds a confirmed fill to one leg
func (l *Ledger) ApplyFill(conditionID string, side types.Side, shares, cost decimal.Decimal) {
	pos, ok := l.positions[conditionID]
	if !ok {
		pos = &Position{}
		l.positions[conditionID] = pos
	}

	if side == types.SideUp {
		pos.SharesUp = pos.SharesUp.Add(shares)
		pos.CostUp = pos.CostUp.Add(cost)
	} else {
		pos.SharesDown = pos.SharesDown.Add(shares)
		pos.CostDown = pos.CostDown.Add(cost)
	}
}

// Has reports whether any fills exist for a market
func (l *Ledger) Has(conditionID string) bool {
	_, ok := l.positions[conditionID]
	return ok
}

// ConditionIDs lists all tracked markets
func (l *Ledger) ConditionIDs() []string {
	out := make([]string, 0, len(l.positions))
	for id := range l.positions {
		out = append(out, id)
	}
	return out
}

// Metrics derives the current view for a market. A market with no fills
// yields zero-value metrics with PairCost 1.0.
func (l *Ledger) Metrics(conditionID string) Metrics {
	pos, ok := l.positions[conditionID]
	if !ok {
		pos = &Position{}
	}
	return computeMetrics(pos)
}

// Archive reads the final metrics and drops live tracking
func (l *Ledger) Archive(conditionID string) Metrics {
	m := l.Metrics(conditionID)
	delete(l.positions, conditionID)
	return m
}

// Classify names what buying side would do to this position
func (l *Ledger) Classify(conditionID string, side types.Side) string {
	pos, ok := l.positions[conditionID]
	if !ok {
		return types.TradeFirstLeg
	}

	var own, other decimal.Decimal
	if side == types.SideUp {
		own, other = pos.SharesUp, pos.SharesDown
	} else {
		own, other = pos.SharesDown, pos.SharesUp
	}

	switch {
	case own.IsZero() && other.IsZero():
		return types.TradeFirstLeg
	case own.IsZero() && other.IsPositive():
		return types.TradeSecondLeg
	default:
		return types.TradeAddOn
	}
}

func computeMetrics(pos *Position) Metrics {
	m := Metrics{
		PairCost:   one,
		HeavySide:  types.SideUp,
		SharesUp:   pos.SharesUp,
		SharesDown: pos.SharesDown,
		CostUp:     pos.CostUp,
		CostDown:   pos.CostDown,
		TotalCost:  pos.CostUp.Add(pos.CostDown),
	}

	if pos.SharesUp.IsPositive() {
		m.AvgUp = pos.CostUp.Div(pos.SharesUp)
	}
	if pos.SharesDown.IsPositive() {
		m.AvgDown = pos.CostDown.Div(pos.SharesDown)
	}

	// Pair cost only means something once both legs are funded
	if pos.SharesUp.IsPositive() && pos.SharesDown.IsPositive() {
		m.PairFunded = true
		m.PairCost = m.AvgUp.Add(m.AvgDown)
	}

	m.LockedShares = decimal.Min(pos.SharesUp, pos.SharesDown)
	if m.LockedShares.IsPositive() && m.PairCost.IsPositive() {
		m.LockedProfit = m.LockedShares.Mul(one.Sub(m.PairCost))
	}

	m.Imbalance = pos.SharesUp.Sub(pos.SharesDown).Abs()
	if pos.SharesDown.GreaterThan(pos.SharesUp) {
		m.HeavySide = types.SideDown
	}
	m.NetCostUSD = pos.CostUp.Sub(pos.CostDown).Abs()

	return m
}
