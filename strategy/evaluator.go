package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPPORTUNITY EVALUATOR - Pure decision function
// ═══════════════════════════════════════════════════════════════════════════════
//
// (market, position, capital, live prices) → trade intent or none.
//
// Safety ladder, in order:
//   1. market active, enough time remaining, live pair cost < 1.0
//   2. position already at/below target pair cost → done, skip
//   3. buy the cheaper ask only, sized by capital fraction × urgency tier
//   4. projected pair cost must improve enough and land at/below target
//   5. directional USD exposure stays under the capital-fraction cap
//
// No side effects and no clock: the caller passes now. Near-miss
// rejections come back as an EvalDecision for offline tuning.
//
// ═══════════════════════════════════════════════════════════════════════════════

var one = decimal.NewFromInt(1)

// Params is the tunable surface of the evaluator
type Params struct {
	TargetPairCost    decimal.Decimal
	MinImprovement    decimal.Decimal
	MaxDirectionalPct decimal.Decimal
	TradeCapitalPct   decimal.Decimal
	MinTradeUSD       decimal.Decimal
	MaxTradeUSD       decimal.Decimal
	MinEvalSeconds    float64
}

// Urgency tier thresholds: the further the position pair cost sits above
// these, the harder we press
var (
	urgencyFullAbove = decimal.NewFromFloat(0.980)
	urgencyMidAbove  = decimal.NewFromFloat(0.975)
	urgencyFull      = decimal.NewFromFloat(1.0)
	urgencyMid       = decimal.NewFromFloat(0.85)
	urgencyLow       = decimal.NewFromFloat(0.6)

	nearMissBand = decimal.NewFromFloat(0.01)
)

// Evaluate inspects one market and returns a trade intent when every
// check on the ladder passes. The second return value is a near-miss
// diagnostic record, present only when a rejection landed close to the
// target; it never affects control flow.
func Evaluate(
	p Params,
	market types.Market,
	led *ledger.Ledger,
	up, down types.PricePoint,
	capital decimal.Decimal,
	now time.Time,
) (*types.TradeIntent, *types.EvalDecision) {
	if !market.Active {
		return nil, nil
	}

	secs := market.SecondsRemaining(now)
	if secs < p.MinEvalSeconds {
		return nil, nil
	}

	if up.BestAsk.LessThanOrEqual(decimal.Zero) || down.BestAsk.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	// Edge precondition on live prices, not the ledger
	livePair := up.Mid().Add(down.Mid())
	if livePair.GreaterThanOrEqual(one) {
		return nil, nil
	}

	met := led.Metrics(market.ConditionID)
	if met.PairFunded && met.PairCost.LessThanOrEqual(p.TargetPairCost) {
		return nil, nil
	}

	// Only ever buy the cheaper side
	side := types.SideUp
	buy, other := up, down
	if down.BestAsk.LessThan(up.BestAsk) {
		side = types.SideDown
		buy, other = down, up
	}

	size := p.TradeCapitalPct.Mul(capital).Mul(urgencyFor(met.PairCost))
	size = decimal.Max(size, p.MinTradeUSD)
	size = decimal.Min(size, p.MaxTradeUSD)
	if size.GreaterThan(capital) {
		return nil, nil
	}

	current := met.PairCost // 1.0 until both legs are funded
	projected := projectPairCost(met, side, size, buy.BestAsk, other.BestAsk)
	improvement := current.Sub(projected)

	reject := func(reason string) (*types.TradeIntent, *types.EvalDecision) {
		if projected.Sub(p.TargetPairCost).GreaterThan(nearMissBand) {
			return nil, nil
		}
		return nil, &types.EvalDecision{
			Timestamp:        now,
			ConditionID:      market.ConditionID,
			Symbol:           market.Symbol,
			Reason:           reason,
			LivePairCost:     livePair,
			PositionPairCost: met.PairCost,
			ProjectedCost:    projected,
			Improvement:      improvement,
			SecondsRemaining: secs,
			WouldBuySide:     side,
			WouldBuyUSD:      size,
		}
	}

	if improvement.LessThan(p.MinImprovement) {
		return reject(types.ReasonImprovementSmall)
	}
	if projected.GreaterThan(p.TargetPairCost) {
		return reject(types.ReasonProjectedTooHigh)
	}

	// Directional tilt in USD after this trade
	tilt := projectedTilt(met, side, size)
	if tilt.GreaterThan(p.MaxDirectionalPct.Mul(capital)) {
		return reject(types.ReasonDirectionalCap)
	}

	return &types.TradeIntent{
		ConditionID:      market.ConditionID,
		Symbol:           market.Symbol,
		Side:             side,
		TokenID:          market.TokenID(side),
		AmountUSD:        size,
		Price:            buy.BestAsk,
		PairCostBefore:   current,
		PairCostAfter:    projected,
		Improvement:      improvement,
		SecondsRemaining: secs,
		Classification:   led.Classify(market.ConditionID, side),
		PriceOrigin:      buy.Origin,
		PriceAge:         buy.Age(now),
	}, nil
}

// urgencyFor scales trade size by how far the position pair cost sits
// above the target band
func urgencyFor(positionPair decimal.Decimal) decimal.Decimal {
	switch {
	case positionPair.GreaterThan(urgencyFullAbove):
		return urgencyFull
	case positionPair.GreaterThan(urgencyMidAbove):
		return urgencyMid
	default:
		return urgencyLow
	}
}

// projectPairCost computes the position pair cost after buying usd at
// buyAsk on side. The bought leg becomes a new weighted average; an
// unfunded opposite leg is priced at its live ask, since that is what
// completing the pair would cost.
func projectPairCost(met ledger.Metrics, side types.Side, usd, buyAsk, otherAsk decimal.Decimal) decimal.Decimal {
	var ownShares, ownCost, otherAvg decimal.Decimal
	var otherFunded bool

	if side == types.SideUp {
		ownShares, ownCost = met.SharesUp, met.CostUp
		otherAvg, otherFunded = met.AvgDown, met.SharesDown.IsPositive()
	} else {
		ownShares, ownCost = met.SharesDown, met.CostDown
		otherAvg, otherFunded = met.AvgUp, met.SharesUp.IsPositive()
	}

	newShares := ownShares.Add(usd.Div(buyAsk))
	newAvg := ownCost.Add(usd).Div(newShares)

	otherLeg := otherAsk
	if otherFunded {
		otherLeg = otherAvg
	}
	return newAvg.Add(otherLeg)
}

// projectedTilt is the absolute USD cost difference between legs after
// the proposed buy
func projectedTilt(met ledger.Metrics, side types.Side, usd decimal.Decimal) decimal.Decimal {
	costUp, costDown := met.CostUp, met.CostDown
	if side == types.SideUp {
		costUp = costUp.Add(usd)
	} else {
		costDown = costDown.Add(usd)
	}
	return costUp.Sub(costDown).Abs()
}
