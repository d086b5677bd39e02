package strategy

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testParams() Params {
	return Params{
		TargetPairCost:    d(0.982),
		MinImprovement:    d(0.004),
		MaxDirectionalPct: d(0.35),
		TradeCapitalPct:   d(0.12),
		MinTradeUSD:       d(2),
		MaxTradeUSD:       d(100),
		MinEvalSeconds:    90,
	}
}

func testMarket(now time.Time, secsLeft float64) types.Market {
	return types.Market{
		ConditionID: "cond-1",
		Symbol:      "BTC",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		Expiry:      now.Add(time.Duration(secsLeft) * time.Second),
		ExpiryKnown: true,
		Active:      true,
	}
}

func price(token string, bid, ask float64, now time.Time) types.PricePoint {
	return types.PricePoint{
		TokenID:   token,
		BestBid:   d(bid),
		BestAsk:   d(ask),
		Origin:    types.OriginPush,
		Timestamp: now,
	}
}

func TestFirstLegBuysCheaperSide(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	led := ledger.New()

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	intent, _ := Evaluate(testParams(), market, led, up, down, d(1000), now)
	if intent == nil {
		t.Fatal("expected a first-leg intent")
	}
	if intent.Side != types.SideUp {
		t.Errorf("Side = %s, want up (cheaper ask)", intent.Side)
	}
	// 12% of 1000 at full urgency, clamped to the max ticket
	if !intent.AmountUSD.Equal(d(100)) {
		t.Errorf("AmountUSD = %s, want 100", intent.AmountUSD)
	}
	if intent.Classification != types.TradeFirstLeg {
		t.Errorf("Classification = %s, want first_leg", intent.Classification)
	}
	if !intent.PairCostAfter.Equal(d(0.97)) {
		t.Errorf("PairCostAfter = %s, want 0.97 (0.47 avg + 0.50 live ask)", intent.PairCostAfter)
	}
	if !intent.Improvement.Equal(d(0.03)) {
		t.Errorf("Improvement = %s, want 0.03", intent.Improvement)
	}
	if intent.TokenID != "tok-up" {
		t.Errorf("TokenID = %s, want tok-up", intent.TokenID)
	}
}

func TestSkipsWhenAlreadyAtTarget(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	led := ledger.New()
	led.ApplyFill("cond-1", types.SideUp, d(20), d(9.40))   // avg 0.47
	led.ApplyFill("cond-1", types.SideDown, d(20), d(10.0)) // avg 0.50

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	intent, dec := Evaluate(testParams(), market, led, up, down, d(1000), now)
	if intent != nil {
		t.Errorf("pair cost 0.97 is at target, got intent for %s", intent.Side)
	}
	if dec != nil {
		t.Errorf("at-target skip should be silent, got decision %s", dec.Reason)
	}
}

func TestSkipsCloseToExpiry(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 60)
	led := ledger.New()

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	if intent, _ := Evaluate(testParams(), market, led, up, down, d(1000), now); intent != nil {
		t.Error("60s remaining is inside the eval cutoff, expected no intent")
	}
}

func TestSkipsWithoutLiveEdge(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	led := ledger.New()

	up := price("tok-up", 0.50, 0.52, now)
	down := price("tok-down", 0.49, 0.51, now)

	if intent, _ := Evaluate(testParams(), market, led, up, down, d(1000), now); intent != nil {
		t.Error("live pair cost >= 1, expected no intent")
	}
}

func TestSkipsInactiveMarket(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	market.Active = false

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	if intent, _ := Evaluate(testParams(), market, ledger.New(), up, down, d(1000), now); intent != nil {
		t.Error("inactive market, expected no intent")
	}
}

func TestUnknownExpiryPassesTimeGate(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	market.ExpiryKnown = false
	market.Expiry = time.Time{}

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	if intent, _ := Evaluate(testParams(), market, ledger.New(), up, down, d(1000), now); intent == nil {
		t.Error("unknown expiry should not block evaluation")
	}
}

func TestDirectionalCapNearMiss(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	led := ledger.New()
	// Down-heavy: 800 shares @ 0.40, up leg unfunded
	led.ApplyFill("cond-1", types.SideDown, d(800), d(320))

	up := price("tok-up", 0.49, 0.50, now)
	down := price("tok-down", 0.37, 0.38, now)

	intent, dec := Evaluate(testParams(), market, led, up, down, d(1000), now)
	if intent != nil {
		t.Fatalf("down tilt would reach $420 against a $350 cap, got intent")
	}
	if dec == nil {
		t.Fatal("projected cost lands near target, expected a near-miss decision")
	}
	if dec.Reason != types.ReasonDirectionalCap {
		t.Errorf("Reason = %s, want %s", dec.Reason, types.ReasonDirectionalCap)
	}
	if dec.WouldBuySide != types.SideDown {
		t.Errorf("WouldBuySide = %s, want down", dec.WouldBuySide)
	}
}

func TestImprovementTooSmallNearMiss(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	led := ledger.New()
	led.ApplyFill("cond-1", types.SideUp, d(100), d(49))     // avg 0.49
	led.ApplyFill("cond-1", types.SideDown, d(100), d(49.5)) // avg 0.495

	// Buying more up at its own average moves the pair cost nowhere
	up := price("tok-up", 0.48, 0.49, now)
	down := price("tok-down", 0.485, 0.492, now)

	intent, dec := Evaluate(testParams(), market, led, up, down, d(1000), now)
	if intent != nil {
		t.Fatal("zero improvement, expected no intent")
	}
	if dec == nil {
		t.Fatal("projected 0.985 sits within the near-miss band of 0.982")
	}
	if dec.Reason != types.ReasonImprovementSmall {
		t.Errorf("Reason = %s, want %s", dec.Reason, types.ReasonImprovementSmall)
	}
}

func TestSizeFloorExceedsCapital(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)

	up := price("tok-up", 0.46, 0.47, now)
	down := price("tok-down", 0.49, 0.50, now)

	// Minimum ticket is $2; $1 of capital cannot fund it
	if intent, _ := Evaluate(testParams(), market, ledger.New(), up, down, d(1), now); intent != nil {
		t.Error("capital below the minimum ticket, expected no intent")
	}
}

func TestSizeScalesDownNearTarget(t *testing.T) {
	now := time.Now()
	market := testMarket(now, 400)
	params := testParams()
	params.TargetPairCost = d(0.95)

	led := ledger.New()
	// Funded pair at 0.978: above the lowered target, mid urgency band
	led.ApplyFill("cond-1", types.SideUp, d(100), d(49.0))
	led.ApplyFill("cond-1", types.SideDown, d(100), d(48.8))

	up := price("tok-up", 0.39, 0.40, now)
	down := price("tok-down", 0.52, 0.53, now)

	intent, _ := Evaluate(params, market, led, up, down, d(500), now)
	if intent == nil {
		t.Fatal("expected an add-on intent")
	}
	// 0.12 × 500 × 0.85 urgency
	if !intent.AmountUSD.Equal(d(51)) {
		t.Errorf("AmountUSD = %s, want 51", intent.AmountUSD)
	}
	if intent.Classification != types.TradeAddOn {
		t.Errorf("Classification = %s, want adding_to_position", intent.Classification)
	}
}

// Any intent the evaluator emits must satisfy the whole safety ladder,
// whatever the prices, position and time remaining look like.
func TestIntentInvariants(t *testing.T) {
	p := testParams()
	capital := d(1000)

	property := func(upCents, downCents uint16, secs uint16, upShares, downShares uint16) bool {
		now := time.Now()
		upAsk := decimal.NewFromInt(int64(upCents%97) + 2).Div(decimal.NewFromInt(100))
		downAsk := decimal.NewFromInt(int64(downCents%97) + 2).Div(decimal.NewFromInt(100))
		market := testMarket(now, float64(secs%900))

		led := ledger.New()
		if upShares%400 > 0 {
			led.ApplyFill("cond-1", types.SideUp, decimal.NewFromInt(int64(upShares%400)), decimal.NewFromInt(int64(upShares%400)).Mul(upAsk))
		}
		if downShares%400 > 0 {
			led.ApplyFill("cond-1", types.SideDown, decimal.NewFromInt(int64(downShares%400)), decimal.NewFromInt(int64(downShares%400)).Mul(downAsk))
		}

		up := types.PricePoint{TokenID: "tok-up", BestBid: upAsk, BestAsk: upAsk, Origin: types.OriginPush, Timestamp: now}
		down := types.PricePoint{TokenID: "tok-down", BestBid: downAsk, BestAsk: downAsk, Origin: types.OriginPoll, Timestamp: now}

		intent, _ := Evaluate(p, market, led, up, down, capital, now)
		if intent == nil {
			return true
		}

		if intent.SecondsRemaining < p.MinEvalSeconds {
			return false
		}
		if intent.PairCostAfter.GreaterThan(p.TargetPairCost) {
			return false
		}
		if intent.Improvement.LessThan(p.MinImprovement) {
			return false
		}
		if intent.AmountUSD.LessThan(p.MinTradeUSD) || intent.AmountUSD.GreaterThan(p.MaxTradeUSD) {
			return false
		}
		// Only ever the cheaper ask
		cheaper := types.SideUp
		if downAsk.LessThan(upAsk) {
			cheaper = types.SideDown
		}
		if upAsk.Equal(downAsk) {
			cheaper = intent.Side
		}
		return intent.Side == cheaper
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func TestUrgencyTiers(t *testing.T) {
	cases := []struct {
		pair float64
		want decimal.Decimal
	}{
		{1.0, urgencyFull},
		{0.981, urgencyFull},
		{0.978, urgencyMid},
		{0.970, urgencyLow},
	}
	for _, c := range cases {
		if got := urgencyFor(d(c.pair)); !got.Equal(c.want) {
			t.Errorf("urgencyFor(%v) = %s, want %s", c.pair, got, c.want)
		}
	}
}
