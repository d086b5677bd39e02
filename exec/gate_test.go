package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/ledger"
	"github.com/web3guy0/combobot/risk"
	"github.com/web3guy0/combobot/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type stubExecutor struct {
	calls int
	fill  types.Fill
	err   error
}

func (s *stubExecutor) PlaceMarketBuy(ctx context.Context, tokenID string, bestAsk, usd decimal.Decimal) (types.Fill, error) {
	s.calls++
	return s.fill, s.err
}

type stubRecorder struct {
	rows []types.TradeRecord
}

func (s *stubRecorder) WriteTradeRecord(rec types.TradeRecord) {
	s.rows = append(s.rows, rec)
}

func testGate(dryRun bool, executor *stubExecutor, led *ledger.Ledger, recorder *stubRecorder) (*Gate, *risk.Cooldown) {
	cooldown := risk.NewCooldown(15*time.Second, 60*time.Second)
	guard := risk.NewGuard(d(0.35), d(400), d(500))
	gate := NewGate(GateConfig{
		MinExecuteSeconds: 25,
		MaxBookAge:        1500 * time.Millisecond,
		DryRun:            dryRun,
	}, executor, led, guard, cooldown, recorder)
	return gate, cooldown
}

func testIntent() *types.TradeIntent {
	return &types.TradeIntent{
		ConditionID:      "cond-1",
		Symbol:           "BTC",
		Side:             types.SideUp,
		TokenID:          "tok-up",
		AmountUSD:        d(50),
		Price:            d(0.47),
		PairCostBefore:   d(1.0),
		PairCostAfter:    d(0.97),
		Improvement:      d(0.03),
		SecondsRemaining: 400,
		Classification:   types.TradeFirstLeg,
		PriceOrigin:      types.OriginPush,
		PriceAge:         200 * time.Millisecond,
	}
}

func TestDryRunAppliesFillAndAudit(t *testing.T) {
	executor := &stubExecutor{}
	led := ledger.New()
	recorder := &stubRecorder{}
	gate, _ := testGate(true, executor, led, recorder)

	now := time.Now()
	if !gate.Execute(context.Background(), testIntent(), d(1000), now) {
		t.Fatal("dry-run execution should succeed")
	}
	if executor.calls != 0 {
		t.Errorf("dry-run placed %d real orders", executor.calls)
	}

	met := led.Metrics("cond-1")
	if met.CostUp.Sub(d(50)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("CostUp = %s, want ~50", met.CostUp)
	}
	if !met.SharesUp.IsPositive() {
		t.Error("dry-run fill not applied to the ledger")
	}

	if len(recorder.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(recorder.rows))
	}
	rec := recorder.rows[0]
	if !rec.Success || !rec.DryRun {
		t.Errorf("record success=%v dry_run=%v, want true/true", rec.Success, rec.DryRun)
	}
	if !strings.HasPrefix(rec.ExternalRef, "DRY_") {
		t.Errorf("ExternalRef = %q, want DRY_ prefix", rec.ExternalRef)
	}
}

func TestCooldownBlocksSecondAttempt(t *testing.T) {
	executor := &stubExecutor{}
	led := ledger.New()
	recorder := &stubRecorder{}
	gate, _ := testGate(true, executor, led, recorder)

	now := time.Now()
	if !gate.Execute(context.Background(), testIntent(), d(1000), now) {
		t.Fatal("first execution should succeed")
	}
	if gate.Execute(context.Background(), testIntent(), d(1000), now.Add(5*time.Second)) {
		t.Error("second execution inside the cooldown should be blocked")
	}
	if !gate.Execute(context.Background(), testIntent(), d(1000), now.Add(16*time.Second)) {
		t.Error("execution after the cooldown should succeed")
	}
	if len(recorder.rows) != 2 {
		t.Errorf("audit rows = %d, want 2", len(recorder.rows))
	}
}

func TestVetoesDoNotArmCooldown(t *testing.T) {
	executor := &stubExecutor{}
	led := ledger.New()
	gate, cooldown := testGate(true, executor, led, &stubRecorder{})

	now := time.Now()

	stale := testIntent()
	stale.PriceAge = 3 * time.Second
	if gate.Execute(context.Background(), stale, d(1000), now) {
		t.Error("stale book should be vetoed")
	}

	late := testIntent()
	late.SecondsRemaining = 20
	if gate.Execute(context.Background(), late, d(1000), now) {
		t.Error("inside the expiry cutoff should be vetoed")
	}

	if !cooldown.Ready(now) {
		t.Error("vetoed attempts must not arm the cooldown")
	}
}

func TestExposureRecheckAgainstCurrentLedger(t *testing.T) {
	executor := &stubExecutor{}
	led := ledger.New()
	// Tilt already at $330; another $50 up breaches the $350 cap
	led.ApplyFill("cond-1", types.SideUp, d(660), d(330))
	gate, cooldown := testGate(true, executor, led, &stubRecorder{})

	now := time.Now()
	if gate.Execute(context.Background(), testIntent(), d(1000), now) {
		t.Error("exposure recheck should veto")
	}
	if !cooldown.Ready(now) {
		t.Error("exposure veto must not arm the cooldown")
	}
}

func TestLiveNoFillLeavesLedgerUntouched(t *testing.T) {
	executor := &stubExecutor{fill: types.Fill{Shares: decimal.Zero, ExternalRef: "ord-1"}}
	led := ledger.New()
	recorder := &stubRecorder{}
	gate, _ := testGate(false, executor, led, recorder)

	if gate.Execute(context.Background(), testIntent(), d(1000), time.Now()) {
		t.Error("zero-fill order should not count as executed")
	}
	if led.Has("cond-1") {
		t.Error("zero fill must not touch the ledger")
	}
	if len(recorder.rows) != 1 || recorder.rows[0].Success {
		t.Errorf("expected one failed audit row, got %+v", recorder.rows)
	}
}

func TestLiveFillAppliedAtActualPrice(t *testing.T) {
	executor := &stubExecutor{fill: types.Fill{
		Shares:      d(105),
		AvgPrice:    d(0.475),
		ExternalRef: "ord-2",
	}}
	led := ledger.New()
	recorder := &stubRecorder{}
	gate, _ := testGate(false, executor, led, recorder)

	if !gate.Execute(context.Background(), testIntent(), d(1000), time.Now()) {
		t.Fatal("filled order should count as executed")
	}
	met := led.Metrics("cond-1")
	if !met.SharesUp.Equal(d(105)) {
		t.Errorf("SharesUp = %s, want 105", met.SharesUp)
	}
	// Cost reflects the actual average price, not the quoted ask
	if !met.CostUp.Equal(d(49.875)) {
		t.Errorf("CostUp = %s, want 49.875", met.CostUp)
	}
	if recorder.rows[0].ExternalRef != "ord-2" {
		t.Errorf("ExternalRef = %q, want ord-2", recorder.rows[0].ExternalRef)
	}
}

func TestRateLimitExtendsCooldown(t *testing.T) {
	executor := &stubExecutor{err: ErrRateLimited}
	led := ledger.New()
	gate, cooldown := testGate(false, executor, led, &stubRecorder{})

	now := time.Now()
	if gate.Execute(context.Background(), testIntent(), d(1000), now) {
		t.Error("rate-limited order should fail")
	}
	if cooldown.Ready(now.Add(30 * time.Second)) {
		t.Error("rate limit should extend the cooldown past the normal 15s")
	}
	if !cooldown.Ready(now.Add(61 * time.Second)) {
		t.Error("cooldown should clear after the rate-limit window")
	}
}
