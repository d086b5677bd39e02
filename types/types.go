package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side identifies one leg of a binary up/down market
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Opposite returns the other leg
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// PriceOrigin tags which transport served a price
type PriceOrigin string

const (
	OriginPush PriceOrigin = "push"
	OriginPoll PriceOrigin = "poll"
)

// Trade classifications
const (
	TradeFirstLeg  = "first_leg"
	TradeSecondLeg = "second_leg_pair_complete"
	TradeAddOn     = "adding_to_position"
)

// Evaluator / gate reason codes
const (
	ReasonNoEdge            = "no_live_edge"
	ReasonAlreadyAtTarget   = "already_at_target"
	ReasonTooLittleTime     = "too_little_time"
	ReasonImprovementSmall  = "improvement_too_small"
	ReasonProjectedTooHigh  = "projected_above_target"
	ReasonDirectionalCap    = "directional_cap"
	ReasonInsufficientFunds = "insufficient_capital"
	ReasonImbalanceCap      = "share_imbalance_cap"
	ReasonCooldown          = "cooldown_active"
	ReasonExpiryCutoff      = "expiry_cutoff"
	ReasonStaleBook         = "stale_book"
	ReasonNearMiss          = "near_miss"
)

// Market is one active 15-minute up/down window
type Market struct {
	ConditionID  string
	Symbol       string // "BTC", "ETH", "SOL"
	Slug         string
	Question     string
	UpTokenID    string
	DownTokenID  string
	Expiry       time.Time
	ExpiryKnown  bool
	Active       bool
	DiscoveredAt time.Time
}

// TokenID returns the token id for a side
func (m *Market) TokenID(side Side) string {
	if side == SideUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// SecondsRemaining returns seconds until the window resolves.
// Unknown expiry reports a large sentinel so time gates pass, matching
// how the venue sometimes omits end dates on freshly listed windows.
func (m *Market) SecondsRemaining(now time.Time) float64 {
	if !m.ExpiryKnown {
		return 999
	}
	return m.Expiry.Sub(now).Seconds()
}

// IsExpired returns true once the window has resolved
func (m *Market) IsExpired(now time.Time) bool {
	return m.ExpiryKnown && now.After(m.Expiry)
}

// PricePoint is a top-of-book sample for one token
type PricePoint struct {
	TokenID   string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Origin    PriceOrigin
	Timestamp time.Time
}

// Age returns how old the sample is
func (p PricePoint) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// Mid returns the midpoint price
func (p PricePoint) Mid() decimal.Decimal {
	return p.BestBid.Add(p.BestAsk).Div(decimal.NewFromInt(2))
}

// TradeIntent is one approved buy, produced and consumed within a single tick
type TradeIntent struct {
	ConditionID      string
	Symbol           string
	Side             Side
	TokenID          string
	AmountUSD        decimal.Decimal
	Price            decimal.Decimal // ask being crossed
	PairCostBefore   decimal.Decimal // live pair cost driving the decision
	PairCostAfter    decimal.Decimal // projected position pair cost
	Improvement      decimal.Decimal
	SecondsRemaining float64
	Classification   string
	PriceOrigin      PriceOrigin
	PriceAge         time.Duration
}

// TradeRecord is the append-only audit row for one execution attempt
type TradeRecord struct {
	Timestamp        time.Time
	ConditionID      string
	Symbol           string
	TradeType        string // first_leg, second_leg_pair_complete, adding_to_position
	Side             Side
	AmountUSD        decimal.Decimal
	Shares           decimal.Decimal
	Price            decimal.Decimal
	AvgUpCostAfter   decimal.Decimal
	AvgDownCostAfter decimal.Decimal
	PairCostAfter    decimal.Decimal
	LockedShares     decimal.Decimal
	ProjectedProfit  decimal.Decimal
	Success          bool
	Error            string
	DryRun           bool
	ExternalRef      string
}

// SymbolPrices is the per-symbol slice of a heartbeat
type SymbolPrices struct {
	UpMid    decimal.Decimal `json:"up_mid"`
	DownMid  decimal.Decimal `json:"down_mid"`
	PairCost decimal.Decimal `json:"pair_cost"`
	Spot     decimal.Decimal `json:"spot"`
	Origin   string          `json:"origin"`
}

// HeartbeatSnapshot is upserted under a fixed key each write
type HeartbeatSnapshot struct {
	Tick          int64                   `json:"tick"`
	ActiveMarkets int                     `json:"active_markets"`
	Opportunities int                     `json:"opportunities"`
	Balance       decimal.Decimal         `json:"balance"`
	Prices        map[string]SymbolPrices `json:"prices"`
	DryRun        bool                    `json:"dry_run"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// EvalDecision is a near-miss diagnostic row, never read back into trading
type EvalDecision struct {
	Timestamp        time.Time
	ConditionID      string
	Symbol           string
	Reason           string
	LivePairCost     decimal.Decimal
	PositionPairCost decimal.Decimal
	ProjectedCost    decimal.Decimal
	Improvement      decimal.Decimal
	SecondsRemaining float64
	WouldBuySide     Side
	WouldBuyUSD      decimal.Decimal
}

// Fill is what the order executor reports back
type Fill struct {
	Shares      decimal.Decimal
	AvgPrice    decimal.Decimal
	ExternalRef string
}
