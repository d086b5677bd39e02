package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET REGISTRY - Slug-based discovery of active up/down windows
// ═══════════════════════════════════════════════════════════════════════════════
//
// The venue lists one 15-minute window per symbol under a deterministic
// slug: {coin}-updown-15m-{unix}, where unix is the window start aligned
// to 900s. Discovery probes the current, next and previous window so a
// freshly rolled window is found without waiting a full cadence.
//
// Partial failure keeps the prior market for that symbol. Fewer active
// markets than tracked symbols is a health warning, never fatal.
//
// ═══════════════════════════════════════════════════════════════════════════════

const windowSeconds = 900

// Registry resolves and tracks the active market per symbol
type Registry struct {
	gammaURL   string
	symbols    []string
	httpClient *http.Client

	// Active market per symbol, only touched from the tick loop
	active map[string]*types.Market
}

// NewRegistry creates a registry for the tracked symbols
func NewRegistry(gammaURL string, symbols []string) *Registry {
	return &Registry{
		gammaURL:   gammaURL,
		symbols:    symbols,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		active:     make(map[string]*types.Market),
	}
}

// Discover refreshes the active set. Returns the markets now active,
// sorted by symbol for stable iteration order.
func (r *Registry) Discover(ctx context.Context) []types.Market {
	now := time.Now()
	activeCount := 0

	for _, symbol := range r.symbols {
		market, err := r.resolveSymbol(ctx, symbol, now)
		if err != nil {
			prior := r.active[symbol]
			if prior != nil && !prior.IsExpired(now) {
				log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Discovery failed, keeping prior market")
				activeCount++
			} else {
				log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Discovery failed, no active market")
				delete(r.active, symbol)
			}
			continue
		}

		prior := r.active[symbol]
		if prior == nil || prior.ConditionID != market.ConditionID {
			log.Info().
				Str("symbol", symbol).
				Str("slug", market.Slug).
				Time("expiry", market.Expiry).
				Msg("🎯 Active market resolved")
		}
		r.active[symbol] = market
		activeCount++
	}

	// Drop expired leftovers
	for symbol, m := range r.active {
		if m.IsExpired(now) {
			delete(r.active, symbol)
			activeCount--
		}
	}

	if activeCount < len(r.symbols) {
		log.Warn().
			Int("active", activeCount).
			Int("expected", len(r.symbols)).
			Msg("⚠️ MARKET_HEALTH: fewer active markets than tracked symbols")
	}

	return r.Active()
}

// Active returns the current active set sorted by symbol
func (r *Registry) Active() []types.Market {
	out := make([]types.Market, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// resolveSymbol probes the current and adjacent window slugs
func (r *Registry) resolveSymbol(ctx context.Context, symbol string, now time.Time) (*types.Market, error) {
	windowStart := now.Unix() / windowSeconds * windowSeconds

	var lastErr error
	for _, ts := range []int64{windowStart, windowStart + windowSeconds, windowStart - windowSeconds} {
		slug := fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), ts)
		market, err := r.fetchBySlug(ctx, slug)
		if err != nil {
			lastErr = err
			continue
		}
		if market == nil {
			lastErr = fmt.Errorf("slug %s not listed", slug)
			continue
		}
		market.Symbol = symbol
		if err := validateMarket(market, now); err != nil {
			lastErr = fmt.Errorf("slug %s: %w", slug, err)
			continue
		}
		return market, nil
	}
	return nil, lastErr
}

// gammaMarket is the listing shape we care about. Outcome labels and
// token ids arrive as parallel JSON-encoded string arrays.
type gammaMarket struct {
	ID           string `json:"id"`
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
	EndDate      string `json:"endDate"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
}

// fetchBySlug queries the listing API for one slug
func (r *Registry) fetchBySlug(ctx context.Context, slug string) (*types.Market, error) {
	u := fmt.Sprintf("%s/markets?slug=%s", r.gammaURL, url.QueryEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var listings []gammaMarket
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	if len(listings) == 0 {
		return nil, nil
	}

	return parseListing(listings[0])
}

// parseListing matches outcome labels to token ids. Labels are matched
// by name, never by array position.
func parseListing(g gammaMarket) (*types.Market, error) {
	if !g.Active || g.Closed {
		return nil, fmt.Errorf("market %s not open", g.Slug)
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(g.Outcomes), &outcomes); err != nil {
		return nil, fmt.Errorf("parse outcomes: %w", err)
	}
	var tokenIDs []string
	if err := json.Unmarshal([]byte(g.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("parse token ids: %w", err)
	}
	if len(outcomes) != len(tokenIDs) {
		return nil, fmt.Errorf("outcome/token count mismatch: %d vs %d", len(outcomes), len(tokenIDs))
	}

	m := &types.Market{
		ConditionID:  g.ConditionID,
		Slug:         g.Slug,
		Question:     g.Question,
		Active:       true,
		DiscoveredAt: time.Now(),
	}

	for i, label := range outcomes {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "up":
			m.UpTokenID = tokenIDs[i]
		case "down":
			m.DownTokenID = tokenIDs[i]
		}
	}

	if g.EndDate != "" {
		if expiry, err := time.Parse(time.RFC3339, g.EndDate); err == nil {
			m.Expiry = expiry
			m.ExpiryKnown = true
		}
	}

	return m, nil
}

// validateMarket enforces the structural invariants discovery relies on
func validateMarket(m *types.Market, now time.Time) error {
	if m.ConditionID == "" {
		return fmt.Errorf("missing condition id")
	}
	if m.UpTokenID == "" || m.DownTokenID == "" {
		return fmt.Errorf("missing outcome token ids")
	}
	if m.UpTokenID == m.DownTokenID {
		return fmt.Errorf("identical outcome token ids")
	}
	if m.ExpiryKnown && !m.Expiry.After(now) {
		return fmt.Errorf("already expired")
	}
	return nil
}
