package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE REFERENCE FEED - External spot prices
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reference spot prices ride along in the heartbeat payload so the
// monitoring side can sanity-check the venue's pricing. Never consulted
// by the evaluator.
//
// ═══════════════════════════════════════════════════════════════════════════════

const binanceAPIURL = "https://api.binance.com/api/v3/ticker/price"

// BinanceFeed serves TTL-cached spot prices per symbol
type BinanceFeed struct {
	httpClient *http.Client
	spots      map[string]*TTLValue[decimal.Decimal] // "BTC" -> cached spot
}

// NewBinanceFeed creates a feed for the given symbols
func NewBinanceFeed(symbols []string, ttl time.Duration) *BinanceFeed {
	f := &BinanceFeed{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		spots:      make(map[string]*TTLValue[decimal.Decimal]),
	}
	for _, sym := range symbols {
		sym := sym
		f.spots[sym] = NewTTLValue(ttl, func() (decimal.Decimal, error) {
			return f.fetchSpot(sym + "USDT")
		})
	}
	return f
}

// GetSpot returns the cached spot price for a symbol, zero when the
// symbol is unknown or was never fetched successfully
func (f *BinanceFeed) GetSpot(symbol string) decimal.Decimal {
	cached, ok := f.spots[symbol]
	if !ok {
		return decimal.Zero
	}
	price, err := cached.Get()
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Spot fetch failed")
		return decimal.Zero
	}
	return price
}

// fetchSpot queries the ticker endpoint for one pair
func (f *BinanceFeed) fetchSpot(pair string) (decimal.Decimal, error) {
	resp, err := f.httpClient.Get(fmt.Sprintf("%s?symbol=%s", binanceAPIURL, pair))
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", ticker.Price, err)
	}
	return price, nil
}
