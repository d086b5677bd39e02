package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLL FETCHER - Request/response top-of-book fallback
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fans out one book request per token with a bounded worker pool and a
// short per-request timeout. Failed tokens are simply absent from the
// result; a poll round never fails as a whole.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	pollConcurrency  = 8
	pollFetchTimeout = 1500 * time.Millisecond
)

// PollFetcher fetches books over the CLOB REST API
type PollFetcher struct {
	baseURL    string
	httpClient *http.Client
	cache      *PriceCache
}

// NewPollFetcher creates a fetcher writing results into cache
func NewPollFetcher(baseURL string, cache *PriceCache) *PollFetcher {
	return &PollFetcher{
		baseURL:    baseURL,
		cache:      cache,
		httpClient: &http.Client{Timeout: pollFetchTimeout},
	}
}

// FetchAll fetches top-of-book for every token concurrently. Tokens whose
// fetch fails or times out are missing from the returned map.
func (f *PollFetcher) FetchAll(ctx context.Context, tokenIDs []string) map[string]types.PricePoint {
	results := make(map[string]types.PricePoint, len(tokenIDs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)

	for _, tokenID := range tokenIDs {
		tokenID := tokenID
		g.Go(func() error {
			point, err := f.fetchBook(ctx, tokenID)
			if err != nil {
				log.Debug().Err(err).Str("token", shortToken(tokenID)).Msg("Book fetch failed")
				return nil // partial failure tolerated
			}

			f.cache.Put(tokenID, point.BestBid, point.BestAsk, types.OriginPoll)

			mu.Lock()
			results[tokenID] = point
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

// fetchBook requests one token's book and extracts top of book
func (f *PollFetcher) fetchBook(ctx context.Context, tokenID string) (types.PricePoint, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pollFetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/book?token_id=%s", f.baseURL, tokenID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return types.PricePoint{}, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return types.PricePoint{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PricePoint{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PricePoint{}, err
	}

	var book struct {
		Bids []priceLevel `json:"bids"`
		Asks []priceLevel `json:"asks"`
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return types.PricePoint{}, fmt.Errorf("parse book: %w", err)
	}

	bid := bestOf(book.Bids, true)
	ask := bestOf(book.Asks, false)
	if bid.IsZero() && ask.IsZero() {
		return types.PricePoint{}, fmt.Errorf("empty book")
	}

	return types.PricePoint{
		TokenID:   tokenID,
		BestBid:   bid,
		BestAsk:   ask,
		Origin:    types.OriginPoll,
		Timestamp: time.Now(),
	}, nil
}

// shortToken trims long token ids for log lines
func shortToken(tokenID string) string {
	if len(tokenID) <= 16 {
		return tokenID
	}
	return tokenID[:16] + "..."
}
