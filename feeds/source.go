package feeds

import (
	"context"
	"time"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE SOURCE - Freshness arbitration between push and poll
// ═══════════════════════════════════════════════════════════════════════════════
//
// Consumers ask for prices and never learn which transport produced them
// beyond the audit tag. Per token: a fresh push sample wins; otherwise the
// poll result from this tick serves; otherwise the token has no price.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PriceSource arbitrates between the push cache and poll rounds
type PriceSource struct {
	cache      *PriceCache
	poller     *PollFetcher
	maxBookAge time.Duration
}

// NewPriceSource wires the cache and poll fetcher together
func NewPriceSource(cache *PriceCache, poller *PollFetcher, maxBookAge time.Duration) *PriceSource {
	return &PriceSource{
		cache:      cache,
		poller:     poller,
		maxBookAge: maxBookAge,
	}
}

// Refresh polls every token whose push sample is stale or missing,
// then returns a fresh sample per token where one exists
func (s *PriceSource) Refresh(ctx context.Context, tokenIDs []string) map[string]types.PricePoint {
	stale := make([]string, 0, len(tokenIDs))
	fresh := make(map[string]types.PricePoint, len(tokenIDs))

	for _, id := range tokenIDs {
		if p, ok := s.cache.GetFresh(id, s.maxBookAge); ok && p.Origin == types.OriginPush {
			fresh[id] = p
			continue
		}
		stale = append(stale, id)
	}

	if len(stale) > 0 {
		for id, p := range s.poller.FetchAll(ctx, stale) {
			fresh[id] = p
		}
	}

	return fresh
}

// Get returns the current usable price for one token, if any
func (s *PriceSource) Get(tokenID string) (types.PricePoint, bool) {
	return s.cache.GetFresh(tokenID, s.maxBookAge)
}

// NewestAge reports the age of the freshest sample across the tokens
func (s *PriceSource) NewestAge(tokenIDs []string) (time.Duration, bool) {
	return s.cache.NewestAge(tokenIDs, time.Now())
}
