package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/web3guy0/combobot/types"
)

// listing builds one Gamma response row for a slug, with outcome labels
// deliberately ordered Down-first to catch positional matching.
func listing(slug string, endDate string) string {
	row := map[string]interface{}{
		"id":           "1",
		"conditionId":  "cond-" + slug,
		"question":     "Up or Down?",
		"slug":         slug,
		"outcomes":     `["Down","Up"]`,
		"clobTokenIds": `["tok-down-` + slug + `","tok-up-` + slug + `"]`,
		"endDate":      endDate,
		"active":       true,
		"closed":       false,
	}
	b, _ := json.Marshal([]interface{}{row})
	return string(b)
}

func gammaServer(t *testing.T, listed map[string]string, fail map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		if fail[slug] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := listed[slug]
		if !ok {
			w.Write([]byte("[]"))
			return
		}
		w.Write([]byte(body))
	}))
}

func currentSlug(symbol string) string {
	ts := time.Now().Unix() / windowSeconds * windowSeconds
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), ts)
}

func TestDiscoverMatchesOutcomeLabels(t *testing.T) {
	slug := currentSlug("BTC")
	endDate := time.Now().Add(10 * time.Minute).Format(time.RFC3339)
	srv := gammaServer(t, map[string]string{slug: listing(slug, endDate)}, nil)
	defer srv.Close()

	r := NewRegistry(srv.URL, []string{"BTC"})
	active := r.Discover(context.Background())

	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	m := active[0]
	if m.Symbol != "BTC" {
		t.Errorf("Symbol = %s, want BTC", m.Symbol)
	}
	// Down listed first: token ids must follow labels, not positions
	if m.UpTokenID != "tok-up-"+slug {
		t.Errorf("UpTokenID = %s, want tok-up-%s", m.UpTokenID, slug)
	}
	if m.DownTokenID != "tok-down-"+slug {
		t.Errorf("DownTokenID = %s, want tok-down-%s", m.DownTokenID, slug)
	}
	if !m.ExpiryKnown {
		t.Error("endDate present, expected ExpiryKnown")
	}
}

func TestDiscoverProbesAdjacentWindow(t *testing.T) {
	// Only the next window is listed; the current slug returns empty
	ts := time.Now().Unix()/windowSeconds*windowSeconds + windowSeconds
	slug := fmt.Sprintf("eth-updown-15m-%d", ts)
	endDate := time.Now().Add(25 * time.Minute).Format(time.RFC3339)
	srv := gammaServer(t, map[string]string{slug: listing(slug, endDate)}, nil)
	defer srv.Close()

	r := NewRegistry(srv.URL, []string{"ETH"})
	active := r.Discover(context.Background())

	if len(active) != 1 {
		t.Fatalf("active = %d, want 1 via the adjacent window probe", len(active))
	}
	if active[0].Slug != slug {
		t.Errorf("Slug = %s, want %s", active[0].Slug, slug)
	}
}

func TestDiscoverKeepsPriorOnFailure(t *testing.T) {
	slug := currentSlug("BTC")
	endDate := time.Now().Add(10 * time.Minute).Format(time.RFC3339)

	listed := map[string]string{slug: listing(slug, endDate)}
	fail := map[string]bool{}
	srv := gammaServer(t, listed, fail)
	defer srv.Close()

	r := NewRegistry(srv.URL, []string{"BTC"})
	if got := r.Discover(context.Background()); len(got) != 1 {
		t.Fatalf("initial discovery failed, active = %d", len(got))
	}

	// Every probe now fails; the unexpired prior market must survive
	for _, ts := range []int64{0, windowSeconds, -windowSeconds} {
		base := time.Now().Unix() / windowSeconds * windowSeconds
		fail[fmt.Sprintf("btc-updown-15m-%d", base+ts)] = true
	}
	active := r.Discover(context.Background())
	if len(active) != 1 {
		t.Fatalf("active = %d after transient failure, want prior market kept", len(active))
	}
	if active[0].Slug != slug {
		t.Errorf("Slug = %s, want prior %s", active[0].Slug, slug)
	}
}

func TestDiscoverDropsExpired(t *testing.T) {
	slug := currentSlug("BTC")
	endDate := time.Now().Add(-time.Minute).Format(time.RFC3339)
	srv := gammaServer(t, map[string]string{slug: listing(slug, endDate)}, nil)
	defer srv.Close()

	r := NewRegistry(srv.URL, []string{"BTC"})
	if got := r.Discover(context.Background()); len(got) != 0 {
		t.Errorf("expired listing resolved, active = %d", len(got))
	}
}

func TestParseListingRejectsBrokenRows(t *testing.T) {
	base := gammaMarket{
		ConditionID:  "cond-1",
		Slug:         "btc-updown-15m-0",
		Outcomes:     `["Up","Down"]`,
		ClobTokenIDs: `["tok-up","tok-down"]`,
		Active:       true,
	}

	closed := base
	closed.Closed = true
	if _, err := parseListing(closed); err == nil {
		t.Error("closed market should be rejected")
	}

	mismatch := base
	mismatch.ClobTokenIDs = `["tok-up"]`
	if _, err := parseListing(mismatch); err == nil {
		t.Error("outcome/token count mismatch should be rejected")
	}

	m, err := parseListing(base)
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if m.ExpiryKnown {
		t.Error("no endDate, ExpiryKnown should be false")
	}
	if err := validateMarket(m, time.Now()); err != nil {
		t.Errorf("validateMarket: %v", err)
	}

	dupe := *m
	dupe.DownTokenID = dupe.UpTokenID
	if err := validateMarket(&dupe, time.Now()); err == nil {
		t.Error("identical token ids should be rejected")
	}
}

func TestSecondsRemainingSentinel(t *testing.T) {
	m := types.Market{ExpiryKnown: false}
	if got := m.SecondsRemaining(time.Now()); got != 999 {
		t.Errorf("unknown expiry SecondsRemaining = %v, want 999", got)
	}
	if m.IsExpired(time.Now()) {
		t.Error("unknown expiry can never be expired")
	}
}
