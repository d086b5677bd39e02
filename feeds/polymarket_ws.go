package feeds

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PUSH LISTENER - Polymarket market-channel WebSocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns the streaming connection life cycle:
//   Connecting → Subscribed → Streaming → (Closed|Failed) → Backoff → Connecting
//
// Decodes book and price_change events into the Price Cache with the push
// origin tag. Reconnects with exponential backoff plus jitter. Token-set
// changes from discovery trigger a live resubscribe, not a restart.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	backoffBase = 2 * time.Second
	backoffCap  = 60 * time.Second
	pingEvery   = 30 * time.Second
)

// Connection states, for logs and the Status accessor
const (
	StateConnecting = "connecting"
	StateSubscribed = "subscribed"
	StateStreaming  = "streaming"
	StateClosed     = "closed"
	StateFailed     = "failed"
	StateBackoff    = "backoff"
)

// PushListener maintains the realtime subscription and feeds the cache
type PushListener struct {
	mu sync.RWMutex

	wsURL   string
	cache   *PriceCache
	conn    *websocket.Conn
	state   string
	running bool
	stopCh  chan struct{}

	// Current subscription set, sorted for cheap comparison
	tokenIDs []string

	// Reconnect bookkeeping
	attempts int
}

// NewPushListener creates a listener writing into cache
func NewPushListener(wsURL string, cache *PriceCache) *PushListener {
	return &PushListener{
		wsURL:  wsURL,
		cache:  cache,
		state:  StateClosed,
		stopCh: make(chan struct{}),
	}
}

// Start launches the connection loop
func (l *PushListener) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.connectionLoop()
	log.Info().Msg("📡 Push listener started")
}

// Stop closes the connection and halts reconnects
func (l *PushListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}

	l.running = false
	close(l.stopCh)

	if l.conn != nil {
		l.conn.Close()
	}
	l.state = StateClosed

	log.Info().Msg("Push listener stopped")
}

// Status returns the current connection state
func (l *PushListener) Status() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// UpdateSubscriptions swaps the token set, resubscribing on a live
// connection when the set actually changed
func (l *PushListener) UpdateSubscriptions(tokenIDs []string) {
	sorted := append([]string(nil), tokenIDs...)
	sort.Strings(sorted)

	l.mu.Lock()
	if equalStrings(l.tokenIDs, sorted) {
		l.mu.Unlock()
		return
	}
	l.tokenIDs = sorted
	conn := l.conn
	state := l.state
	l.mu.Unlock()

	log.Info().Int("tokens", len(sorted)).Msg("🔄 Subscription set changed")

	if conn != nil && (state == StateSubscribed || state == StateStreaming) {
		if err := l.sendSubscribe(conn, sorted); err != nil {
			log.Warn().Err(err).Msg("Live resubscribe failed, reconnect will pick it up")
			conn.Close()
		}
	}
}

// connectionLoop keeps the subscription alive until Stop
func (l *PushListener) connectionLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		l.mu.RLock()
		tokens := l.tokenIDs
		l.mu.RUnlock()

		if len(tokens) == 0 {
			// Nothing to subscribe to yet, discovery hasn't run
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if err := l.connect(tokens); err != nil {
			l.setState(StateFailed)
			wait := l.nextBackoff()
			log.Warn().Err(err).Dur("backoff", wait).Msg("WS connect failed")
			l.setState(StateBackoff)
			if !l.sleep(wait) {
				return
			}
			continue
		}

		// Blocks until the connection drops
		l.readLoop()

		l.setState(StateClosed)
		wait := l.nextBackoff()
		log.Warn().Dur("backoff", wait).Msg("WS connection lost")
		l.setState(StateBackoff)
		if !l.sleep(wait) {
			return
		}
	}
}

// connect dials and subscribes
func (l *PushListener) connect(tokens []string) error {
	l.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.Dial(l.wsURL, nil)
	if err != nil {
		return err
	}

	if err := l.sendSubscribe(conn, tokens); err != nil {
		conn.Close()
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.state = StateSubscribed
	l.attempts = 0
	l.mu.Unlock()

	log.Info().Int("tokens", len(tokens)).Msg("🔌 WS subscribed")

	go l.pingLoop(conn)
	return nil
}

// sendSubscribe writes the market-channel subscription payload
func (l *PushListener) sendSubscribe(conn *websocket.Conn, tokens []string) error {
	msg := map[string]interface{}{
		"assets_ids": tokens,
		"type":       "market",
	}
	return conn.WriteJSON(msg)
}

// nextBackoff returns the next reconnect delay: 2s doubling, capped at
// 60s, with up to 20% random jitter on top
func (l *PushListener) nextBackoff() time.Duration {
	l.mu.Lock()
	l.attempts++
	attempts := l.attempts
	l.mu.Unlock()

	wait := backoffBase
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= backoffCap {
			wait = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(wait))
	return wait + jitter
}

// sleep waits for d unless Stop fires first
func (l *PushListener) sleep(d time.Duration) bool {
	select {
	case <-l.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (l *PushListener) setState(state string) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

// pingLoop keeps the connection alive with the venue's text ping
func (l *PushListener) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.RLock()
			current := l.conn
			l.mu.RUnlock()
			if current != conn {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

// readLoop consumes messages until the connection drops
func (l *PushListener) readLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("WS read error")
			l.mu.Lock()
			if l.conn == conn {
				l.conn = nil
			}
			l.mu.Unlock()
			conn.Close()
			return
		}

		if string(message) == "PONG" {
			continue
		}

		l.processMessage(message)
		l.setState(StateStreaming)
	}
}

// bookEvent is a venue market-channel message. Book snapshots carry the
// full ladders; price_change events carry deltas.
type bookEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Changes   []bookChange `json:"changes"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

// processMessage handles one frame: either an event object or an array
// envelope of events
func (l *PushListener) processMessage(data []byte) {
	var events []bookEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single bookEvent
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		events = []bookEvent{single}
	}

	for _, ev := range events {
		switch ev.EventType {
		case "book":
			l.handleBook(ev)
		case "price_change":
			l.handlePriceChange(ev)
		}
	}
}

// handleBook derives top-of-book from a full snapshot
func (l *PushListener) handleBook(ev bookEvent) {
	if ev.AssetID == "" {
		return
	}

	bid := bestOf(ev.Bids, true)
	ask := bestOf(ev.Asks, false)
	if bid.IsZero() && ask.IsZero() {
		return
	}

	l.cache.Put(ev.AssetID, bid, ask, types.OriginPush)
}

// handlePriceChange nudges the cached top of book from delta events.
// Only improvements move the cached best; level removals wait for the
// next full book snapshot.
func (l *PushListener) handlePriceChange(ev bookEvent) {
	if ev.AssetID == "" || len(ev.Changes) == 0 {
		return
	}

	prev, ok := l.cache.Get(ev.AssetID)
	if !ok {
		return
	}

	bid, ask := prev.BestBid, prev.BestAsk
	for _, ch := range ev.Changes {
		price, err := decimal.NewFromString(ch.Price)
		if err != nil || price.IsZero() {
			continue
		}
		size, _ := decimal.NewFromString(ch.Size)
		if size.IsZero() {
			continue
		}
		switch ch.Side {
		case "BUY":
			if price.GreaterThan(bid) {
				bid = price
			}
		case "SELL":
			if ask.IsZero() || price.LessThan(ask) {
				ask = price
			}
		}
	}

	l.cache.Put(ev.AssetID, bid, ask, types.OriginPush)
}

// bestOf returns the highest bid or lowest ask across a ladder
func bestOf(levels []priceLevel, highest bool) decimal.Decimal {
	best := decimal.Zero
	for _, lv := range levels {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil || price.IsZero() {
			continue
		}
		size, _ := decimal.NewFromString(lv.Size)
		if size.IsZero() {
			continue
		}
		if best.IsZero() || (highest && price.GreaterThan(best)) || (!highest && price.LessThan(best)) {
			best = price
		}
	}
	return best
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
