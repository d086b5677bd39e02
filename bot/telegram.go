package bot

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Executed trades and engine milestones
// ═══════════════════════════════════════════════════════════════════════════════
//
// Notifications only, no remote control. Sends never block the tick
// loop: messages queue into a buffered channel and drop when full.
//
// ═══════════════════════════════════════════════════════════════════════════════

const sendQueueSize = 64

// Notifier pushes trade alerts to the operator chat. A nil Notifier is
// safe to call and does nothing.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	sendCh chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewNotifier creates a notifier, or nil when the token is not set
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram notifier disabled (no token)")
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	n := &Notifier{
		api:    api,
		chatID: chatID,
		sendCh: make(chan string, sendQueueSize),
		stopCh: make(chan struct{}),
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return n, nil
}

// Start launches the send loop
func (n *Notifier) Start() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.mu.Unlock()

	go n.sendLoop()
}

// Stop halts the send loop
func (n *Notifier) Stop() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}
	n.running = false
	close(n.stopCh)
}

// NotifyTrade reports one executed trade
func (n *Notifier) NotifyTrade(rec types.TradeRecord, lockedProfit decimal.Decimal) {
	if n == nil {
		return
	}

	emoji := "✅"
	title := "TRADE EXECUTED"
	if rec.TradeType == types.TradeSecondLeg {
		emoji = "🔒"
		title = "PAIR COMPLETE"
	}
	if rec.DryRun {
		title += " (PAPER)"
	}

	msg := fmt.Sprintf(`%s *%s*

📊 %s — %s
━━━━━━━━━━━━━━━━
💵 Price: *%s¢*
📦 Size: *$%s* (%s shares)
⚖️ Pair cost: *%s*
💰 Locked profit: *$%s*`,
		emoji, title,
		rec.Symbol, rec.Side,
		rec.Price.Mul(decimal.NewFromInt(100)).StringFixed(1),
		rec.AmountUSD.StringFixed(2),
		rec.Shares.StringFixed(2),
		rec.PairCostAfter.StringFixed(4),
		lockedProfit.StringFixed(2),
	)

	n.enqueue(msg)
}

// NotifyStartup announces the engine coming online
func (n *Notifier) NotifyStartup(mode string, symbols []string, balance decimal.Decimal) {
	if n == nil {
		return
	}

	msg := fmt.Sprintf(`🚀 *COMBOBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
🪙 Symbols: *%s*
💰 Balance: *$%s*

Buying cheap pairs under $1`,
		mode,
		fmt.Sprint(symbols),
		balance.StringFixed(2),
	)

	n.enqueue(msg)
}

// NotifyError reports a noteworthy failure
func (n *Notifier) NotifyError(err error) {
	if n == nil {
		return
	}
	n.enqueue(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

// enqueue drops the message when the queue is full
func (n *Notifier) enqueue(msg string) {
	select {
	case n.sendCh <- msg:
	default:
		log.Debug().Msg("Telegram queue full, message dropped")
	}
}

func (n *Notifier) sendLoop() {
	for {
		select {
		case <-n.stopCh:
			return
		case text := <-n.sendCh:
			msg := tgbotapi.NewMessage(n.chatID, text)
			msg.ParseMode = tgbotapi.ModeMarkdown
			if _, err := n.api.Send(msg); err != nil {
				log.Warn().Err(err).Msg("Telegram send failed")
			}
		}
	}
}
