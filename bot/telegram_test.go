package bot

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

func TestNewNotifierWithoutToken(t *testing.T) {
	n, err := NewNotifier("", 0)
	if err != nil {
		t.Fatalf("missing token should disable, not fail: %v", err)
	}
	if n != nil {
		t.Fatal("expected a nil notifier without a token")
	}
}

// Every method must be a no-op on a nil receiver so call sites never
// need a guard.
func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier

	n.Start()
	n.NotifyTrade(types.TradeRecord{Symbol: "BTC", Side: types.SideUp}, decimal.NewFromFloat(0.45))
	n.NotifyStartup("PAPER", []string{"BTC"}, decimal.NewFromInt(1000))
	n.NotifyError(errors.New("boom"))
	n.Stop()
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	n := &Notifier{
		chatID: 1,
		sendCh: make(chan string, 2),
		stopCh: make(chan struct{}),
	}

	// No send loop running: the third message must drop, not block
	n.enqueue("one")
	n.enqueue("two")
	n.enqueue("three")

	if len(n.sendCh) != 2 {
		t.Errorf("queued = %d, want 2 with the overflow dropped", len(n.sendCh))
	}
}
