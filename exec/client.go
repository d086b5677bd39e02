package exec

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER CLIENT - Polymarket CLOB market buys
// ═══════════════════════════════════════════════════════════════════════════════
//
// Crosses the best ask with a small slippage allowance and polls the
// order for its matched size. Rate-limit responses surface as
// ErrRateLimited so the gate can extend its cooldown.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrRateLimited marks a venue rate-limit rejection
var ErrRateLimited = errors.New("venue rate limited")

var maxOrderPrice = decimal.NewFromFloat(0.99)

const (
	fillPollAttempts = 5
	fillPollInterval = 300 * time.Millisecond
)

// ClientConfig carries credentials and order shaping
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	Passphrase        string
	PrivateKeyHex     string
	SlippageAllowance decimal.Decimal
	DryRun            bool
}

// Client places orders against the CLOB REST API
type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	apiKey     string
	apiSecret  string
	passphrase string
	slippage   decimal.Decimal
	dryRun     bool
	httpClient *http.Client
}

// NewClient creates an order client
func NewClient(cfg ClientConfig) (*Client, error) {
	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		slippage:   cfg.SlippageAllowance,
		dryRun:     cfg.DryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		client.privateKey = pk
		client.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("mode", mode).
		Str("address", client.address).
		Msg("🚀 Order client initialized")

	return client, nil
}

// IsDryRun returns true if order placement is simulated
func (c *Client) IsDryRun() bool {
	return c.dryRun
}

// Address returns the signing address, empty without a key
func (c *Client) Address() string {
	return c.address
}

// PlaceMarketBuy crosses the best ask for usd worth of tokenID. The
// limit is the ask plus the slippage allowance, capped at 99¢.
func (c *Client) PlaceMarketBuy(ctx context.Context, tokenID string, bestAsk, usd decimal.Decimal) (types.Fill, error) {
	limit := decimal.Min(bestAsk.Add(c.slippage), maxOrderPrice)
	shares := usd.Div(limit).Round(2)

	if c.dryRun {
		ref := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("ref", ref).
			Str("token", shortToken(tokenID)).
			Str("limit", limit.StringFixed(3)).
			Str("usd", usd.StringFixed(2)).
			Msg("📝 DRY RUN: market buy would be placed")
		return types.Fill{Shares: shares, AvgPrice: bestAsk, ExternalRef: ref}, nil
	}

	order := map[string]interface{}{
		"tokenID":    tokenID,
		"price":      limit.String(),
		"size":       shares.String(),
		"side":       "BUY",
		"orderType":  "FOK",
		"nonce":      time.Now().UnixNano(),
		"feeRateBps": "0",
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return types.Fill{}, fmt.Errorf("signing failed: %w", err)
	}
	order["signature"] = signature

	resp, err := c.post(ctx, "/order", order)
	if err != nil {
		return types.Fill{}, err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.Fill{}, fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return types.Fill{}, fmt.Errorf("API error: %s", result.Error)
	}

	fill, err := c.awaitFill(ctx, result.OrderID)
	if err != nil {
		return types.Fill{}, err
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("shares", fill.Shares.StringFixed(2)).
		Str("avg_price", fill.AvgPrice.StringFixed(3)).
		Msg("✅ Market buy filled")

	return fill, nil
}

// awaitFill polls the order until a matched size shows up or attempts
// run out. A zero-share fill is not an error; the gate treats it as a
// ledger no-op.
func (c *Client) awaitFill(ctx context.Context, orderID string) (types.Fill, error) {
	fill := types.Fill{ExternalRef: orderID}

	for i := 0; i < fillPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return fill, ctx.Err()
		case <-time.After(fillPollInterval):
		}

		resp, err := c.get(ctx, "/order/"+orderID)
		if err != nil {
			continue
		}

		var order struct {
			SizeMatched decimal.Decimal `json:"size_matched"`
			Price       decimal.Decimal `json:"price"`
			Status      string          `json:"status"`
		}
		if err := json.Unmarshal(resp, &order); err != nil {
			continue
		}

		if order.SizeMatched.IsPositive() {
			fill.Shares = order.SizeMatched
			fill.AvgPrice = order.Price
			return fill, nil
		}
		if order.Status == "canceled" || order.Status == "expired" {
			return fill, nil
		}
	}
	return fill, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(body))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}

	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	hash := crypto.Keccak256([]byte(message + c.apiSecret))
	return hexutil.Encode(hash)
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 16 {
		return tokenID
	}
	return tokenID[:16] + "..."
}
