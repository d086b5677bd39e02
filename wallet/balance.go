package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BALANCE SOURCE - On-chain USDC balance on Polygon
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads balanceOf(wallet) on the USDC contract. Failures are non-fatal;
// the engine keeps trading on its last cached balance.
//
// ═══════════════════════════════════════════════════════════════════════════════

// USDC uses 6 decimals
const usdcDecimals = 6

const erc20ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// BalanceSource reads the wallet's USDC balance over JSON-RPC
type BalanceSource struct {
	client *ethclient.Client
	token  common.Address
	holder common.Address
	parsed abi.ABI
}

// NewBalanceSource dials the RPC endpoint and derives the holder address
// from the signing key
func NewBalanceSource(rpcURL, tokenContract, privateKeyHex string) (*BalanceSource, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("no private key to derive wallet address from")
	}

	pk, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	holder := crypto.PubkeyToAddress(pk.PublicKey)
	log.Info().
		Str("wallet", holder.Hex()).
		Str("network", "Polygon").
		Msg("⛓️ Balance source connected")

	return &BalanceSource{
		client: client,
		token:  common.HexToAddress(tokenContract),
		holder: holder,
		parsed: parsed,
	}, nil
}

// GetAvailableBalance returns the current USDC balance
func (s *BalanceSource) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	data, err := s.parsed.Pack("balanceOf", s.holder)
	if err != nil {
		return decimal.Zero, err
	}

	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf call: %w", err)
	}

	out, err := s.parsed.Unpack("balanceOf", raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("empty balanceOf response")
	}

	amount, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected balanceOf type %T", out[0])
	}

	return decimal.NewFromBigInt(amount, -usdcDecimals), nil
}

// Close releases the RPC connection
func (s *BalanceSource) Close() {
	s.client.Close()
}
