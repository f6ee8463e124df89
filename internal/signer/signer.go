// Package signer constructs and signs raw blockchain transactions for the
// hot wallets. Key material is injected once at startup; a currency whose hot
// wallet was not configured fails closed rather than falling back to any kind
// of simulated signing.
package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

var (
	// ErrNotConfigured indicates the hot wallet for the requested currency
	// was not loaded at startup.
	ErrNotConfigured = errors.New("hot wallet is not configured for this currency")

	// ErrTronUnsupported is the typed not-implemented result for TRC-20
	// withdrawals. Tron signing is deliberately absent, not simulated.
	ErrTronUnsupported = errors.New("TRC-20 signing is not implemented")

	// ErrInsufficientUTXO indicates the hot wallet's unspent outputs cannot
	// cover the requested amount plus the network fee.
	ErrInsufficientUTXO = errors.New("insufficient UTXO funds in hot wallet")
)

// SignedTransaction is the common result shape of all signing paths.
type SignedTransaction struct {
	RawHex string
	TxID   string

	// VirtualSize is set for Bitcoin transactions (vbytes).
	VirtualSize int

	// GasLimit is set for Ethereum-family transactions.
	GasLimit uint64

	// Fee is the network fee actually paid, denominated in the chain's
	// native unit (BTC or ETH).
	Fee decimal.Decimal
}

// KeyMaterial is the hot-wallet signing configuration, constructed once at
// startup and passed in explicitly. An empty field leaves the corresponding
// signer unconfigured.
type KeyMaterial struct {
	BitcoinWIF            string
	EthereumPrivateKeyHex string
}

// BitcoinParams carries the chain-specific inputs for a BTC signing request.
type BitcoinParams struct {
	UTXOs   []UTXO
	FeeRate int64 // satoshis per vbyte
}

// EthereumParams carries the chain-specific inputs for ETH and ERC-20
// signing requests. The nonce must come from the serialized allocator;
// reusing a stale nonce invalidates the transaction.
type EthereumParams struct {
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int // wei
}

// Request describes one transaction to sign.
type Request struct {
	Currency    currency.Currency
	Network     currency.Network
	Destination string
	Amount      decimal.Decimal

	Bitcoin  *BitcoinParams
	Ethereum *EthereumParams
}

// Signer dispatches signing requests to the per-chain implementations.
type Signer struct {
	btc  *BitcoinSigner
	eth  *EthereumSigner
	usdt *TokenSigner
}

// New builds the signer set from the injected key material. Signers are only
// instantiated for currencies whose keys are present.
func New(keys KeyMaterial, btcNetwork string, chainID *big.Int, usdtContract string) (*Signer, error) {
	s := &Signer{}

	if keys.BitcoinWIF != "" {
		btc, err := newBitcoinSigner(keys.BitcoinWIF, btcNetwork)
		if err != nil {
			return nil, fmt.Errorf("load bitcoin hot wallet: %w", err)
		}
		s.btc = btc
	}

	if keys.EthereumPrivateKeyHex != "" {
		eth, err := newEthereumSigner(keys.EthereumPrivateKeyHex, chainID)
		if err != nil {
			return nil, fmt.Errorf("load ethereum hot wallet: %w", err)
		}
		s.eth = eth

		if usdtContract != "" {
			usdt, err := newTokenSigner(eth, usdtContract)
			if err != nil {
				return nil, fmt.Errorf("configure USDT signer: %w", err)
			}
			s.usdt = usdt
		}
	}

	return s, nil
}

// Bitcoin returns the BTC signer, or nil when unconfigured.
func (s *Signer) Bitcoin() *BitcoinSigner { return s.btc }

// Ethereum returns the ETH signer, or nil when unconfigured.
func (s *Signer) Ethereum() *EthereumSigner { return s.eth }

// Sign builds and signs the transaction described by req.
func (s *Signer) Sign(_ context.Context, req Request) (SignedTransaction, error) {
	switch req.Currency {
	case currency.BTC:
		if s.btc == nil {
			return SignedTransaction{}, fmt.Errorf("%w: BTC", ErrNotConfigured)
		}
		if req.Bitcoin == nil {
			return SignedTransaction{}, fmt.Errorf("bitcoin signing parameters are required")
		}
		return s.btc.Sign(req.Destination, req.Amount, req.Bitcoin.UTXOs, req.Bitcoin.FeeRate)

	case currency.ETH:
		if s.eth == nil {
			return SignedTransaction{}, fmt.Errorf("%w: ETH", ErrNotConfigured)
		}
		if req.Ethereum == nil {
			return SignedTransaction{}, fmt.Errorf("ethereum signing parameters are required")
		}
		return s.eth.Sign(req.Destination, req.Amount, *req.Ethereum)

	case currency.USDT:
		if req.Network == currency.NetworkTRC20 {
			return SignedTransaction{}, ErrTronUnsupported
		}
		if s.usdt == nil {
			return SignedTransaction{}, fmt.Errorf("%w: USDT", ErrNotConfigured)
		}
		if req.Ethereum == nil {
			return SignedTransaction{}, fmt.Errorf("ethereum signing parameters are required")
		}
		return s.usdt.Sign(req.Destination, req.Amount, *req.Ethereum)

	default:
		return SignedTransaction{}, currency.ErrNotSupported{Code: string(req.Currency)}
	}
}
