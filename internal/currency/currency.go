package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies an asset supported by the exchange. The set is closed;
// every entry point rejects codes outside it.
type Currency string

const (
	TRY  Currency = "TRY"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
	USDT Currency = "USDT"
)

// Network distinguishes the settlement rail for multi-chain assets (USDT).
type Network string

const (
	NetworkERC20 Network = "ERC20"
	NetworkTRC20 Network = "TRC20"
)

// ErrNotSupported wraps the unsupported-currency failure with the offending code.
type ErrNotSupported struct {
	Code string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("currency %s is not supported", e.Code)
}

var supported = map[Currency]struct{}{
	TRY:  {},
	BTC:  {},
	ETH:  {},
	USDT: {},
}

// Parse normalizes and validates a currency code.
func Parse(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := supported[c]; !ok {
		return "", ErrNotSupported{Code: code}
	}
	return c, nil
}

// All returns the closed set of supported currencies in a stable order.
func All() []Currency {
	return []Currency{TRY, BTC, ETH, USDT}
}

// IsCrypto reports whether the currency settles on a blockchain.
func (c Currency) IsCrypto() bool {
	return c != TRY
}

// Decimals returns the fractional precision used for storage and display:
// 8 digits for crypto assets, 2 for fiat.
func (c Currency) Decimals() int32 {
	if c.IsCrypto() {
		return 8
	}
	return 2
}

// Round truncates an amount to the currency's storage precision.
func (c Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(c.Decimals())
}

// ParseNetwork validates a network tag for a currency. Only USDT is
// multi-chain; for every other currency the network must be empty.
func ParseNetwork(c Currency, network string) (Network, error) {
	tag := Network(strings.ToUpper(strings.TrimSpace(network)))
	if c != USDT {
		if tag != "" {
			return "", fmt.Errorf("network %q is not valid for %s", network, c)
		}
		return "", nil
	}
	switch tag {
	case "", NetworkERC20:
		return NetworkERC20, nil
	case NetworkTRC20:
		return NetworkTRC20, nil
	default:
		return "", fmt.Errorf("network %q is not valid for USDT", network)
	}
}
