// Package fees computes withdrawal fee quotes and decides when a withdrawal
// crosses the admin-approval threshold. Quotes are computed fresh on every
// request; network fees are time-sensitive and must not be cached.
package fees

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

// Quote is a withdrawal fee breakdown. TotalAmount is the figure locked in
// the user's wallet: amount + network fee + platform fee.
type Quote struct {
	NetworkFee  decimal.Decimal
	PlatformFee decimal.Decimal
	TotalAmount decimal.Decimal
}

// NetworkFeeSource supplies the current network fee estimate, denominated in
// the withdrawal currency.
type NetworkFeeSource interface {
	NetworkFee(ctx context.Context, cur currency.Currency, network currency.Network) (decimal.Decimal, error)
}

// StaticFeeSource returns fixed network fee estimates; used when no live fee
// oracle is configured.
type StaticFeeSource struct{}

// NetworkFee returns the static estimate for the currency.
func (StaticFeeSource) NetworkFee(_ context.Context, cur currency.Currency, _ currency.Network) (decimal.Decimal, error) {
	switch cur {
	case currency.BTC:
		return decimal.RequireFromString("0.0001"), nil
	case currency.ETH:
		return decimal.RequireFromString("0.00042"), nil
	case currency.USDT:
		return decimal.RequireFromString("5"), nil
	default:
		return decimal.Zero, currency.ErrNotSupported{Code: string(cur)}
	}
}

var platformFees = map[currency.Currency]decimal.Decimal{
	currency.BTC:  decimal.RequireFromString("0.0005"),
	currency.ETH:  decimal.RequireFromString("0.005"),
	currency.USDT: decimal.RequireFromString("1"),
}

// DefaultApprovalThresholdUSD is the notional value above which a withdrawal
// requires manual admin sign-off.
var DefaultApprovalThresholdUSD = decimal.NewFromInt(10_000)

// Calculator produces withdrawal fee quotes. It has no side effects and no
// per-request state beyond the injected fee source.
type Calculator struct {
	source       NetworkFeeSource
	usdRates     map[currency.Currency]decimal.Decimal
	thresholdUSD decimal.Decimal
}

// NewCalculator builds a calculator. usdRates converts withdrawal amounts to
// USD notional for the approval-threshold decision.
func NewCalculator(source NetworkFeeSource, usdRates map[currency.Currency]decimal.Decimal) *Calculator {
	if source == nil {
		source = StaticFeeSource{}
	}
	return &Calculator{source: source, usdRates: usdRates, thresholdUSD: DefaultApprovalThresholdUSD}
}

// WithdrawalFees returns the fee quote for withdrawing amount of cur.
func (c *Calculator) WithdrawalFees(ctx context.Context, cur currency.Currency, amount decimal.Decimal, network currency.Network) (Quote, error) {
	platform, ok := platformFees[cur]
	if !ok {
		return Quote{}, fmt.Errorf("no withdrawal fee schedule for %s", cur)
	}
	networkFee, err := c.source.NetworkFee(ctx, cur, network)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch network fee: %w", err)
	}
	return Quote{
		NetworkFee:  networkFee,
		PlatformFee: platform,
		TotalAmount: amount.Add(networkFee).Add(platform),
	}, nil
}

// RequiresAdminApproval reports whether the withdrawal's USD notional crosses
// the manual-approval threshold. An unknown rate is treated conservatively:
// the withdrawal requires approval.
func (c *Calculator) RequiresAdminApproval(cur currency.Currency, amount decimal.Decimal) bool {
	rate, ok := c.usdRates[cur]
	if !ok {
		return true
	}
	return amount.Mul(rate).GreaterThanOrEqual(c.thresholdUSD)
}
