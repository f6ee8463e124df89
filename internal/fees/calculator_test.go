package fees

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

func testRates() map[currency.Currency]decimal.Decimal {
	return map[currency.Currency]decimal.Decimal{
		currency.BTC:  decimal.NewFromInt(60_000),
		currency.ETH:  decimal.NewFromInt(3_000),
		currency.USDT: decimal.NewFromInt(1),
	}
}

func TestWithdrawalFeesBTC(t *testing.T) {
	calc := NewCalculator(nil, testRates())

	quote, err := calc.WithdrawalFees(context.Background(), currency.BTC, decimal.RequireFromString("0.5"), "")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.PlatformFee.Equal(decimal.RequireFromString("0.0005")) {
		t.Fatalf("platform fee = %s", quote.PlatformFee)
	}
	if !quote.TotalAmount.Equal(decimal.RequireFromString("0.5006")) {
		t.Fatalf("total = %s, want 0.5006", quote.TotalAmount)
	}
}

func TestWithdrawalFeesUnsupportedCurrency(t *testing.T) {
	calc := NewCalculator(nil, testRates())

	if _, err := calc.WithdrawalFees(context.Background(), currency.TRY, decimal.NewFromInt(100), ""); err == nil {
		t.Fatal("expected TRY withdrawal quote to fail")
	}
}

func TestRequiresAdminApproval(t *testing.T) {
	calc := NewCalculator(nil, testRates())

	// 0.1 BTC at $60,000 = $6,000 notional.
	if calc.RequiresAdminApproval(currency.BTC, decimal.RequireFromString("0.1")) {
		t.Fatal("$6,000 should not require approval")
	}
	// 0.2 BTC = $12,000 notional.
	if !calc.RequiresAdminApproval(currency.BTC, decimal.RequireFromString("0.2")) {
		t.Fatal("$12,000 should require approval")
	}
	// Exactly at the threshold requires approval.
	if !calc.RequiresAdminApproval(currency.USDT, decimal.NewFromInt(10_000)) {
		t.Fatal("threshold boundary should require approval")
	}
}

func TestUnknownRateIsConservative(t *testing.T) {
	calc := NewCalculator(nil, nil)

	if !calc.RequiresAdminApproval(currency.BTC, decimal.RequireFromString("0.001")) {
		t.Fatal("unknown USD rate must force admin approval")
	}
}
