package address

import (
	"strings"
	"testing"

	"github.com/kasa-exchange/kasa/internal/currency"
)

func mainnetValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator("mainnet")
	if err != nil {
		t.Fatalf("build validator: %v", err)
	}
	return v
}

func TestBitcoinAddressFormats(t *testing.T) {
	v := mainnetValidator(t)

	cases := []struct {
		addr   string
		format Format
	}{
		{"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", FormatP2PKH},
		{"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", FormatP2SH},
		{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", FormatP2WPKH},
	}
	for _, tc := range cases {
		res := v.Validate(currency.BTC, tc.addr, "")
		if !res.Valid {
			t.Fatalf("%s rejected: %v", tc.addr, res.Errors)
		}
		if res.Format != tc.format {
			t.Fatalf("%s classified as %s, want %s", tc.addr, res.Format, tc.format)
		}
	}
}

func TestBitcoinInvalidAddressNeverPanics(t *testing.T) {
	v := mainnetValidator(t)

	for _, addr := range []string{
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", // corrupted checksum
		"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", // testnet address on mainnet
		"bc1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq",
		"not-an-address",
	} {
		res := v.Validate(currency.BTC, addr, "")
		if res.Valid {
			t.Fatalf("expected %s to be rejected", addr)
		}
		if len(res.Errors) == 0 {
			t.Fatalf("expected a descriptive error for %s", addr)
		}
	}
}

func TestEthereumChecksumRoundTrip(t *testing.T) {
	v := mainnetValidator(t)
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	res := v.Validate(currency.ETH, strings.ToLower(checksummed), "")
	if !res.Valid {
		t.Fatalf("lowercase input rejected: %v", res.Errors)
	}
	if res.Normalized != checksummed {
		t.Fatalf("normalized = %s, want %s", res.Normalized, checksummed)
	}
}

func TestEthereumChecksumMismatch(t *testing.T) {
	v := mainnetValidator(t)

	// One letter's case flipped relative to the valid checksum.
	res := v.Validate(currency.ETH, "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "")
	if res.Valid {
		t.Fatal("expected checksum mismatch to be rejected")
	}
}

func TestEthereumStructuralErrors(t *testing.T) {
	v := mainnetValidator(t)

	for _, addr := range []string{
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", // missing prefix
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA",  // short
		"0xZZZZb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	} {
		if res := v.Validate(currency.ETH, addr, ""); res.Valid {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestUSDTDelegation(t *testing.T) {
	v := mainnetValidator(t)

	res := v.Validate(currency.USDT, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", currency.NetworkERC20)
	if !res.Valid || res.Format != FormatUSDTERC20 {
		t.Fatalf("unexpected result for USDT-ERC20: %+v", res)
	}

	res = v.Validate(currency.USDT, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", currency.NetworkTRC20)
	if !res.Valid || res.Format != FormatUSDTTRC20 {
		t.Fatalf("unexpected result for USDT-TRC20: %+v", res)
	}
}

func TestTronStructuralValidationOnly(t *testing.T) {
	v := mainnetValidator(t)

	for _, addr := range []string{
		"R7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6tT", // wrong prefix
		"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6",  // 33 characters
		"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjL0!t", // outside base58 alphabet
	} {
		if res := v.Validate(currency.USDT, addr, currency.NetworkTRC20); res.Valid {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestEmptyInputRejected(t *testing.T) {
	v := mainnetValidator(t)

	for _, cur := range []currency.Currency{currency.BTC, currency.ETH, currency.USDT} {
		res := v.Validate(cur, "   ", "")
		if res.Valid {
			t.Fatalf("expected empty address to be rejected for %s", cur)
		}
	}
}
