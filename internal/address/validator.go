// Package address validates and normalizes destination addresses for the
// supported withdrawal assets. Validation never panics and never returns a Go
// error for malformed input; every outcome is reported through Result.
package address

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kasa-exchange/kasa/internal/currency"
)

// Format tags the recognized address encoding.
type Format string

const (
	FormatP2PKH     Format = "P2PKH"
	FormatP2SH      Format = "P2SH"
	FormatP2WPKH    Format = "P2WPKH"
	FormatEthereum  Format = "ETH"
	FormatUSDTERC20 Format = "USDT-ERC20"
	FormatUSDTTRC20 Format = "USDT-TRC20"
)

// Result is the outcome of validating one address.
type Result struct {
	Valid      bool
	Normalized string
	Format     Format
	Errors     []string
}

func invalid(format Format, reasons ...string) Result {
	return Result{Valid: false, Format: format, Errors: reasons}
}

// Validator checks destination addresses against the configured networks.
type Validator struct {
	btcParams *chaincfg.Params
}

// NewValidator builds a validator for the given Bitcoin network
// ("mainnet" or "testnet").
func NewValidator(btcNetwork string) (*Validator, error) {
	switch btcNetwork {
	case "mainnet":
		return &Validator{btcParams: &chaincfg.MainNetParams}, nil
	case "testnet":
		return &Validator{btcParams: &chaincfg.TestNet3Params}, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", btcNetwork)
	}
}

// Validate dispatches to the per-currency validation path. The network
// parameter matters only for USDT (ERC20 vs TRC20).
func (v *Validator) Validate(cur currency.Currency, addr string, network currency.Network) Result {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return invalid("", "address must be a non-empty string")
	}

	switch cur {
	case currency.BTC:
		return v.validateBitcoin(trimmed)
	case currency.ETH:
		return validateEthereum(trimmed, FormatEthereum)
	case currency.USDT:
		if network == currency.NetworkTRC20 {
			return validateTron(trimmed)
		}
		return validateEthereum(trimmed, FormatUSDTERC20)
	default:
		return invalid("", fmt.Sprintf("currency %s has no address format", cur))
	}
}

func (v *Validator) validateBitcoin(addr string) Result {
	decoded, err := btcutil.DecodeAddress(addr, v.btcParams)
	if err != nil {
		return invalid("", fmt.Sprintf("invalid bitcoin address: %v", err))
	}
	if !decoded.IsForNet(v.btcParams) {
		return invalid("", fmt.Sprintf("address is not valid for the %s network", v.btcParams.Name))
	}

	var format Format
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		format = FormatP2PKH
	case *btcutil.AddressScriptHash:
		format = FormatP2SH
	case *btcutil.AddressWitnessPubKeyHash:
		format = FormatP2WPKH
	default:
		return invalid("", "unsupported bitcoin address type")
	}

	return Result{Valid: true, Normalized: decoded.EncodeAddress(), Format: format}
}

// validateEthereum checks basic hex shape and recomputes the EIP-55 checksum.
// All-lowercase (or all-uppercase) input is accepted and normalized to the
// checksummed form; mixed-case input must already carry a correct checksum.
func validateEthereum(addr string, format Format) Result {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return invalid(format, "ethereum address must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return invalid(format, "ethereum address must be 40 hexadecimal characters")
	}

	normalized := common.HexToAddress(addr).Hex()

	hexPart := addr[2:]
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		// Mixed case claims a checksum; it must match exactly.
		if addr != normalized {
			return invalid(format, "ethereum address checksum mismatch")
		}
	}

	return Result{Valid: true, Normalized: normalized, Format: format}
}

// validateTron performs structural validation only: prefix, length and
// Base58 alphabet. Checksum verification for Tron addresses is deliberately
// not implemented; TRC-20 withdrawals are rejected downstream.
func validateTron(addr string) Result {
	if !strings.HasPrefix(addr, "T") {
		return invalid(FormatUSDTTRC20, "tron address must start with T")
	}
	if len(addr) != 34 {
		return invalid(FormatUSDTTRC20, "tron address must be exactly 34 characters")
	}
	if len(base58.Decode(addr)) == 0 {
		return invalid(FormatUSDTTRC20, "tron address contains characters outside the base58 alphabet")
	}
	return Result{Valid: true, Normalized: addr, Format: FormatUSDTTRC20}
}
