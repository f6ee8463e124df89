package signer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kasa-exchange/kasa/internal/currency"
)

// ValidateSignature independently decodes a signed transaction and checks it
// parses and, when expectedID is given, matches that id. Used as a sanity
// check before handing the raw bytes to the broadcaster.
func ValidateSignature(cur currency.Currency, rawHex, expectedID string) error {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return fmt.Errorf("signed transaction is not valid hex: %w", err)
	}

	switch cur {
	case currency.BTC:
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("decode bitcoin transaction: %w", err)
		}
		if expectedID != "" && tx.TxHash().String() != expectedID {
			return fmt.Errorf("transaction id mismatch: decoded %s, expected %s", tx.TxHash(), expectedID)
		}
		return nil

	case currency.ETH, currency.USDT:
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("decode ethereum transaction: %w", err)
		}
		if expectedID != "" && !strings.EqualFold(tx.Hash().Hex(), expectedID) {
			return fmt.Errorf("transaction hash mismatch: decoded %s, expected %s", tx.Hash().Hex(), expectedID)
		}
		return nil

	default:
		return currency.ErrNotSupported{Code: string(cur)}
	}
}

// TransactionID decodes a signed transaction and returns its canonical id.
func TransactionID(cur currency.Currency, rawHex string) (string, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("signed transaction is not valid hex: %w", err)
	}

	switch cur {
	case currency.BTC:
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return "", fmt.Errorf("decode bitcoin transaction: %w", err)
		}
		return tx.TxHash().String(), nil

	case currency.ETH, currency.USDT:
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err != nil {
			return "", fmt.Errorf("decode ethereum transaction: %w", err)
		}
		return tx.Hash().Hex(), nil

	default:
		return "", currency.ErrNotSupported{Code: string(cur)}
	}
}
