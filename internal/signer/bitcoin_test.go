package signer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
)

func testWIF(t *testing.T, seed byte) *btcutil.WIF {
	t.Helper()
	keyBytes := bytes.Repeat([]byte{seed}, 32)
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	if err != nil {
		t.Fatalf("build WIF: %v", err)
	}
	return wif
}

func testDestination(t *testing.T) string {
	t.Helper()
	wif := testWIF(t, 0x42)
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("build destination: %v", err)
	}
	return addr.EncodeAddress()
}

func testBitcoinSigner(t *testing.T) *BitcoinSigner {
	t.Helper()
	s, err := newBitcoinSigner(testWIF(t, 0x01).String(), "mainnet")
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	return s
}

const testUTXOID = "aa9d58ae2d4a2b2c0a4a72b7b5b9c00c110e5a3c9e7556cb49b827c015282eb8"

func decodeTx(t *testing.T, rawHex string) *wire.MsgTx {
	t.Helper()
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		t.Fatalf("raw hex invalid: %v", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	return &tx
}

func TestBitcoinSignWithChange(t *testing.T) {
	s := testBitcoinSigner(t)
	utxos := []UTXO{{TxID: testUTXOID, Vout: 0, Value: 200_000}}

	signed, err := s.Sign(testDestination(t), decimal.RequireFromString("0.001"), utxos, 10)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	tx := decodeTx(t, signed.RawHex)
	if len(tx.TxOut) != 2 {
		t.Fatalf("expected destination + change outputs, got %d", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != 100_000 {
		t.Fatalf("destination output = %d sat", tx.TxOut[0].Value)
	}
	if tx.TxHash().String() != signed.TxID {
		t.Fatalf("txid mismatch: %s vs %s", tx.TxHash(), signed.TxID)
	}
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			t.Fatalf("input %d is unsigned", i)
		}
	}
}

func TestBitcoinDustChangeSuppressed(t *testing.T) {
	s := testBitcoinSigner(t)

	// Residual change of 500 sat is below the dust threshold; it must be
	// absorbed into the fee instead of creating an output.
	const amountSats = 100_000
	fee := estimateFee(1, 2, 10)
	utxos := []UTXO{{TxID: testUTXOID, Vout: 1, Value: amountSats + fee + 500}}

	signed, err := s.Sign(testDestination(t), decimal.New(amountSats, -8), utxos, 10)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	tx := decodeTx(t, signed.RawHex)
	if len(tx.TxOut) != 1 {
		t.Fatalf("expected exactly one output, got %d", len(tx.TxOut))
	}
	wantFee := decimal.New(fee+500, -8)
	if !signed.Fee.Equal(wantFee) {
		t.Fatalf("fee = %s, want %s", signed.Fee, wantFee)
	}
}

func TestBitcoinInsufficientFunds(t *testing.T) {
	s := testBitcoinSigner(t)
	utxos := []UTXO{{TxID: testUTXOID, Vout: 0, Value: 50_000}}

	_, err := s.Sign(testDestination(t), decimal.RequireFromString("0.001"), utxos, 10)
	if !errors.Is(err, ErrInsufficientUTXO) {
		t.Fatalf("expected ErrInsufficientUTXO, got %v", err)
	}
}

func TestBitcoinSelectsLargestFirst(t *testing.T) {
	s := testBitcoinSigner(t)
	utxos := []UTXO{
		{TxID: testUTXOID, Vout: 0, Value: 10_000},
		{TxID: testUTXOID, Vout: 1, Value: 500_000},
		{TxID: testUTXOID, Vout: 2, Value: 20_000},
	}

	signed, err := s.Sign(testDestination(t), decimal.RequireFromString("0.001"), utxos, 10)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	tx := decodeTx(t, signed.RawHex)
	if len(tx.TxIn) != 1 {
		t.Fatalf("expected the single large UTXO to suffice, got %d inputs", len(tx.TxIn))
	}
	if tx.TxIn[0].PreviousOutPoint.Index != 1 {
		t.Fatalf("expected vout 1 to be selected, got %d", tx.TxIn[0].PreviousOutPoint.Index)
	}
}

func TestBitcoinRejectsWrongNetworkKey(t *testing.T) {
	if _, err := newBitcoinSigner(testWIF(t, 0x01).String(), "testnet"); err == nil {
		t.Fatal("mainnet WIF must be rejected for testnet")
	}
}
