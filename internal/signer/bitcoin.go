package signer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
)

// DustThreshold is the minimum change output value in satoshis. Residual
// change below it is left to the miner instead of creating an unspendable
// output.
const DustThreshold = 546

// Legacy P2PKH weight estimates used for fee calculation.
const (
	txOverheadVBytes = 10
	inputVBytes      = 148
	outputVBytes     = 34
)

// UTXO is one unspent output controlled by the hot wallet key.
type UTXO struct {
	TxID  string
	Vout  uint32
	Value int64 // satoshis
}

// BitcoinSigner selects UTXOs, builds and signs Bitcoin transactions spending
// from the P2PKH hot wallet.
type BitcoinSigner struct {
	key      *btcec.PrivateKey
	params   *chaincfg.Params
	address  btcutil.Address
	pkScript []byte
}

func newBitcoinSigner(wifStr, network string) (*BitcoinSigner, error) {
	var params *chaincfg.Params
	switch network {
	case "mainnet":
		params = &chaincfg.MainNetParams
	case "testnet":
		params = &chaincfg.TestNet3Params
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("decode WIF: %w", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("hot wallet key is not for the %s network", params.Name)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), params)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &BitcoinSigner{key: wif.PrivKey, params: params, address: addr, pkScript: pkScript}, nil
}

// Address returns the hot wallet's P2PKH address.
func (s *BitcoinSigner) Address() string {
	return s.address.EncodeAddress()
}

// Sign selects inputs covering amount plus fee, pays amount to dest, returns
// change to the hot wallet when it exceeds the dust threshold, and signs
// every input.
func (s *BitcoinSigner) Sign(dest string, amount decimal.Decimal, utxos []UTXO, feeRate int64) (SignedTransaction, error) {
	if feeRate <= 0 {
		return SignedTransaction{}, fmt.Errorf("fee rate must be positive, got %d", feeRate)
	}
	amountSats := amount.Shift(8).IntPart()
	if amountSats <= 0 {
		return SignedTransaction{}, fmt.Errorf("amount %s is below one satoshi", amount)
	}

	destAddr, err := btcutil.DecodeAddress(dest, s.params)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("decode destination address: %w", err)
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return SignedTransaction{}, err
	}

	selected, totalIn, err := selectUTXOs(utxos, amountSats, feeRate)
	if err != nil {
		return SignedTransaction{}, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range selected {
		prevHash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return SignedTransaction{}, fmt.Errorf("invalid UTXO txid %s: %w", u.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, u.Vout), nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(amountSats, destScript))

	// Fee assuming a change output; if the residual change would be dust the
	// change output is omitted and the residual is absorbed into the fee.
	fee := estimateFee(len(selected), 2, feeRate)
	change := totalIn - amountSats - fee
	if change > DustThreshold {
		tx.AddTxOut(wire.NewTxOut(change, s.pkScript))
	} else {
		fee = totalIn - amountSats
	}

	for i := range tx.TxIn {
		sigScript, err := txscript.SignatureScript(tx, i, s.pkScript, txscript.SigHashAll, s.key, true)
		if err != nil {
			return SignedTransaction{}, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return SignedTransaction{}, err
	}

	return SignedTransaction{
		RawHex:      hex.EncodeToString(buf.Bytes()),
		TxID:        tx.TxHash().String(),
		VirtualSize: estimateVSize(len(tx.TxIn), len(tx.TxOut)),
		Fee:         decimal.New(fee, -8),
	}, nil
}

// selectUTXOs picks inputs largest-first until they cover the amount plus the
// fee for the selection so far.
func selectUTXOs(utxos []UTXO, amountSats, feeRate int64) ([]UTXO, int64, error) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	var (
		selected []UTXO
		totalIn  int64
	)
	for _, u := range sorted {
		selected = append(selected, u)
		totalIn += u.Value
		if totalIn >= amountSats+estimateFee(len(selected), 2, feeRate) {
			return selected, totalIn, nil
		}
	}

	required := amountSats + estimateFee(len(sorted)+1, 2, feeRate)
	return nil, 0, fmt.Errorf("%w: required ~%d sat, hot wallet holds %d sat", ErrInsufficientUTXO, required, totalIn)
}

func estimateVSize(inputs, outputs int) int {
	return txOverheadVBytes + inputs*inputVBytes + outputs*outputVBytes
}

func estimateFee(inputs, outputs int, feeRate int64) int64 {
	return int64(estimateVSize(inputs, outputs)) * feeRate
}
