package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// EthereumSigner signs legacy value-transfer transactions with the hot
// wallet key.
type EthereumSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	from    common.Address
}

func newEthereumSigner(hexKey string, chainID *big.Int) (*EthereumSigner, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("a positive chain id is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &EthereumSigner{
		key:     key,
		chainID: chainID,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the hot wallet's checksummed address.
func (s *EthereumSigner) Address() common.Address {
	return s.from
}

// Sign builds a legacy {to, value, gasLimit, gasPrice, nonce, chainId}
// transaction and signs it. The nonce must come from the serialized
// allocator for this hot wallet.
func (s *EthereumSigner) Sign(dest string, amount decimal.Decimal, params EthereumParams) (SignedTransaction, error) {
	if !common.IsHexAddress(dest) {
		return SignedTransaction{}, fmt.Errorf("invalid destination address %q", dest)
	}
	if params.GasPrice == nil || params.GasPrice.Sign() <= 0 {
		return SignedTransaction{}, fmt.Errorf("gas price must be positive")
	}
	if params.GasLimit == 0 {
		params.GasLimit = 21_000
	}

	valueWei := amount.Shift(weiDecimals).BigInt()
	if valueWei.Sign() <= 0 {
		return SignedTransaction{}, fmt.Errorf("amount %s is below one wei", amount)
	}

	tx := types.NewTransaction(params.Nonce, common.HexToAddress(dest), valueWei, params.GasLimit, params.GasPrice, nil)
	return s.sign(tx, params)
}

func (s *EthereumSigner) sign(tx *types.Transaction, params EthereumParams) (SignedTransaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return SignedTransaction{}, err
	}

	feeWei := new(big.Int).Mul(params.GasPrice, new(big.Int).SetUint64(params.GasLimit))
	return SignedTransaction{
		RawHex:   hex.EncodeToString(raw),
		TxID:     signed.Hash().Hex(),
		GasLimit: params.GasLimit,
		Fee:      decimal.NewFromBigInt(feeWei, -weiDecimals),
	}, nil
}
