package signer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// usdtDecimals is the token's smallest-unit precision. USDT uses 6 decimals,
// unlike most ERC-20 tokens.
const usdtDecimals = 6

const erc20TransferABI = `[{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// TokenSigner signs zero-value call transactions carrying an ABI-encoded
// ERC-20 transfer, targeting the token contract.
type TokenSigner struct {
	eth      *EthereumSigner
	contract common.Address
	abi      abi.ABI
}

func newTokenSigner(eth *EthereumSigner, contract string) (*TokenSigner, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid token contract address %q", contract)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC-20 ABI: %w", err)
	}
	return &TokenSigner{eth: eth, contract: common.HexToAddress(contract), abi: parsed}, nil
}

// Sign encodes transfer(dest, amount) against the token contract and signs it
// as a zero-value transaction with the provided gas parameters.
func (s *TokenSigner) Sign(dest string, amount decimal.Decimal, params EthereumParams) (SignedTransaction, error) {
	if !common.IsHexAddress(dest) {
		return SignedTransaction{}, fmt.Errorf("invalid destination address %q", dest)
	}
	if params.GasPrice == nil || params.GasPrice.Sign() <= 0 {
		return SignedTransaction{}, fmt.Errorf("gas price must be positive")
	}
	if params.GasLimit == 0 {
		params.GasLimit = 90_000
	}

	units := amount.Shift(usdtDecimals).BigInt()
	if units.Sign() <= 0 {
		return SignedTransaction{}, fmt.Errorf("amount %s is below the token's smallest unit", amount)
	}

	data, err := s.abi.Pack("transfer", common.HexToAddress(dest), units)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("encode transfer call: %w", err)
	}

	tx := types.NewTransaction(params.Nonce, s.contract, big.NewInt(0), params.GasLimit, params.GasPrice, data)
	return s.eth.sign(tx, params)
}
