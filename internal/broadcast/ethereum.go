package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EthereumClient is a minimal JSON-RPC 2.0 client covering the node calls
// the withdrawal pipeline needs. It doubles as the nonce source for the
// Ethereum hot wallet, and the same instance serves ERC-20 traffic since
// token transfers ride the same chain.
type EthereumClient struct {
	endpoint string
	http     *http.Client
	reqID    uint64
}

// NewEthereumClient builds a client for the given JSON-RPC endpoint.
func NewEthereumClient(endpoint string) *EthereumClient {
	return &EthereumClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *EthereumClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.reqID, 1),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// Push submits the raw transaction via eth_sendRawTransaction.
func (c *EthereumClient) Push(ctx context.Context, rawHex string) (string, error) {
	if !strings.HasPrefix(rawHex, "0x") {
		rawHex = "0x" + rawHex
	}
	result, err := c.call(ctx, "eth_sendRawTransaction", rawHex)
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("decode transaction hash: %w", err)
	}
	return hash, nil
}

type ethReceipt struct {
	BlockNumber *hexutil.Big `json:"blockNumber"`
	Status      hexutil.Uint `json:"status"`
}

// Status derives confirmations from the transaction receipt and the current
// head via eth_getTransactionReceipt and eth_blockNumber.
func (c *EthereumClient) Status(ctx context.Context, txID string) (Status, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", txID)
	if err != nil {
		return Status{}, err
	}
	if string(result) == "null" {
		// Pending or unknown; unconfirmed either way.
		return Status{}, nil
	}

	var receipt ethReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return Status{}, fmt.Errorf("decode receipt: %w", err)
	}
	if receipt.BlockNumber == nil {
		return Status{}, nil
	}
	if receipt.Status == 0 {
		return Status{}, fmt.Errorf("transaction %s reverted on chain", txID)
	}

	head, err := c.BlockNumber(ctx)
	if err != nil {
		return Status{}, err
	}

	mined := receipt.BlockNumber.ToInt().Int64()
	confirmations := head - mined + 1
	if confirmations < 0 {
		confirmations = 0
	}
	return Status{Confirmations: confirmations, BlockHeight: mined}, nil
}

// BlockNumber returns the current head height via eth_blockNumber.
func (c *EthereumClient) BlockNumber(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var head hexutil.Big
	if err := json.Unmarshal(result, &head); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return head.ToInt().Int64(), nil
}

// GasPrice returns the node's suggested gas price in wei via eth_gasPrice.
func (c *EthereumClient) GasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	var price hexutil.Big
	if err := json.Unmarshal(result, &price); err != nil {
		return nil, fmt.Errorf("decode gas price: %w", err)
	}
	return price.ToInt(), nil
}

// PendingNonce returns the next nonce for addr including pending
// transactions, via eth_getTransactionCount.
func (c *EthereumClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	result, err := c.call(ctx, "eth_getTransactionCount", addr.Hex(), "pending")
	if err != nil {
		return 0, err
	}
	var nonce hexutil.Uint64
	if err := json.Unmarshal(result, &nonce); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return uint64(nonce), nil
}
