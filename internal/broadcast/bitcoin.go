package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kasa-exchange/kasa/internal/signer"
)

// BitcoinClient talks to a BlockCypher-compatible explorer API for pushing
// transactions, polling confirmations and listing the hot wallet's unspent
// outputs.
type BitcoinClient struct {
	baseURL string
	http    *http.Client
}

// NewBitcoinClient builds a client for the given API base URL, for example
// https://api.blockcypher.com/v1/btc/main.
func NewBitcoinClient(baseURL string) *BitcoinClient {
	return &BitcoinClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type btcPushRequest struct {
	Tx string `json:"tx"`
}

type btcPushResponse struct {
	Tx struct {
		Hash string `json:"hash"`
	} `json:"tx"`
	Error string `json:"error"`
}

// Push submits the raw transaction hex via POST /txs/push.
func (c *BitcoinClient) Push(ctx context.Context, rawHex string) (string, error) {
	body, err := json.Marshal(btcPushRequest{Tx: rawHex})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/txs/push", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("push transaction: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var pushed btcPushResponse
	if err := json.Unmarshal(data, &pushed); err != nil {
		return "", fmt.Errorf("decode push response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if pushed.Error != "" {
			return "", fmt.Errorf("push transaction: %s", pushed.Error)
		}
		return "", fmt.Errorf("push transaction: status %d", resp.StatusCode)
	}
	if pushed.Tx.Hash == "" {
		return "", fmt.Errorf("push response carried no transaction hash")
	}
	return pushed.Tx.Hash, nil
}

type btcTxResponse struct {
	Confirmations int64 `json:"confirmations"`
	BlockHeight   int64 `json:"block_height"`
}

// Status fetches confirmation progress via GET /txs/{hash}.
func (c *BitcoinClient) Status(ctx context.Context, txID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/txs/"+url.PathEscape(txID), nil)
	if err != nil {
		return Status{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("fetch transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Not indexed yet; treat as unconfirmed rather than failed.
		return Status{}, nil
	}
	if resp.StatusCode >= 400 {
		return Status{}, fmt.Errorf("fetch transaction: status %d", resp.StatusCode)
	}

	var tx btcTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Status{}, fmt.Errorf("decode transaction: %w", err)
	}
	return Status{Confirmations: tx.Confirmations, BlockHeight: tx.BlockHeight}, nil
}

type btcAddressResponse struct {
	TxRefs []struct {
		TxHash        string `json:"tx_hash"`
		TxOutputN     int64  `json:"tx_output_n"`
		Value         int64  `json:"value"`
		Spent         bool   `json:"spent"`
		Confirmations int64  `json:"confirmations"`
	} `json:"txrefs"`
}

// ListUnspent fetches the confirmed unspent outputs for the hot wallet
// address via GET /addrs/{address}?unspentOnly=true.
func (c *BitcoinClient) ListUnspent(ctx context.Context, address string) ([]signer.UTXO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/addrs/"+url.PathEscape(address)+"?unspentOnly=true", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("list unspent: status %d", resp.StatusCode)
	}

	var addr btcAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&addr); err != nil {
		return nil, fmt.Errorf("decode address response: %w", err)
	}

	utxos := make([]signer.UTXO, 0, len(addr.TxRefs))
	for _, ref := range addr.TxRefs {
		if ref.Spent || ref.TxOutputN < 0 || ref.Confirmations == 0 {
			continue
		}
		utxos = append(utxos, signer.UTXO{
			TxID:  ref.TxHash,
			Vout:  uint32(ref.TxOutputN),
			Value: ref.Value,
		})
	}
	return utxos, nil
}
