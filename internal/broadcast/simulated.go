package broadcast

import (
	"context"
	"sync"

	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/signer"
)

// SimulatedClient accepts every structurally valid transaction without
// touching any network. Accepted transactions report as fully confirmed so
// the withdrawal pipeline can be exercised end to end in non-live
// environments. Ids are the canonical ones decoded from the raw bytes,
// which keeps the broadcaster's id cross-check meaningful.
type SimulatedClient struct {
	cur currency.Currency

	mu       sync.Mutex
	accepted map[string]string // txID -> rawHex
}

// NewSimulatedClient builds a simulated client for one currency.
func NewSimulatedClient(cur currency.Currency) *SimulatedClient {
	return &SimulatedClient{cur: cur, accepted: make(map[string]string)}
}

// Push decodes the transaction, records it and returns its canonical id.
// Malformed bytes are rejected just as a real node would reject them.
func (c *SimulatedClient) Push(_ context.Context, rawHex string) (string, error) {
	txID, err := signer.TransactionID(c.cur, rawHex)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.accepted[txID] = rawHex
	c.mu.Unlock()
	return txID, nil
}

// Status reports accepted transactions as buried past every finality
// threshold and unknown ones as unconfirmed.
func (c *SimulatedClient) Status(_ context.Context, txID string) (Status, error) {
	c.mu.Lock()
	_, ok := c.accepted[txID]
	c.mu.Unlock()

	if !ok {
		return Status{}, nil
	}
	return Status{Confirmations: RequiredConfirmations(c.cur), BlockHeight: 1}, nil
}

// Accepted reports whether a transaction with the given id was pushed.
func (c *SimulatedClient) Accepted(txID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.accepted[txID]
	return ok
}
