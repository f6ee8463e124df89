package signer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reads the hot wallet's pending nonce from the chain.
type NonceSource interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

// NonceAllocator serializes nonce assignment for one hot wallet. Concurrent
// withdrawals each receive a distinct nonce; the chain is consulted once and
// subsequent allocations increment locally.
type NonceAllocator struct {
	mu     sync.Mutex
	source NonceSource
	addr   common.Address
	next   uint64
	primed bool
}

// NewNonceAllocator builds an allocator for the hot wallet address.
func NewNonceAllocator(source NonceSource, addr common.Address) *NonceAllocator {
	return &NonceAllocator{source: source, addr: addr}
}

// FixedNonceSource reports a constant pending nonce. Used in simulated
// environments where no node is reachable.
type FixedNonceSource uint64

func (f FixedNonceSource) PendingNonce(context.Context, common.Address) (uint64, error) {
	return uint64(f), nil
}

// Next returns the next unused nonce.
func (a *NonceAllocator) Next(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.primed {
		n, err := a.source.PendingNonce(ctx, a.addr)
		if err != nil {
			return 0, err
		}
		a.next = n
		a.primed = true
	}

	n := a.next
	a.next++
	return n, nil
}

// Reset discards the local counter so the next allocation re-reads the chain.
// Called after a broadcast failure that may have left a nonce gap.
func (a *NonceAllocator) Reset() {
	a.mu.Lock()
	a.primed = false
	a.mu.Unlock()
}
