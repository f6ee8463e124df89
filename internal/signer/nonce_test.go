package signer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNonceSource struct {
	mu      sync.Mutex
	pending uint64
	calls   int
	err     error
}

func (f *fakeNonceSource) PendingNonce(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pending, f.err
}

func TestNonceAllocatorPrimesOnce(t *testing.T) {
	source := &fakeNonceSource{pending: 42}
	alloc := NewNonceAllocator(source, common.Address{})
	ctx := context.Background()

	for want := uint64(42); want < 45; want++ {
		got, err := alloc.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("nonce = %d, want %d", got, want)
		}
	}
	if source.calls != 1 {
		t.Fatalf("source queried %d times, want once", source.calls)
	}
}

func TestNonceAllocatorReset(t *testing.T) {
	source := &fakeNonceSource{pending: 10}
	alloc := NewNonceAllocator(source, common.Address{})
	ctx := context.Background()

	if _, err := alloc.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}

	// After a broadcast failure the chain may not have consumed the nonce;
	// a reset re-primes from the source.
	source.mu.Lock()
	source.pending = 10
	source.mu.Unlock()
	alloc.Reset()

	got, err := alloc.Next(ctx)
	if err != nil {
		t.Fatalf("next after reset: %v", err)
	}
	if got != 10 {
		t.Fatalf("nonce after reset = %d, want 10", got)
	}
	if source.calls != 2 {
		t.Fatalf("source queried %d times, want 2", source.calls)
	}
}

func TestNonceAllocatorPropagatesSourceError(t *testing.T) {
	wantErr := errors.New("rpc unavailable")
	alloc := NewNonceAllocator(&fakeNonceSource{err: wantErr}, common.Address{})

	if _, err := alloc.Next(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestNonceAllocatorConcurrentAllocation(t *testing.T) {
	alloc := NewNonceAllocator(&fakeNonceSource{pending: 0}, common.Address{})
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	seen := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := alloc.Next(ctx)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			seen <- nonce
		}()
	}
	wg.Wait()
	close(seen)

	used := make(map[uint64]bool, n)
	for nonce := range seen {
		if used[nonce] {
			t.Fatalf("nonce %d allocated twice", nonce)
		}
		used[nonce] = true
	}
	if len(used) != n {
		t.Fatalf("allocated %d distinct nonces, want %d", len(used), n)
	}
}
