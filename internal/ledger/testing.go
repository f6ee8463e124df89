package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

// SeedBalance is a test helper that seeds the available balance for a wallet
// when using the in-memory store.
func SeedBalance(s Store, userID string, cur currency.Currency, available decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.wallet(userID, cur).available = available
	}
}

// AllEntries is a test helper returning every recorded entry in insertion
// order when using the in-memory store.
func AllEntries(s Store) []Entry {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		out := make([]Entry, len(mem.entries))
		copy(out, mem.entries)
		return out
	}
	return nil
}
