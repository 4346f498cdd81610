package pair

import (
	"github.com/google/uuid"
)

// Pair is one confidential market. The order book itself never appears
// here: outside the computation boundary a pair exposes only public
// counters and its activity flag.
type Pair struct {
	ID         uint64
	Symbol     string // "SOL-USDC"
	BaseAsset  string
	QuoteAsset string
	Active     bool

	// Public counters maintained by finalized computations.
	TotalOrders uint64 // Open + PartiallyFilled orders in the book
	BookVersion uint64 // strictly increases with every applied mutation
	TradeCount  uint64

	// At most one mutating computation may be outstanding per pair.
	// uuid.Nil means the slot is free.
	pending uuid.UUID
}

// PendingComputation returns the outstanding correlation id, if any.
func (p *Pair) PendingComputation() (uuid.UUID, bool) {
	return p.pending, p.pending != uuid.Nil
}
