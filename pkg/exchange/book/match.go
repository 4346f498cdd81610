package book

// Match runs one price-time-priority matching pass and returns the trades
// plus the post-match book. The input book is never mutated, so the result
// can be applied atomically or discarded.
//
// The algorithm is fully deterministic: independent computation nodes
// evaluating the same book must produce byte-identical trade lists. Trades
// always execute at the ask price of the crossing pair. Partially filled
// orders keep their original sequence; there is no requeue-to-back.
//
// Two orders from the same trader may cross; no self-trade prevention is
// applied here.
func Match(b *OrderBook) ([]Trade, *OrderBook) {
	nb := b.Clone()
	var trades []Trade
	var seq uint64

	for {
		bid, okB := nb.BestBid()
		ask, okA := nb.BestAsk()
		if !okB || !okA || bid.Price < ask.Price {
			break
		}

		qty := bid.Remaining
		if ask.Remaining < qty {
			qty = ask.Remaining
		}

		price := ask.Price

		seq++
		trades = append(trades, Trade{
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			Buyer:       bid.Trader,
			Seller:      ask.Trader,
			Price:       price,
			Quantity:    qty,
			Sequence:    seq,
		})

		nb.fill(bid, qty)
		nb.fill(ask, qty)
	}

	return trades, nb
}

// Crossed reports whether a matching pass would produce at least one trade.
func Crossed(b *OrderBook) bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.Price >= ask.Price
}
