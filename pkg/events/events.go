// Package events carries the public domain events the core emits to the
// ledger/observability layer. Only revealed data ever appears here: trade
// outcomes and counters, never order contents.
package events

import (
	"sync"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

type Type string

const (
	TypePairInitialized  Type = "pair_initialized"
	TypeOrderSubmitted   Type = "order_submitted"
	TypeOrderCancelled   Type = "order_cancelled"
	TypeOrdersMatched    Type = "orders_matched"
	TypeTradeExecuted    Type = "trade_executed"
	TypeSettlementFailed Type = "settlement_failed"
)

type Event struct {
	Type   Type   `json:"type"`
	PairID uint64 `json:"pair_id"`

	TotalOrders uint64 `json:"total_orders,omitempty"` // order_submitted
	OrderID     uint64 `json:"order_id,omitempty"`     // order_cancelled
	TradeCount  int    `json:"trade_count,omitempty"`  // orders_matched

	// trade_executed / settlement_failed
	Buyer    string `json:"buyer,omitempty"`
	Seller   string `json:"seller,omitempty"`
	Price    uint64 `json:"price,omitempty"`
	Quantity uint64 `json:"quantity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func PairInitialized(pairID uint64) Event {
	return Event{Type: TypePairInitialized, PairID: pairID}
}

func OrderSubmitted(pairID, totalOrders uint64) Event {
	return Event{Type: TypeOrderSubmitted, PairID: pairID, TotalOrders: totalOrders}
}

func OrderCancelled(pairID, orderID uint64) Event {
	return Event{Type: TypeOrderCancelled, PairID: pairID, OrderID: orderID}
}

func OrdersMatched(pairID uint64, tradeCount int) Event {
	return Event{Type: TypeOrdersMatched, PairID: pairID, TradeCount: tradeCount}
}

func TradeExecuted(pairID uint64, tr book.Trade) Event {
	return Event{
		Type:     TypeTradeExecuted,
		PairID:   pairID,
		Buyer:    tr.Buyer.Hex(),
		Seller:   tr.Seller.Hex(),
		Price:    tr.Price,
		Quantity: tr.Quantity,
	}
}

func SettlementFailed(pairID uint64, tr book.Trade, reason string) Event {
	return Event{
		Type:     TypeSettlementFailed,
		PairID:   pairID,
		Buyer:    tr.Buyer.Hex(),
		Seller:   tr.Seller.Hex(),
		Price:    tr.Price,
		Quantity: tr.Quantity,
		Reason:   reason,
	}
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than stall the apply path.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
