package book

import (
	"errors"

	"github.com/google/btree"
)

var (
	ErrValidation     = errors.New("order failed validation")
	ErrCapacity       = errors.New("book side at capacity")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrOrderNotFound  = errors.New("order not found")
)

const btreeDegree = 8

// OrderBook holds the buy and sell sides of one trading pair as ordered,
// capacity-bounded containers keyed by strict price-time priority:
// buys by (price desc, sequence asc), sells by (price asc, sequence asc).
// It has no knowledge of encryption; it only ever exists inside the
// computation boundary.
type OrderBook struct {
	capacity int

	buys  *btree.BTreeG[*Order]
	sells *btree.BTreeG[*Order]
	byID  map[uint64]*Order

	nextID  uint64
	nextSeq uint64
	version uint64
}

func lessBuy(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.Sequence < b.Sequence
}

func lessSell(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.Sequence < b.Sequence
}

// New creates an empty book with the given per-side capacity. Capacity is
// a configuration value, not a structural ceiling: raising it is a
// parameter change.
func New(capacityPerSide int) *OrderBook {
	return &OrderBook{
		capacity: capacityPerSide,
		buys:     btree.NewG(btreeDegree, lessBuy),
		sells:    btree.NewG(btreeDegree, lessSell),
		byID:     make(map[uint64]*Order),
		nextID:   1,
		nextSeq:  1,
		version:  1,
	}
}

// Insert accepts an order into the book and returns its assigned id.
// A zero ID and Sequence are assigned by the book; non-zero values are
// honored so a replica can be rebuilt deterministically. The book is
// unchanged on any error.
func (b *OrderBook) Insert(o *Order) (uint64, error) {
	if o == nil || o.Price == 0 || o.Quantity == 0 {
		return 0, ErrValidation
	}
	if o.ID != 0 {
		if _, exists := b.byID[o.ID]; exists {
			return 0, ErrDuplicateOrder
		}
	}
	if b.sideLen(o.Side) >= b.capacity {
		return 0, ErrCapacity
	}

	if o.ID == 0 {
		o.ID = b.nextID
		b.nextID++
	} else if o.ID >= b.nextID {
		b.nextID = o.ID + 1
	}
	if o.Sequence == 0 {
		o.Sequence = b.nextSeq
		b.nextSeq++
	} else if o.Sequence >= b.nextSeq {
		b.nextSeq = o.Sequence + 1
	}
	if o.Remaining == 0 {
		o.Remaining = o.Quantity
	}
	o.Status = Open

	b.side(o.Side).ReplaceOrInsert(o)
	b.byID[o.ID] = o
	b.version++
	return o.ID, nil
}

// Remove takes an order out of the book and returns it. The caller owns
// the returned order's final status.
func (b *OrderBook) Remove(id uint64) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	b.side(o.Side).Delete(o)
	delete(b.byID, id)
	b.version++
	return o, nil
}

// Lookup returns the resting order with the given id without mutating
// the book.
func (b *OrderBook) Lookup(id uint64) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// BestBid returns the highest-priority buy order.
func (b *OrderBook) BestBid() (*Order, bool) {
	return b.buys.Min()
}

// BestAsk returns the highest-priority sell order.
func (b *OrderBook) BestAsk() (*Order, bool) {
	return b.sells.Min()
}

// Orders returns one side in priority order (best first).
func (b *OrderBook) Orders(s Side) []*Order {
	out := make([]*Order, 0, b.sideLen(s))
	b.side(s).Ascend(func(o *Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

func (b *OrderBook) Len(s Side) int     { return b.sideLen(s) }
func (b *OrderBook) TotalOrders() int   { return len(b.byID) }
func (b *OrderBook) Capacity() int      { return b.capacity }
func (b *OrderBook) Version() uint64    { return b.version }
func (b *OrderBook) NextSequence() uint64 { return b.nextSeq }

// Clone deep-copies the book, including every resting order, so a match
// pass can be applied atomically or thrown away without touching the
// original.
func (b *OrderBook) Clone() *OrderBook {
	nb := &OrderBook{
		capacity: b.capacity,
		buys:     btree.NewG(btreeDegree, lessBuy),
		sells:    btree.NewG(btreeDegree, lessSell),
		byID:     make(map[uint64]*Order, len(b.byID)),
		nextID:   b.nextID,
		nextSeq:  b.nextSeq,
		version:  b.version,
	}
	copySide := func(s Side) {
		b.side(s).Ascend(func(o *Order) bool {
			cp := *o
			nb.side(s).ReplaceOrInsert(&cp)
			nb.byID[cp.ID] = &cp
			return true
		})
	}
	copySide(Buy)
	copySide(Sell)
	return nb
}

// Equal reports structural equality with another book, version included.
func (b *OrderBook) Equal(other *OrderBook) bool {
	if b.version != other.version ||
		b.nextID != other.nextID ||
		b.nextSeq != other.nextSeq ||
		len(b.byID) != len(other.byID) {
		return false
	}
	for id, o := range b.byID {
		oo, ok := other.byID[id]
		if !ok || *o != *oo {
			return false
		}
	}
	return true
}

func (b *OrderBook) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return b.buys
	}
	return b.sells
}

func (b *OrderBook) sideLen(s Side) int {
	return b.side(s).Len()
}

// fill consumes qty from a resting order during matching; fully consumed
// orders leave the book.
func (b *OrderBook) fill(o *Order, qty uint64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Filled
		b.side(o.Side).Delete(o)
		delete(b.byID, o.ID)
	} else {
		o.Status = PartiallyFilled
	}
	b.version++
}
