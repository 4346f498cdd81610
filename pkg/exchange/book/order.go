package book

import (
	"encoding/hex"
	"fmt"
)

// Side of the book an order rests on.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// Status tracks the lifecycle of an order inside the book.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (st Status) String() string {
	switch st {
	case Open:
		return "Open"
	case PartiallyFilled:
		return "PartiallyFilled"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TraderID is an opaque anonymized 128-bit trader handle. It carries no
// relationship to any wallet address outside the computation boundary.
type TraderID [16]byte

func (t TraderID) Hex() string { return hex.EncodeToString(t[:]) }

func ParseTraderID(s string) (TraderID, error) {
	var t TraderID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("trader id: %w", err)
	}
	if len(raw) != len(t) {
		return t, fmt.Errorf("trader id: want %d bytes, got %d", len(t), len(raw))
	}
	copy(t[:], raw)
	return t, nil
}

// Order is a resting limit order. Price and quantity are plaintext only
// inside the computation boundary; everything outside sees ciphertext.
type Order struct {
	ID        uint64
	Price     uint64 // integer ticks
	Quantity  uint64 // original size in lots
	Remaining uint64
	Side      Side
	Trader    TraderID
	Sequence  uint64 // arrival order within the pair, assigned at acceptance
	Status    Status
}

// Trade records one execution. Trade records are append-only and outlive
// the orders that produced them.
type Trade struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       TraderID
	Seller      TraderID
	Price       uint64
	Quantity    uint64
	Sequence    uint64 // assigned at match time
}
