package ledger

import (
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

// Account holds asset balances for one anonymized trader handle. The
// ledger knows nothing about orders; it only moves revealed amounts.
type Account struct {
	Trader   book.TraderID     `json:"trader"`
	Balances map[string]uint64 `json:"balances"` // asset symbol -> amount
}

func NewAccount(trader book.TraderID) *Account {
	return &Account{
		Trader:   trader,
		Balances: make(map[string]uint64),
	}
}

func (a *Account) Balance(asset string) uint64 {
	return a.Balances[asset]
}
