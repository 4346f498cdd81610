package ledger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

var (
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrUnknownAccount    = errors.New("ledger: unknown account")
)

// Leg is one balance movement inside a batch transfer.
type Leg struct {
	From   book.TraderID
	To     book.TraderID
	Asset  string
	Amount uint64
}

// Manager keeps accounts in memory and mirrors every mutation to the
// store when one is attached. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	accounts map[book.TraderID]*Account
	store    *Store
	log      *zap.SugaredLogger
}

func NewManager(store *Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		accounts: make(map[book.TraderID]*Account),
		store:    store,
		log:      log,
	}
	if store != nil {
		accts, err := store.LoadAccounts()
		if err != nil {
			log.Warnw("ledger: failed to load accounts", "err", err)
		}
		for _, a := range accts {
			m.accounts[a.Trader] = a
		}
	}
	return m
}

func (m *Manager) account(trader book.TraderID) *Account {
	a, ok := m.accounts[trader]
	if !ok {
		a = NewAccount(trader)
		m.accounts[trader] = a
	}
	return a
}

func (m *Manager) Deposit(trader book.TraderID, asset string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.account(trader)
	a.Balances[asset] += amount
	return m.persist(a)
}

func (m *Manager) Withdraw(trader book.TraderID, asset string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[trader]
	if !ok || a.Balances[asset] < amount {
		return ErrInsufficientFunds
	}
	a.Balances[asset] -= amount
	return m.persist(a)
}

func (m *Manager) Balance(trader book.TraderID, asset string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[trader]
	if !ok {
		return 0
	}
	return a.Balances[asset]
}

// Balances returns a copy of every balance held by trader.
func (m *Manager) Balances(trader book.TraderID) map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64)
	if a, ok := m.accounts[trader]; ok {
		for asset, amt := range a.Balances {
			out[asset] = amt
		}
	}
	return out
}

// TransferBatch applies all legs or none of them. Every debit is
// checked against current balances before any balance moves, so a
// failing leg leaves the ledger untouched.
func (m *Manager) TransferBatch(legs []Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check phase: aggregate debits per (account, asset) so two legs
	// drawing on the same balance are checked together.
	type key struct {
		trader book.TraderID
		asset  string
	}
	debits := make(map[key]uint64)
	for _, l := range legs {
		if l.Amount == 0 {
			return ErrInvalidAmount
		}
		debits[key{l.From, l.Asset}] += l.Amount
	}
	for k, need := range debits {
		a, ok := m.accounts[k.trader]
		if !ok || a.Balances[k.asset] < need {
			return fmt.Errorf("%w: account %s asset %s needs %d",
				ErrInsufficientFunds, k.trader.Hex(), k.asset, need)
		}
	}

	// Apply phase.
	touched := make(map[book.TraderID]*Account)
	for _, l := range legs {
		from := m.accounts[l.From]
		to := m.account(l.To)
		from.Balances[l.Asset] -= l.Amount
		to.Balances[l.Asset] += l.Amount
		touched[from.Trader] = from
		touched[to.Trader] = to
	}
	for _, a := range touched {
		if err := m.persist(a); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) persist(a *Account) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveAccount(a)
}
