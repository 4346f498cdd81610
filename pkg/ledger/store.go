package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

var accountPrefix = []byte("a:")

// Store persists accounts in their own pebble keyspace, one JSON value
// per trader handle.
type Store struct {
	db *pebble.DB
}

func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(trader book.TraderID) []byte {
	k := make([]byte, 0, len(accountPrefix)+len(trader))
	k = append(k, accountPrefix...)
	return append(k, trader[:]...)
}

func (s *Store) SaveAccount(a *Account) error {
	val, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Set(accountKey(a.Trader), val, pebble.Sync)
}

func (s *Store) LoadAccounts() ([]*Account, error) {
	upper := append(append([]byte{}, accountPrefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: accountPrefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Account
	for iter.First(); iter.Valid(); iter.Next() {
		var a Account
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, fmt.Errorf("ledger: corrupt account %x: %w", iter.Key(), err)
		}
		if a.Balances == nil {
			a.Balances = make(map[string]uint64)
		}
		acct := a
		out = append(out, &acct)
	}
	return out, iter.Error()
}
