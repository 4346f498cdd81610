// Package storage persists the public outputs of the exchange core: the
// append-only trade journal (the audit trail that outlives orders), the
// pending-computation records, and settlement failures awaiting external
// reconciliation. Encrypted order contents are never written here.
package storage

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// keys: t:<pair8><seq8> trades, pc:<uuid16> pending computations,
// sf:<pair8><seq8> settlement failures
func kTrade(pairID, seq uint64) []byte {
	k := append([]byte("t:"), u64Key(pairID)...)
	return append(k, u64Key(seq)...)
}

func kPending(id uuid.UUID) []byte {
	return append([]byte("pc:"), id[:]...)
}

func kSettlementFailure(pairID, seq uint64) []byte {
	k := append([]byte("sf:"), u64Key(pairID)...)
	return append(k, u64Key(seq)...)
}

// TradeRecord is one journal entry. Seq is the pair-scoped journal
// position, distinct from the trade's match-time sequence.
type TradeRecord struct {
	PairID uint64
	Seq    uint64
	Trade  book.Trade
	At     time.Time
}

func (s *Store) AppendTrade(rec TradeRecord) error {
	val, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	if err := s.db.Set(kTrade(rec.PairID, rec.Seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

// Trades returns the journal for one pair in append order.
func (s *Store) Trades(pairID uint64, limit int) ([]TradeRecord, error) {
	lower := kTrade(pairID, 0)
	upper := kTrade(pairID+1, 0)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var rec TradeRecord
		if err := decodeGob(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// PendingRecord mirrors a coordinator pending computation for recovery
// and audit. Status strings match the coordinator's state machine.
type PendingRecord struct {
	ID          uuid.UUID
	PairID      uint64
	Kind        string
	Status      string
	RequestedAt time.Time
}

func (s *Store) SavePending(rec PendingRecord) error {
	val, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	if err := s.db.Set(kPending(rec.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("save pending: %w", err)
	}
	return nil
}

func (s *Store) LoadPending(id uuid.UUID) (PendingRecord, bool, error) {
	val, closer, err := s.db.Get(kPending(id))
	if err == pebble.ErrNotFound {
		return PendingRecord{}, false, nil
	}
	if err != nil {
		return PendingRecord{}, false, err
	}
	defer closer.Close()

	var rec PendingRecord
	if err := decodeGob(val, &rec); err != nil {
		return PendingRecord{}, false, fmt.Errorf("decode pending: %w", err)
	}
	return rec, true, nil
}

// SettlementFailure records a trade whose asset transfer failed after the
// matching mutation was already applied. Reconciliation is external.
type SettlementFailure struct {
	PairID uint64
	Seq    uint64
	Trade  book.Trade
	Reason string
	At     time.Time
}

func (s *Store) RecordSettlementFailure(rec SettlementFailure) error {
	val, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode settlement failure: %w", err)
	}
	if err := s.db.Set(kSettlementFailure(rec.PairID, rec.Seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("record settlement failure: %w", err)
	}
	return nil
}

func (s *Store) SettlementFailures(pairID uint64) ([]SettlementFailure, error) {
	lower := kSettlementFailure(pairID, 0)
	upper := kSettlementFailure(pairID+1, 0)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []SettlementFailure
	for iter.First(); iter.Valid(); iter.Next() {
		var rec SettlementFailure
		if err := decodeGob(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode settlement failure: %w", err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
