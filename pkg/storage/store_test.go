package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTradeJournalOrder(t *testing.T) {
	s := openTestStore(t)

	var buyer, seller book.TraderID
	buyer[0], seller[0] = 0xaa, 0xbb

	for seq := uint64(1); seq <= 5; seq++ {
		rec := TradeRecord{
			PairID: 7,
			Seq:    seq,
			Trade:  book.Trade{BuyOrderID: seq, SellOrderID: seq + 10, Buyer: buyer, Seller: seller, Price: 100, Quantity: seq},
			At:     time.Unix(1_700_000_000+int64(seq), 0).UTC(),
		}
		if err := s.AppendTrade(rec); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	// A trade on another pair must not leak into pair 7's journal.
	other := TradeRecord{PairID: 8, Seq: 1, Trade: book.Trade{Price: 1, Quantity: 1}}
	if err := s.AppendTrade(other); err != nil {
		t.Fatal(err)
	}

	recs, err := s.Trades(7, 0)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("journal length = %d, want 5", len(recs))
	}
	for i, rec := range recs {
		if rec.Seq != uint64(i)+1 {
			t.Fatalf("journal out of order at %d: seq %d", i, rec.Seq)
		}
	}

	limited, err := s.Trades(7, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited length = %d, want 2", len(limited))
	}
}

func TestPendingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := PendingRecord{
		ID:          uuid.New(),
		PairID:      3,
		Kind:        "Submit",
		Status:      "requested",
		RequestedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := s.SavePending(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.LoadPending(rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("pending record not found")
	}
	if got != rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}

	if _, ok, err := s.LoadPending(uuid.New()); err != nil || ok {
		t.Fatalf("unknown id: ok=%v err=%v", ok, err)
	}
}

func TestSettlementFailures(t *testing.T) {
	s := openTestStore(t)

	rec := SettlementFailure{
		PairID: 2,
		Seq:    1,
		Trade:  book.Trade{BuyOrderID: 1, SellOrderID: 2, Price: 50, Quantity: 3},
		Reason: "insufficient funds",
		At:     time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := s.RecordSettlementFailure(rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	failures, err := s.SettlementFailures(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failures) != 1 || failures[0].Reason != "insufficient funds" {
		t.Fatalf("failures = %+v", failures)
	}
	if empty, err := s.SettlementFailures(3); err != nil || len(empty) != 0 {
		t.Fatalf("pair 3 failures = %+v err=%v", empty, err)
	}
}
