package settle

import (
	"errors"
	"testing"

	"github.com/umbral-exchange/umbral/pkg/events"
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/ledger"
	"github.com/umbral-exchange/umbral/pkg/storage"
)

func trader(b byte) book.TraderID {
	var t book.TraderID
	for i := range t {
		t[i] = b
	}
	return t
}

type failureSink struct {
	recs []storage.SettlementFailure
}

func (f *failureSink) RecordSettlementFailure(rec storage.SettlementFailure) error {
	f.recs = append(f.recs, rec)
	return nil
}

func TestSettleMovesBothLegs(t *testing.T) {
	lm := ledger.NewManager(nil, nil)
	buyer, seller := trader(1), trader(2)

	if err := lm.Deposit(buyer, "USD", 1000); err != nil {
		t.Fatal(err)
	}
	if err := lm.Deposit(seller, "BTC", 10); err != nil {
		t.Fatal(err)
	}

	ex := NewExecutor(lm, nil, nil, nil)
	trades := []book.Trade{
		{BuyOrderID: 1, SellOrderID: 2, Buyer: buyer, Seller: seller, Price: 95, Quantity: 5, Sequence: 1},
	}
	if err := ex.Settle(7, "BTC", "USD", trades); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if got := lm.Balance(buyer, "BTC"); got != 5 {
		t.Fatalf("buyer BTC = %d, want 5", got)
	}
	if got := lm.Balance(buyer, "USD"); got != 1000-475 {
		t.Fatalf("buyer USD = %d, want 525", got)
	}
	if got := lm.Balance(seller, "BTC"); got != 5 {
		t.Fatalf("seller BTC = %d, want 5", got)
	}
	if got := lm.Balance(seller, "USD"); got != 475 {
		t.Fatalf("seller USD = %d, want 475", got)
	}
}

func TestSettleOverflowingCostFails(t *testing.T) {
	lm := ledger.NewManager(nil, nil)
	buyer, seller := trader(1), trader(2)

	if err := lm.Deposit(buyer, "USD", 1000); err != nil {
		t.Fatal(err)
	}
	if err := lm.Deposit(seller, "BTC", 3); err != nil {
		t.Fatal(err)
	}

	sink := &failureSink{}
	ex := NewExecutor(lm, sink, nil, nil)

	// price*quantity = 2^64+2, which wraps to 2 in uint64 arithmetic.
	trades := []book.Trade{
		{BuyOrderID: 1, SellOrderID: 2, Buyer: buyer, Seller: seller,
			Price: 6148914691236517206, Quantity: 3, Sequence: 1},
	}
	err := ex.Settle(7, "BTC", "USD", trades)
	if !errors.Is(err, ErrSettlement) {
		t.Fatalf("err = %v, want ErrSettlement", err)
	}

	if len(sink.recs) != 1 {
		t.Fatalf("recorded failures = %d, want 1", len(sink.recs))
	}

	// Neither leg moved.
	if got := lm.Balance(buyer, "BTC"); got != 0 {
		t.Fatalf("buyer BTC = %d, want 0", got)
	}
	if got := lm.Balance(buyer, "USD"); got != 1000 {
		t.Fatalf("buyer USD = %d, want 1000", got)
	}
	if got := lm.Balance(seller, "BTC"); got != 3 {
		t.Fatalf("seller BTC = %d, want 3", got)
	}
	if got := lm.Balance(seller, "USD"); got != 0 {
		t.Fatalf("seller USD = %d, want 0", got)
	}
}

func TestSettleFailureRecordedNotRolledBack(t *testing.T) {
	lm := ledger.NewManager(nil, nil)
	buyer, seller := trader(1), trader(2)

	// Seller never deposited base asset, so the first trade fails.
	// The second trade is funded and must still settle.
	if err := lm.Deposit(buyer, "USD", 1000); err != nil {
		t.Fatal(err)
	}
	funded := trader(3)
	if err := lm.Deposit(funded, "BTC", 4); err != nil {
		t.Fatal(err)
	}

	sink := &failureSink{}
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	ex := NewExecutor(lm, sink, bus, nil)

	trades := []book.Trade{
		{BuyOrderID: 1, SellOrderID: 2, Buyer: buyer, Seller: seller, Price: 100, Quantity: 3, Sequence: 1},
		{BuyOrderID: 1, SellOrderID: 3, Buyer: buyer, Seller: funded, Price: 100, Quantity: 4, Sequence: 2},
	}
	err := ex.Settle(7, "BTC", "USD", trades)
	if !errors.Is(err, ErrSettlement) {
		t.Fatalf("err = %v, want ErrSettlement", err)
	}

	if len(sink.recs) != 1 {
		t.Fatalf("recorded failures = %d, want 1", len(sink.recs))
	}
	if sink.recs[0].Trade.SellOrderID != 2 {
		t.Fatalf("wrong trade recorded: sell order %d", sink.recs[0].Trade.SellOrderID)
	}

	// Funded trade went through.
	if got := lm.Balance(buyer, "BTC"); got != 4 {
		t.Fatalf("buyer BTC = %d, want 4", got)
	}
	if got := lm.Balance(funded, "USD"); got != 400 {
		t.Fatalf("funded seller USD = %d, want 400", got)
	}

	// One failure event and one executed-trade event.
	var failedEvents, executed int
	for i := 0; i < 2; i++ {
		e := <-sub
		switch e.Type {
		case events.TypeSettlementFailed:
			failedEvents++
		case events.TypeTradeExecuted:
			executed++
		}
	}
	if failedEvents != 1 || executed != 1 {
		t.Fatalf("events: failed=%d executed=%d, want 1 and 1", failedEvents, executed)
	}
}
