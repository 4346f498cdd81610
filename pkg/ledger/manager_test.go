package ledger

import (
	"errors"
	"testing"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

func trader(b byte) book.TraderID {
	var t book.TraderID
	for i := range t {
		t[i] = b
	}
	return t
}

func TestDepositWithdraw(t *testing.T) {
	m := NewManager(nil, nil)
	alice := trader(0xa1)

	if err := m.Deposit(alice, "USD", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := m.Balance(alice, "USD"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	if err := m.Withdraw(alice, "USD", 40); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := m.Balance(alice, "USD"); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}
	if err := m.Withdraw(alice, "USD", 61); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v, want ErrInsufficientFunds", err)
	}
	if err := m.Deposit(alice, "USD", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit err = %v, want ErrInvalidAmount", err)
	}
}

func TestTransferBatchAtomic(t *testing.T) {
	m := NewManager(nil, nil)
	buyer, seller := trader(0xb1), trader(0xc1)

	if err := m.Deposit(buyer, "USD", 500); err != nil {
		t.Fatal(err)
	}
	if err := m.Deposit(seller, "BTC", 5); err != nil {
		t.Fatal(err)
	}

	// Both legs succeed together.
	legs := []Leg{
		{From: seller, To: buyer, Asset: "BTC", Amount: 5},
		{From: buyer, To: seller, Asset: "USD", Amount: 475},
	}
	if err := m.TransferBatch(legs); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := m.Balance(buyer, "BTC"); got != 5 {
		t.Fatalf("buyer BTC = %d, want 5", got)
	}
	if got := m.Balance(seller, "USD"); got != 475 {
		t.Fatalf("seller USD = %d, want 475", got)
	}

	// One bad leg rolls everything back: seller has no BTC left, so
	// the USD leg must not fire either.
	before := m.Balance(buyer, "USD")
	err := m.TransferBatch([]Leg{
		{From: seller, To: buyer, Asset: "BTC", Amount: 1},
		{From: buyer, To: seller, Asset: "USD", Amount: 10},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := m.Balance(buyer, "USD"); got != before {
		t.Fatalf("buyer USD moved on failed batch: %d != %d", got, before)
	}
	if got := m.Balance(seller, "USD"); got != 475 {
		t.Fatalf("seller USD moved on failed batch: %d", got)
	}
}

func TestTransferBatchAggregatesDebits(t *testing.T) {
	m := NewManager(nil, nil)
	a, b := trader(1), trader(2)

	if err := m.Deposit(a, "USD", 10); err != nil {
		t.Fatal(err)
	}
	// Two legs of 6 each exceed the balance of 10 even though each
	// passes alone.
	err := m.TransferBatch([]Leg{
		{From: a, To: b, Asset: "USD", Amount: 6},
		{From: a, To: b, Asset: "USD", Amount: 6},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := m.Balance(a, "USD"); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(st, nil)
	alice := trader(0xaa)
	if err := m.Deposit(alice, "ETH", 7); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()

	m2 := NewManager(st2, nil)
	if got := m2.Balance(alice, "ETH"); got != 7 {
		t.Fatalf("reloaded balance = %d, want 7", got)
	}
}
