package pair

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newPair(id uint64, symbol string) *Pair {
	return &Pair{
		ID:         id,
		Symbol:     symbol,
		BaseAsset:  "SOL",
		QuoteAsset: "USDC",
		Active:     true,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newPair(1, "SOL-USDC")); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name    string
		pair    *Pair
		wantErr error
	}{
		{name: "duplicate id", pair: newPair(1, "ETH-USDC"), wantErr: ErrExists},
		{name: "duplicate symbol", pair: newPair(2, "SOL-USDC"), wantErr: ErrExists},
		{name: "second pair", pair: newPair(2, "ETH-USDC")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.pair)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}
	p, err := r.GetBySymbol("ETH-USDC")
	if err != nil || p.ID != 2 {
		t.Fatalf("GetBySymbol: %v %v", p, err)
	}
	if _, err := r.Get(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(99) err = %v, want ErrNotFound", err)
	}
}

func TestActivationGate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newPair(1, "SOL-USDC")); err != nil {
		t.Fatalf("register: %v", err)
	}

	cid := uuid.New()
	if err := r.Deactivate(1); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := r.BeginComputation(1, cid); !errors.Is(err, ErrInactive) {
		t.Fatalf("BeginComputation on inactive pair err = %v, want ErrInactive", err)
	}

	if err := r.Activate(1); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := r.BeginComputation(1, cid); err != nil {
		t.Fatalf("BeginComputation after activate: %v", err)
	}
}

func TestBeginInitializationSkipsActivityCheck(t *testing.T) {
	r := NewRegistry()
	p := newPair(1, "SOL-USDC")
	p.Active = false
	if err := r.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	cid := uuid.New()
	if err := r.BeginInitialization(1, cid); err != nil {
		t.Fatalf("BeginInitialization on inactive pair: %v", err)
	}
	if err := r.BeginInitialization(1, uuid.New()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second init err = %v, want ErrBusy", err)
	}
	if err := r.BeginInitialization(99, cid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown pair err = %v, want ErrNotFound", err)
	}
}

func TestSingleInFlightComputation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newPair(1, "SOL-USDC")); err != nil {
		t.Fatalf("register: %v", err)
	}

	first := uuid.New()
	second := uuid.New()

	if err := r.BeginComputation(1, first); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := r.BeginComputation(1, second); !errors.Is(err, ErrBusy) {
		t.Fatalf("second begin err = %v, want ErrBusy", err)
	}

	// releasing with a stale id must not free the slot
	r.EndComputation(1, second)
	if err := r.BeginComputation(1, second); !errors.Is(err, ErrBusy) {
		t.Fatalf("slot freed by stale release")
	}

	r.EndComputation(1, first)
	if err := r.BeginComputation(1, second); err != nil {
		t.Fatalf("begin after release: %v", err)
	}

	p, _ := r.Get(1)
	if cid, ok := p.PendingComputation(); !ok || cid != second {
		t.Fatalf("pending = %v/%v, want %v", cid, ok, second)
	}
}

func TestApplyCounters(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newPair(1, "SOL-USDC")); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.ApplyCounters(1, 3, 7, 2)
	r.ApplyCounters(1, 2, 8, 1)

	p, _ := r.Get(1)
	if p.TotalOrders != 2 || p.BookVersion != 8 || p.TradeCount != 3 {
		t.Fatalf("counters = %d/%d/%d, want 2/8/3", p.TotalOrders, p.BookVersion, p.TradeCount)
	}
}

func TestLookupsReturnSnapshots(t *testing.T) {
	r := NewRegistry()
	src := newPair(1, "SOL-USDC")
	if err := r.Register(src); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Neither the caller's record nor a returned one aliases registry
	// state.
	src.Active = false
	p, _ := r.Get(1)
	if !p.Active {
		t.Fatalf("registered record aliases caller's pair")
	}
	p.TradeCount = 99
	p.Active = false

	again, _ := r.Get(1)
	if again.TradeCount != 0 || !again.Active {
		t.Fatalf("snapshot mutation leaked into registry: %+v", again)
	}

	for _, lp := range r.List() {
		lp.BookVersion = 42
	}
	if bySym, _ := r.GetBySymbol("SOL-USDC"); bySym.BookVersion != 0 {
		t.Fatalf("List snapshot mutation leaked into registry")
	}
}
