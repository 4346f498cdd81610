package pair

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("trading pair not found")
	ErrExists   = errors.New("trading pair already registered")
	ErrInactive = errors.New("trading pair is inactive")
	ErrBusy     = errors.New("a mutating computation is already outstanding")
)

// Registry holds one record per market in a thread-safe manner. It is the
// authority for the activity flag and for the single-in-flight-mutation
// gate every submit/cancel/match request must pass through.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uint64]*Pair
	bySymbol map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[uint64]*Pair),
		bySymbol: make(map[string]uint64),
	}
}

func (r *Registry) Register(p *Pair) error {
	if p == nil {
		return fmt.Errorf("cannot register nil pair")
	}
	if p.Symbol == "" || p.BaseAsset == "" || p.QuoteAsset == "" {
		return fmt.Errorf("pair %d: symbol and assets must be set", p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[p.ID]; exists {
		return fmt.Errorf("pair %d: %w", p.ID, ErrExists)
	}
	if _, exists := r.bySymbol[p.Symbol]; exists {
		return fmt.Errorf("pair %s: %w", p.Symbol, ErrExists)
	}

	cp := *p
	r.byID[p.ID] = &cp
	r.bySymbol[p.Symbol] = p.ID
	return nil
}

// Get returns a snapshot of the pair taken under the registry lock.
// Pairs are mutated only through registry methods; the copy keeps
// callers from observing torn reads.
func (r *Registry) Get(id uint64) (*Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *Registry) GetBySymbol(symbol string) (*Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", symbol, ErrNotFound)
	}
	cp := *r.byID[id]
	return &cp, nil
}

// List returns snapshots of all registered pairs.
func (r *Registry) List() []*Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Pair, 0, len(r.byID))
	for _, p := range r.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) Activate(id uint64) error {
	return r.setActive(id, true)
}

func (r *Registry) Deactivate(id uint64) error {
	return r.setActive(id, false)
}

func (r *Registry) setActive(id uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	p.Active = active
	return nil
}

// BeginComputation claims the pair's single mutating-computation slot for
// the given correlation id. It fails if the pair is unknown, inactive, or
// already has a computation outstanding.
func (r *Registry) BeginComputation(id uint64, cid uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	if !p.Active {
		return fmt.Errorf("pair %d: %w", id, ErrInactive)
	}
	if p.pending != uuid.Nil {
		return fmt.Errorf("pair %d: %w", id, ErrBusy)
	}
	p.pending = cid
	return nil
}

// BeginInitialization claims the slot for the book-initialization
// computation. It skips the activity check because a pair only becomes
// active once its book exists.
func (r *Registry) BeginInitialization(id uint64, cid uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	if p.pending != uuid.Nil {
		return fmt.Errorf("pair %d: %w", id, ErrBusy)
	}
	p.pending = cid
	return nil
}

// EndComputation releases the slot if it is still held by cid. Releasing
// with a stale id is a no-op, which keeps finalize replays harmless.
func (r *Registry) EndComputation(id uint64, cid uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return
	}
	if p.pending == cid {
		p.pending = uuid.Nil
	}
}

// ApplyCounters records the public outcome of an applied computation.
func (r *Registry) ApplyCounters(id uint64, totalOrders, bookVersion uint64, newTrades uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return
	}
	p.TotalOrders = totalOrders
	p.BookVersion = bookVersion
	p.TradeCount += newTrades
}
