// Package coordinator drives the asynchronous computation lifecycle:
// every mutation of a confidential order book is first dispatched to
// the computation cluster, then applied to public state exactly once
// when its finalize callback arrives. Between those two points the pair
// is locked against further mutations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/events"
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/exchange/pair"
	"github.com/umbral-exchange/umbral/pkg/exchange/settle"
	"github.com/umbral-exchange/umbral/pkg/mpc"
	"github.com/umbral-exchange/umbral/pkg/storage"
	"github.com/umbral-exchange/umbral/pkg/util"
)

var (
	ErrUnknownComputation = errors.New("unknown or already finalized computation")
	ErrClosed             = errors.New("coordinator is closed")
)

// QueuePolicy decides what happens to a mutation request while the
// pair's computation slot is taken.
type QueuePolicy int

const (
	// QueueReject fails the request immediately with the pair's busy
	// error.
	QueueReject QueuePolicy = iota
	// QueueFIFO parks the request and dispatches it when the slot
	// frees, in arrival order.
	QueueFIFO
)

type Config struct {
	Registry *pair.Registry
	Cluster  mpc.Cluster
	Bus      *events.Bus      // optional
	Store    *storage.Store   // optional
	Settler  *settle.Executor // optional
	Clock    util.Clock       // defaults to RealClock
	Logger   *zap.SugaredLogger

	Deadline        time.Duration // per-computation finalize deadline
	SweepInterval   time.Duration // deadline check cadence
	QueuePolicy     QueuePolicy
	DefaultCapacity int // per-side book capacity for new pairs
}

// Coordinator owns the authoritative books and the pending-computation
// table. It is the only writer of public pair state.
type Coordinator struct {
	mu       sync.Mutex
	books    map[uint64]*book.OrderBook
	pending  map[uuid.UUID]*Pending
	queues   map[uint64][]mpc.Request
	nextPair uint64
	closed   bool

	registry *pair.Registry
	cluster  mpc.Cluster
	bus      *events.Bus
	store    *storage.Store
	settler  *settle.Executor
	clock    util.Clock
	log      *zap.SugaredLogger

	deadline   time.Duration
	sweepEvery time.Duration
	policy     QueuePolicy
	defaultCap int

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Deadline / 4
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 10
	}
	return &Coordinator{
		books:      make(map[uint64]*book.OrderBook),
		pending:    make(map[uuid.UUID]*Pending),
		queues:     make(map[uint64][]mpc.Request),
		nextPair:   1,
		registry:   cfg.Registry,
		cluster:    cfg.Cluster,
		bus:        cfg.Bus,
		store:      cfg.Store,
		settler:    cfg.Settler,
		clock:      cfg.Clock,
		log:        cfg.Logger,
		deadline:   cfg.Deadline,
		sweepEvery: cfg.SweepInterval,
		policy:     cfg.QueuePolicy,
		defaultCap: cfg.DefaultCapacity,
		done:       make(chan struct{}),
	}
}

// Start launches the result consumer and the deadline sweeper.
func (c *Coordinator) Start() {
	c.wg.Add(2)
	go c.resultLoop()
	go c.sweepLoop()
}

func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.wg.Wait()
}

func (c *Coordinator) resultLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case res, ok := <-c.cluster.Results():
			if !ok {
				return
			}
			if err := c.Finalize(res); err != nil {
				c.log.Debugw("discarded finalize", "cid", res.ID, "err", err)
			}
		}
	}
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.clock.After(c.sweepEvery):
			c.Sweep()
		}
	}
}

// CreatePair registers a new inactive market and dispatches its book
// initialization. The pair activates when the initialization finalizes.
func (c *Coordinator) CreatePair(ctx context.Context, symbol, baseAsset, quoteAsset string, capacity int) (uint64, uuid.UUID, error) {
	if capacity <= 0 {
		capacity = c.defaultCap
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, uuid.Nil, ErrClosed
	}

	id := c.nextPair
	p := &pair.Pair{
		ID:         id,
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
	}
	if err := c.registry.Register(p); err != nil {
		return 0, uuid.Nil, err
	}
	c.nextPair++

	cid := uuid.New()
	if err := c.registry.BeginInitialization(id, cid); err != nil {
		return 0, uuid.Nil, err
	}
	req := mpc.Request{ID: cid, PairID: id, Kind: mpc.KindInitBook, Capacity: capacity}
	if err := c.dispatchLocked(ctx, req); err != nil {
		c.registry.EndComputation(id, cid)
		return 0, uuid.Nil, err
	}
	return id, cid, nil
}

// SubmitOrder dispatches an encrypted order to the cluster. The
// envelope is never opened on this side of the call.
func (c *Coordinator) SubmitOrder(ctx context.Context, pairID uint64, env *mpc.Envelope) (uuid.UUID, error) {
	if env == nil {
		return uuid.Nil, fmt.Errorf("%w: missing envelope", book.ErrValidation)
	}
	if err := env.Validate(); err != nil {
		return uuid.Nil, err
	}
	return c.requestMutation(ctx, pairID, mpc.Request{
		PairID:   pairID,
		Kind:     mpc.KindSubmit,
		Envelope: env,
	})
}

func (c *Coordinator) CancelOrder(ctx context.Context, pairID, orderID uint64) (uuid.UUID, error) {
	return c.requestMutation(ctx, pairID, mpc.Request{
		PairID:  pairID,
		Kind:    mpc.KindCancel,
		OrderID: orderID,
	})
}

func (c *Coordinator) TriggerMatch(ctx context.Context, pairID uint64) (uuid.UUID, error) {
	return c.requestMutation(ctx, pairID, mpc.Request{
		PairID: pairID,
		Kind:   mpc.KindMatch,
	})
}

func (c *Coordinator) requestMutation(ctx context.Context, pairID uint64, req mpc.Request) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return uuid.Nil, ErrClosed
	}

	req.ID = uuid.New()
	err := c.registry.BeginComputation(pairID, req.ID)
	if errors.Is(err, pair.ErrBusy) && c.policy == QueueFIFO {
		c.queues[pairID] = append(c.queues[pairID], req)
		c.track(req, StatusQueued)
		return req.ID, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	if err := c.dispatchLocked(ctx, req); err != nil {
		c.registry.EndComputation(pairID, req.ID)
		return uuid.Nil, err
	}
	return req.ID, nil
}

// dispatchLocked submits to the cluster and records the pending entry.
// Callers hold c.mu.
func (c *Coordinator) dispatchLocked(ctx context.Context, req mpc.Request) error {
	// The pending record must exist before the request leaves the process.
	c.track(req, StatusRequested)
	if err := c.cluster.Submit(ctx, req); err != nil {
		delete(c.pending, req.ID)
		return fmt.Errorf("cluster submit: %w", err)
	}
	c.log.Infow("computation dispatched",
		"cid", req.ID, "pair", req.PairID, "kind", req.Kind.String())
	return nil
}

func (c *Coordinator) track(req mpc.Request, st Status) {
	now := c.clock.Now()
	p := &Pending{
		ID:          req.ID,
		PairID:      req.PairID,
		Kind:        req.Kind,
		Status:      st,
		RequestedAt: now,
	}
	if st == StatusRequested {
		p.Deadline = now.Add(c.deadline)
	}
	c.pending[req.ID] = p
	c.persist(p)
}

// Status reports the lifecycle state of a correlation id.
func (c *Coordinator) Status(cid uuid.UUID) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[cid]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Finalize applies one cluster result. Replays and results for unknown
// or timed-out correlation ids change nothing and report
// ErrUnknownComputation.
func (c *Coordinator) Finalize(res mpc.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[res.ID]
	if !ok || p.terminal() || p.Status == StatusQueued {
		return fmt.Errorf("cid %s: %w", res.ID, ErrUnknownComputation)
	}

	if res.OK {
		if err := c.applyLocked(p, res); err != nil {
			// The cluster said OK but the public state disagrees.
			// This indicates replica divergence; the pair stays
			// usable but the result is dropped.
			p.Status = StatusRejected
			p.Reason = err.Error()
			c.log.Errorw("finalize apply failed",
				"cid", res.ID, "pair", res.PairID, "err", err)
		} else {
			p.Status = StatusApplied
		}
	} else {
		p.Status = StatusRejected
		p.Reason = res.Reason
	}
	p.FinalizedAt = c.clock.Now()
	c.persist(p)

	c.registry.EndComputation(p.PairID, p.ID)
	c.dispatchNextLocked(p.PairID)

	c.log.Infow("computation finalized",
		"cid", p.ID, "pair", p.PairID, "kind", p.Kind.String(),
		"status", p.Status, "reason", p.Reason)
	return nil
}

// applyLocked mutates public state for one successful result.
func (c *Coordinator) applyLocked(p *Pending, res mpc.Result) error {
	switch res.Kind {
	case mpc.KindInitBook:
		return c.applyInitLocked(res)
	case mpc.KindSubmit:
		return c.applySubmitLocked(res)
	case mpc.KindCancel:
		return c.applyCancelLocked(res)
	case mpc.KindMatch:
		return c.applyMatchLocked(res)
	default:
		return fmt.Errorf("unknown computation kind %d", res.Kind)
	}
}

func (c *Coordinator) applyInitLocked(res mpc.Result) error {
	if _, exists := c.books[res.PairID]; exists {
		return fmt.Errorf("pair %d already has a book", res.PairID)
	}
	capacity := res.Capacity
	if capacity <= 0 {
		capacity = c.defaultCap
	}
	c.books[res.PairID] = book.New(capacity)
	if err := c.registry.Activate(res.PairID); err != nil {
		return err
	}
	c.updateCountersLocked(res.PairID, 0)
	c.publish(events.PairInitialized(res.PairID))
	return nil
}

func (c *Coordinator) applySubmitLocked(res mpc.Result) error {
	b, ok := c.books[res.PairID]
	if !ok {
		return fmt.Errorf("pair %d has no book", res.PairID)
	}
	if res.Order == nil {
		return fmt.Errorf("submit result without order")
	}
	// The replica already assigned ID and Sequence; inserting the same
	// values keeps both books byte-identical.
	o := *res.Order
	if _, err := b.Insert(&o); err != nil {
		return err
	}
	c.updateCountersLocked(res.PairID, 0)
	c.publish(events.OrderSubmitted(res.PairID, uint64(b.TotalOrders())))
	return nil
}

func (c *Coordinator) applyCancelLocked(res mpc.Result) error {
	b, ok := c.books[res.PairID]
	if !ok {
		return fmt.Errorf("pair %d has no book", res.PairID)
	}
	if _, err := b.Remove(res.OrderID); err != nil {
		return err
	}
	c.updateCountersLocked(res.PairID, 0)
	c.publish(events.OrderCancelled(res.PairID, res.OrderID))
	return nil
}

func (c *Coordinator) applyMatchLocked(res mpc.Result) error {
	b, ok := c.books[res.PairID]
	if !ok {
		return fmt.Errorf("pair %d has no book", res.PairID)
	}
	// Matching is deterministic, so replaying it here must reproduce
	// the replica's trades exactly.
	trades, next := book.Match(b)
	if len(trades) != len(res.Trades) {
		return fmt.Errorf("match divergence: local %d trades, cluster %d",
			len(trades), len(res.Trades))
	}
	c.books[res.PairID] = next

	pr, err := c.registry.Get(res.PairID)
	if err != nil {
		return err
	}
	journalBase := pr.TradeCount
	c.updateCountersLocked(res.PairID, uint64(len(trades)))
	c.publish(events.OrdersMatched(res.PairID, len(trades)))

	if c.store != nil {
		now := c.clock.Now()
		for i, tr := range trades {
			rec := storage.TradeRecord{
				PairID: res.PairID,
				Seq:    journalBase + uint64(i) + 1,
				Trade:  tr,
				At:     now,
			}
			if err := c.store.AppendTrade(rec); err != nil {
				c.log.Errorw("trade journal append failed", "err", err)
			}
		}
	}
	if c.settler != nil && len(trades) > 0 {
		if err := c.settler.Settle(res.PairID, pr.BaseAsset, pr.QuoteAsset, trades); err != nil {
			// Settlement failures are recorded by the executor; the
			// matched book state stands.
			c.log.Warnw("settlement incomplete", "pair", res.PairID, "err", err)
		}
	}
	return nil
}

func (c *Coordinator) updateCountersLocked(pairID uint64, newTrades uint64) {
	b := c.books[pairID]
	c.registry.ApplyCounters(pairID, uint64(b.TotalOrders()), b.Version(), newTrades)
}

// Sweep times out overdue computations and frees their pairs. It
// returns how many computations expired.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var expired int
	for _, p := range c.pending {
		if p.Status != StatusRequested || now.Before(p.Deadline) {
			continue
		}
		p.Status = StatusTimedOut
		p.Reason = "finalize deadline exceeded"
		p.FinalizedAt = now
		c.persist(p)
		expired++

		c.registry.EndComputation(p.PairID, p.ID)
		c.log.Warnw("computation timed out",
			"cid", p.ID, "pair", p.PairID, "kind", p.Kind.String())
		c.dispatchNextLocked(p.PairID)
	}
	return expired
}

// dispatchNextLocked promotes the oldest queued request for a pair, if
// the fifo policy holds one.
func (c *Coordinator) dispatchNextLocked(pairID uint64) {
	q := c.queues[pairID]
	if len(q) == 0 {
		return
	}
	req := q[0]
	c.queues[pairID] = q[1:]

	if err := c.registry.BeginComputation(pairID, req.ID); err != nil {
		p := c.pending[req.ID]
		p.Status = StatusRejected
		p.Reason = err.Error()
		p.FinalizedAt = c.clock.Now()
		c.persist(p)
		c.dispatchNextLocked(pairID)
		return
	}
	if err := c.cluster.Submit(context.Background(), req); err != nil {
		c.registry.EndComputation(pairID, req.ID)
		p := c.pending[req.ID]
		p.Status = StatusRejected
		p.Reason = err.Error()
		p.FinalizedAt = c.clock.Now()
		c.persist(p)
		c.dispatchNextLocked(pairID)
		return
	}
	p := c.pending[req.ID]
	p.Status = StatusRequested
	p.RequestedAt = c.clock.Now()
	p.Deadline = p.RequestedAt.Add(c.deadline)
	c.persist(p)
}

func (c *Coordinator) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Coordinator) persist(p *Pending) {
	if c.store == nil {
		return
	}
	rec := storage.PendingRecord{
		ID:          p.ID,
		PairID:      p.PairID,
		Kind:        p.Kind.String(),
		Status:      string(p.Status),
		RequestedAt: p.RequestedAt,
	}
	if err := c.store.SavePending(rec); err != nil {
		c.log.Errorw("failed to persist pending record", "cid", p.ID, "err", err)
	}
}
