package mpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

// Kind identifies one of the cluster's computation circuits.
type Kind int8

const (
	KindInitBook Kind = iota
	KindSubmit
	KindCancel
	KindMatch
)

func (k Kind) String() string {
	switch k {
	case KindInitBook:
		return "InitBook"
	case KindSubmit:
		return "Submit"
	case KindCancel:
		return "Cancel"
	case KindMatch:
		return "Match"
	default:
		return "Unknown"
	}
}

// Request is one queued computation. ID is the correlation id binding the
// request to its eventual result.
type Request struct {
	ID     uuid.UUID `json:"id"`
	PairID uint64    `json:"pair_id"`
	Kind   Kind      `json:"kind"`

	Envelope *Envelope `json:"envelope,omitempty"` // Submit
	OrderID  uint64    `json:"order_id,omitempty"` // Cancel
	Capacity int       `json:"capacity,omitempty"` // InitBook
}

// Result is the finalize payload for one computation. For submits it
// carries the decrypted order; that plaintext only ever exists inside the
// computation boundary and in the coordinator's apply path.
type Result struct {
	ID     uuid.UUID
	PairID uint64
	Kind   Kind

	OK     bool
	Reason string

	Order    *book.Order  // Submit
	OrderID  uint64       // Cancel
	Trades   []book.Trade // Match
	Capacity int          // InitBook echo
}

// Cluster is the computation cluster client the coordinator talks to.
// Submitting and receiving the finalize callback are separate suspension
// points; results arrive on the Results channel, possibly late, reordered
// across pairs, or duplicated.
type Cluster interface {
	Submit(ctx context.Context, req Request) error
	Results() <-chan Result
	Close() error
}

// LocalCluster runs a single computation node in-process. It is the
// single-node deployment mode and the test double for the gossip cluster.
type LocalCluster struct {
	node    *Node
	results chan Result
	quit    chan struct{}
	once    sync.Once
	delay   time.Duration // simulated cluster latency
}

func NewLocalCluster(node *Node, delay time.Duration) *LocalCluster {
	return &LocalCluster{
		node:    node,
		results: make(chan Result, 64),
		quit:    make(chan struct{}),
		delay:   delay,
	}
}

func (c *LocalCluster) Submit(ctx context.Context, req Request) error {
	if req.ID == uuid.Nil {
		return fmt.Errorf("request without correlation id")
	}
	go func() {
		if c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return
			case <-c.quit:
				return
			}
		}
		select {
		case c.results <- c.node.Execute(req):
		case <-ctx.Done():
		case <-c.quit:
		}
	}()
	return nil
}

func (c *LocalCluster) Results() <-chan Result { return c.results }

func (c *LocalCluster) Close() error {
	c.once.Do(func() { close(c.quit) })
	return nil
}
