package mpc

import (
	"errors"
	"math/bits"
	"sync"

	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

// Node executes the computation circuits over plaintext order books. In a
// real deployment every cluster node holds only a secret share; here one
// node stands in for the whole cluster, and the plaintext books it owns
// never leave this package except through typed results.
type Node struct {
	mu    sync.Mutex
	key   KeyPair
	books map[uint64]*book.OrderBook
	log   *zap.SugaredLogger
}

func NewNode(key KeyPair, log *zap.SugaredLogger) *Node {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Node{
		key:   key,
		books: make(map[uint64]*book.OrderBook),
		log:   log,
	}
}

// PublicKey is the cluster key clients encrypt order fields to.
func (n *Node) PublicKey() [32]byte { return n.key.Public }

// Execute runs one circuit and produces the finalize result. Rejected
// results leave the node's book untouched.
func (n *Node) Execute(req Request) Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	res := Result{ID: req.ID, PairID: req.PairID, Kind: req.Kind}

	switch req.Kind {
	case KindInitBook:
		capacity := req.Capacity
		if capacity <= 0 {
			capacity = 10
		}
		n.books[req.PairID] = book.New(capacity)
		res.Capacity = capacity
		res.OK = true

	case KindSubmit:
		b, ok := n.books[req.PairID]
		if !ok {
			return reject(res, "book not initialized")
		}
		order, err := OpenOrder(n.key.Secret, req.PairID, req.Envelope)
		if err != nil {
			n.log.Warnw("envelope_rejected", "pair", req.PairID, "err", err)
			return reject(res, "envelope decryption failed")
		}
		if hi, _ := bits.Mul64(order.Price, order.Quantity); hi != 0 {
			return reject(res, "quote cost overflows uint64")
		}
		if _, err := b.Insert(order); err != nil {
			switch {
			case errors.Is(err, book.ErrCapacity):
				return reject(res, "book side at capacity")
			case errors.Is(err, book.ErrValidation):
				return reject(res, "invalid order")
			default:
				return reject(res, err.Error())
			}
		}
		cp := *order
		res.Order = &cp
		res.OK = true

	case KindCancel:
		b, ok := n.books[req.PairID]
		if !ok {
			return reject(res, "book not initialized")
		}
		if _, err := b.Remove(req.OrderID); err != nil {
			return reject(res, "order not found")
		}
		res.OrderID = req.OrderID
		res.OK = true

	case KindMatch:
		b, ok := n.books[req.PairID]
		if !ok {
			return reject(res, "book not initialized")
		}
		trades, nb := book.Match(b)
		n.books[req.PairID] = nb
		res.Trades = trades
		res.OK = true

	default:
		return reject(res, "unknown computation kind")
	}

	return res
}

func reject(res Result, reason string) Result {
	res.OK = false
	res.Reason = reason
	return res
}
