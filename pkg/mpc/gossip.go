package mpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/google/uuid"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

const (
	topicRequests = "umbral-compute-req"
	topicResults  = "umbral-compute-res"
)

// GossipConfig configures either end of the gossip compute transport.
type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func newGossipHost(ctx context.Context, cfg GossipConfig) (host.Host, *pubsub.PubSub, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}
	return h, ps, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// resultWire is the gossip form of a Result. Trades and identifiers are
// public by design; a submit result's decrypted order is re-sealed to the
// coordinator key so plaintext never crosses the wire.
type resultWire struct {
	ID     string `json:"id"`
	PairID uint64 `json:"pair_id"`
	Kind   Kind   `json:"kind"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`

	Sealed   *Envelope   `json:"sealed,omitempty"`
	OrderRef uint64      `json:"order_ref,omitempty"` // assigned order id (submit) or cancelled id
	OrderSeq uint64      `json:"order_seq,omitempty"`
	Trades   []tradeWire `json:"trades,omitempty"`
	Capacity int         `json:"capacity,omitempty"` // init echo
}

func (w resultWire) toResult() (Result, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return Result{}, fmt.Errorf("correlation id: %w", err)
	}
	res := Result{ID: id, PairID: w.PairID, Kind: w.Kind, OK: w.OK, Reason: w.Reason, Capacity: w.Capacity}
	if w.Kind == KindCancel {
		res.OrderID = w.OrderRef
	}
	for _, tw := range w.Trades {
		buyer, err := book.ParseTraderID(tw.Buyer)
		if err != nil {
			return Result{}, err
		}
		seller, err := book.ParseTraderID(tw.Seller)
		if err != nil {
			return Result{}, err
		}
		res.Trades = append(res.Trades, book.Trade{
			BuyOrderID:  tw.BuyOrderID,
			SellOrderID: tw.SellOrderID,
			Buyer:       buyer,
			Seller:      seller,
			Price:       tw.Price,
			Quantity:    tw.Quantity,
			Sequence:    tw.Sequence,
		})
	}
	return res, nil
}

type tradeWire struct {
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	Sequence    uint64 `json:"sequence"`
}

// GossipCluster is the coordinator-side client of a gossip-connected
// computation cluster: requests out on one topic, finalize results in on
// another. Adapted signal flow: publish, then observe the callback topic;
// nothing blocks awaiting a specific result.
type GossipCluster struct {
	h       host.Host
	ps      *pubsub.PubSub
	tReq    *pubsub.Topic
	subRes  *pubsub.Subscription
	results chan Result
	log     *zap.SugaredLogger

	key        KeyPair    // coordinator identity, results are sealed to this
	clusterPub x25519.Key // cluster identity
}

func NewGossipCluster(ctx context.Context, cfg GossipConfig, key KeyPair, clusterPub x25519.Key) (*GossipCluster, error) {
	h, ps, err := newGossipHost(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &GossipCluster{
		h:          h,
		ps:         ps,
		results:    make(chan Result, 64),
		log:        cfg.Logger,
		key:        key,
		clusterPub: clusterPub,
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}

	if c.tReq, err = ps.Join(topicRequests); err != nil {
		h.Close()
		return nil, err
	}
	tRes, err := ps.Join(topicResults)
	if err != nil {
		h.Close()
		return nil, err
	}
	if c.subRes, err = tRes.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	go c.recvLoop(ctx)
	c.log.Infow("gossip_cluster_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return c, nil
}

func (c *GossipCluster) Submit(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.tReq.Publish(ctx, data)
}

func (c *GossipCluster) Results() <-chan Result { return c.results }

func (c *GossipCluster) Close() error { return c.h.Close() }

func (c *GossipCluster) recvLoop(ctx context.Context) {
	for {
		msg, err := c.subRes.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == c.h.ID() {
			continue
		}
		res, err := c.decodeResult(msg.Data)
		if err != nil {
			c.log.Warnw("result_decode_failed", "err", err)
			continue
		}
		select {
		case c.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (c *GossipCluster) decodeResult(data []byte) (Result, error) {
	var w resultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Result{}, err
	}
	res, err := w.toResult()
	if err != nil {
		return Result{}, err
	}
	if w.Sealed != nil {
		order, err := OpenOrder(c.key.Secret, w.PairID, w.Sealed)
		if err != nil {
			return Result{}, fmt.Errorf("unseal result order: %w", err)
		}
		order.ID = w.OrderRef
		order.Sequence = w.OrderSeq
		res.Order = order
	}
	return res, nil
}

// GossipNode runs a computation node against the gossip transport:
// requests in, sealed results out.
type GossipNode struct {
	h      host.Host
	tRes   *pubsub.Topic
	subReq *pubsub.Subscription
	node   *Node
	log    *zap.SugaredLogger

	coordinatorPub x25519.Key
}

func NewGossipNode(ctx context.Context, cfg GossipConfig, node *Node, coordinatorPub x25519.Key) (*GossipNode, error) {
	h, ps, err := newGossipHost(ctx, cfg)
	if err != nil {
		return nil, err
	}

	n := &GossipNode{
		h:              h,
		node:           node,
		log:            cfg.Logger,
		coordinatorPub: coordinatorPub,
	}
	if n.log == nil {
		n.log = zap.NewNop().Sugar()
	}

	tReq, err := ps.Join(topicRequests)
	if err != nil {
		h.Close()
		return nil, err
	}
	if n.subReq, err = tReq.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}
	if n.tRes, err = ps.Join(topicResults); err != nil {
		h.Close()
		return nil, err
	}

	go n.serveLoop(ctx)
	n.log.Infow("gossip_node_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return n, nil
}

func (n *GossipNode) Close() error { return n.h.Close() }

func (n *GossipNode) serveLoop(ctx context.Context) {
	for {
		msg, err := n.subReq.Next(ctx)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			n.log.Warnw("request_decode_failed", "err", err)
			continue
		}

		res := n.node.Execute(req)
		wire, err := n.encodeResult(res)
		if err != nil {
			n.log.Errorw("result_encode_failed", "id", res.ID, "err", err)
			continue
		}
		if err := n.tRes.Publish(ctx, wire); err != nil {
			n.log.Warnw("result_publish_failed", "id", res.ID, "err", err)
		}
	}
}

func (n *GossipNode) encodeResult(res Result) ([]byte, error) {
	w := resultWire{
		ID:       res.ID.String(),
		PairID:   res.PairID,
		Kind:     res.Kind,
		OK:       res.OK,
		Reason:   res.Reason,
		Capacity: res.Capacity,
	}
	if res.Order != nil {
		sealed, err := SealOrder(n.node.key, n.coordinatorPub, res.PairID,
			res.Order.Price, res.Order.Quantity, res.Order.Side, res.Order.Trader)
		if err != nil {
			return nil, err
		}
		w.Sealed = sealed
		w.OrderRef = res.Order.ID
		w.OrderSeq = res.Order.Sequence
	}
	if res.Kind == KindCancel {
		w.OrderRef = res.OrderID
	}
	for _, tr := range res.Trades {
		w.Trades = append(w.Trades, tradeWire{
			BuyOrderID:  tr.BuyOrderID,
			SellOrderID: tr.SellOrderID,
			Buyer:       tr.Buyer.Hex(),
			Seller:      tr.Seller.Hex(),
			Price:       tr.Price,
			Quantity:    tr.Quantity,
			Sequence:    tr.Sequence,
		})
	}
	return json.Marshal(w)
}
