package mpc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

func newTestNode(t *testing.T) (*Node, KeyPair) {
	t.Helper()
	cluster, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return NewNode(cluster, nil), cluster
}

func submitReq(t *testing.T, client KeyPair, clusterPub [32]byte, pairID uint64, price, qty uint64, side book.Side) Request {
	t.Helper()
	env, err := SealOrder(client, clusterPub, pairID, price, qty, side, DeriveTrader(client.Public, pairID))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return Request{ID: uuid.New(), PairID: pairID, Kind: KindSubmit, Envelope: env}
}

func TestNodeSubmitAndMatch(t *testing.T) {
	node, cluster := newTestNode(t)
	client, _ := GenerateKeyPair()

	res := node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 10})
	if !res.OK {
		t.Fatalf("init rejected: %s", res.Reason)
	}

	buy := node.Execute(submitReq(t, client, cluster.Public, 1, 100, 10, book.Buy))
	if !buy.OK || buy.Order == nil {
		t.Fatalf("buy rejected: %s", buy.Reason)
	}
	if buy.Order.ID == 0 || buy.Order.Sequence == 0 {
		t.Fatalf("order missing id/sequence: %+v", buy.Order)
	}

	sell := node.Execute(submitReq(t, client, cluster.Public, 1, 95, 5, book.Sell))
	if !sell.OK {
		t.Fatalf("sell rejected: %s", sell.Reason)
	}

	match := node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindMatch})
	if !match.OK || len(match.Trades) != 1 {
		t.Fatalf("match: ok=%v trades=%d", match.OK, len(match.Trades))
	}
	if match.Trades[0].Price != 95 || match.Trades[0].Quantity != 5 {
		t.Fatalf("trade %+v", match.Trades[0])
	}
}

func TestNodeRejections(t *testing.T) {
	node, cluster := newTestNode(t)
	client, _ := GenerateKeyPair()

	tests := []struct {
		name string
		req  func() Request
	}{
		{
			name: "submit before init",
			req: func() Request {
				return submitReq(t, client, cluster.Public, 42, 10, 1, book.Buy)
			},
		},
		{
			name: "cancel before init",
			req: func() Request {
				return Request{ID: uuid.New(), PairID: 42, Kind: KindCancel, OrderID: 1}
			},
		},
		{
			name: "match before init",
			req: func() Request {
				return Request{ID: uuid.New(), PairID: 42, Kind: KindMatch}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := node.Execute(tt.req()); res.OK {
				t.Errorf("request accepted, want rejection")
			}
		})
	}
}

func TestNodeRejectsOverflowingCost(t *testing.T) {
	node, cluster := newTestNode(t)
	client, _ := GenerateKeyPair()

	node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 10})

	// price*quantity exceeds uint64, so the order can never settle.
	res := node.Execute(submitReq(t, client, cluster.Public, 1, 6148914691236517206, 3, book.Buy))
	if res.OK {
		t.Fatalf("overflowing order accepted")
	}
	if res.Reason != "quote cost overflows uint64" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestNodeCapacityRejection(t *testing.T) {
	node, cluster := newTestNode(t)
	client, _ := GenerateKeyPair()

	node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 2})
	for i := 0; i < 2; i++ {
		if res := node.Execute(submitReq(t, client, cluster.Public, 1, uint64(100+i), 1, book.Buy)); !res.OK {
			t.Fatalf("submit %d rejected: %s", i, res.Reason)
		}
	}

	res := node.Execute(submitReq(t, client, cluster.Public, 1, 200, 1, book.Buy))
	if res.OK {
		t.Fatalf("submit beyond capacity accepted")
	}
	if res.Reason != "book side at capacity" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestNodeCancel(t *testing.T) {
	node, cluster := newTestNode(t)
	client, _ := GenerateKeyPair()

	node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 10})
	res := node.Execute(submitReq(t, client, cluster.Public, 1, 100, 3, book.Buy))
	if !res.OK {
		t.Fatalf("submit: %s", res.Reason)
	}

	cancel := node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindCancel, OrderID: res.Order.ID})
	if !cancel.OK || cancel.OrderID != res.Order.ID {
		t.Fatalf("cancel: %+v", cancel)
	}

	again := node.Execute(Request{ID: uuid.New(), PairID: 1, Kind: KindCancel, OrderID: res.Order.ID})
	if again.OK {
		t.Fatalf("cancel of gone order accepted")
	}
}

func TestLocalClusterDeliversAsync(t *testing.T) {
	node, _ := newTestNode(t)
	cl := NewLocalCluster(node, 0)

	req := Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 4}
	if err := cl.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case res := <-cl.Results():
		if res.ID != req.ID || !res.OK {
			t.Fatalf("result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result delivered")
	}

	if err := cl.Submit(context.Background(), Request{PairID: 1, Kind: KindMatch}); err == nil {
		t.Fatalf("submit without correlation id accepted")
	}
}

func TestLocalClusterCloseDropsInFlight(t *testing.T) {
	node, _ := newTestNode(t)
	cl := NewLocalCluster(node, 20*time.Millisecond)

	req := Request{ID: uuid.New(), PairID: 1, Kind: KindInitBook, Capacity: 4}
	if err := cl.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case res := <-cl.Results():
		t.Fatalf("result delivered after close: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}
