package api

import (
	"github.com/umbral-exchange/umbral/pkg/mpc"
)

// PairInfo is the public view of a market. Book contents are
// confidential; only counters leave the core.
type PairInfo struct {
	ID          uint64 `json:"id"`
	Symbol      string `json:"symbol"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	Active      bool   `json:"active"`
	TotalOrders uint64 `json:"total_orders"`
	BookVersion uint64 `json:"book_version"`
	TradeCount  uint64 `json:"trade_count"`
	Pending     string `json:"pending_computation,omitempty"`
}

type CreatePairRequest struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Capacity   int    `json:"capacity,omitempty"`
}

type CreatePairResponse struct {
	PairID        uint64 `json:"pair_id"`
	ComputationID string `json:"computation_id"`
}

// SubmitOrderRequest carries a sealed order envelope. The server never
// sees the plaintext fields.
type SubmitOrderRequest struct {
	PairID   uint64        `json:"pair_id"`
	Envelope *mpc.Envelope `json:"envelope"`
}

type SubmitOrderResponse struct {
	Status        string `json:"status"`
	ComputationID string `json:"computation_id"`
}

type CancelOrderRequest struct {
	PairID  uint64 `json:"pair_id"`
	OrderID uint64 `json:"order_id"`
}

type MatchResponse struct {
	Status        string `json:"status"`
	ComputationID string `json:"computation_id"`
}

// ComputationInfo reports the lifecycle state of one request.
type ComputationInfo struct {
	ID          string `json:"id"`
	PairID      uint64 `json:"pair_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	RequestedAt string `json:"requested_at"`
	FinalizedAt string `json:"finalized_at,omitempty"`
}

type TradeInfo struct {
	Seq         uint64 `json:"seq"`
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	At          string `json:"at"`
}

type BalancesResponse struct {
	Trader   string            `json:"trader"`
	Balances map[string]uint64 `json:"balances"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client->server control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
