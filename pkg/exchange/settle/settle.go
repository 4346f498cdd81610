package settle

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/events"
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/ledger"
	"github.com/umbral-exchange/umbral/pkg/storage"
)

var ErrSettlement = errors.New("settle: transfer failed")

// Ledger moves revealed amounts between trader handles. TransferBatch
// applies every leg or none of them.
type Ledger interface {
	TransferBatch(legs []ledger.Leg) error
}

// FailureLog persists trades whose transfers failed so operators can
// reconcile them later. Matched book state is never rolled back.
type FailureLog interface {
	RecordSettlementFailure(rec storage.SettlementFailure) error
}

// Executor turns matched trades into asset transfers. Each trade moves
// the base quantity from seller to buyer and quantity*price of the
// quote asset from buyer to seller, both legs together or not at all.
// Trades inside one batch settle independently: a failed trade is
// recorded and the rest still execute.
type Executor struct {
	ledger   Ledger
	failures FailureLog
	bus      *events.Bus
	log      *zap.SugaredLogger
}

func NewExecutor(l Ledger, failures FailureLog, bus *events.Bus, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{ledger: l, failures: failures, bus: bus, log: log}
}

// Settle executes the transfers for a batch of trades on one pair.
// It returns ErrSettlement (wrapped) if any trade failed, after every
// trade in the batch has been attempted.
func (e *Executor) Settle(pairID uint64, baseAsset, quoteAsset string, trades []book.Trade) error {
	var failed int
	for _, tr := range trades {
		if err := e.settleOne(pairID, baseAsset, quoteAsset, tr); err != nil {
			failed++
			e.recordFailure(pairID, tr, err)
		} else if e.bus != nil {
			e.bus.Publish(events.TradeExecuted(pairID, tr))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d trades", ErrSettlement, failed, len(trades))
	}
	return nil
}

func (e *Executor) settleOne(pairID uint64, baseAsset, quoteAsset string, tr book.Trade) error {
	if tr.Quantity == 0 {
		return errors.New("zero quantity trade")
	}
	hi, cost := bits.Mul64(tr.Price, tr.Quantity)
	if hi != 0 {
		return fmt.Errorf("quote cost overflows uint64: price=%d quantity=%d", tr.Price, tr.Quantity)
	}
	legs := []ledger.Leg{
		{From: tr.Seller, To: tr.Buyer, Asset: baseAsset, Amount: tr.Quantity},
		{From: tr.Buyer, To: tr.Seller, Asset: quoteAsset, Amount: cost},
	}
	return e.ledger.TransferBatch(legs)
}

func (e *Executor) recordFailure(pairID uint64, tr book.Trade, cause error) {
	e.log.Warnw("trade settlement failed",
		"pair", pairID,
		"buy_order", tr.BuyOrderID,
		"sell_order", tr.SellOrderID,
		"err", cause,
	)
	if e.bus != nil {
		e.bus.Publish(events.SettlementFailed(pairID, tr, cause.Error()))
	}
	if e.failures == nil {
		return
	}
	rec := storage.SettlementFailure{
		PairID: pairID,
		Seq:    tr.Sequence,
		Trade:  tr,
		Reason: cause.Error(),
		At:     time.Now().UTC(),
	}
	if err := e.failures.RecordSettlementFailure(rec); err != nil {
		e.log.Errorw("failed to persist settlement failure", "err", err)
	}
}
