package main

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cloudflare/circl/dh/x25519"
	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/exchange/coordinator"
	"github.com/umbral-exchange/umbral/pkg/exchange/pair"
	"github.com/umbral-exchange/umbral/pkg/ledger"
	"github.com/umbral-exchange/umbral/pkg/mpc"
)

// feederConfig controls the demo order feeder. The feeder creates a
// market and submits sealed orders around a drifting mid price, which
// exercises the whole request/finalize pipeline on a devnet.
type feederConfig struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	NumTraders int
	Interval   time.Duration
	MatchEvery int // trigger a match after this many submits
}

func defaultFeederConfig() feederConfig {
	return feederConfig{
		Symbol:     "SOL-USDC",
		BaseAsset:  "SOL",
		QuoteAsset: "USDC",
		NumTraders: 8,
		Interval:   500 * time.Millisecond,
		MatchEvery: 6,
	}
}

// startFeeder runs the demo traffic loop until ctx is cancelled. Only
// usable in local cluster mode: sealing needs the cluster public key.
func startFeeder(ctx context.Context, coord *coordinator.Coordinator, reg *pair.Registry,
	lm *ledger.Manager, clusterPub x25519.Key, cfg feederConfig, log *zap.SugaredLogger) {

	go func() {
		pairID, _, err := coord.CreatePair(ctx, cfg.Symbol, cfg.BaseAsset, cfg.QuoteAsset, 0)
		if err != nil {
			log.Errorw("feeder_pair_create_failed", "err", err)
			return
		}

		// Wait for the init computation to finalize.
		for {
			p, err := reg.Get(pairID)
			if err == nil && p.Active {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		traders := make([]mpc.KeyPair, cfg.NumTraders)
		for i := range traders {
			kp, err := mpc.GenerateKeyPair()
			if err != nil {
				log.Errorw("feeder_keygen_failed", "err", err)
				return
			}
			traders[i] = kp
			handle := mpc.DeriveTrader(kp.Public, pairID)
			lm.Deposit(handle, cfg.BaseAsset, 1_000_000)
			lm.Deposit(handle, cfg.QuoteAsset, 100_000_000)
		}

		log.Infow("feeder_started", "pair", pairID, "symbol", cfg.Symbol,
			"traders", cfg.NumTraders, "interval", cfg.Interval)

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		mid := uint64(100)
		submits := 0
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			// Random walk the mid price, floor at 10 ticks.
			if rng.Intn(2) == 0 && mid > 10 {
				mid--
			} else {
				mid++
			}

			if submits > 0 && submits%cfg.MatchEvery == 0 {
				if _, err := coord.TriggerMatch(ctx, pairID); err != nil && !errors.Is(err, pair.ErrBusy) {
					log.Warnw("feeder_match_failed", "err", err)
				}
				submits++
				continue
			}

			client := traders[rng.Intn(len(traders))]
			side := book.Buy
			price := mid + uint64(rng.Intn(3))
			if rng.Intn(2) == 0 {
				side = book.Sell
				price = mid - uint64(rng.Intn(3))
			}
			qty := uint64(1 + rng.Intn(10))

			env, err := mpc.SealOrder(client, clusterPub, pairID, price, qty, side,
				mpc.DeriveTrader(client.Public, pairID))
			if err != nil {
				log.Warnw("feeder_seal_failed", "err", err)
				continue
			}
			_, err = coord.SubmitOrder(ctx, pairID, env)
			switch {
			case err == nil:
				submits++
			case errors.Is(err, pair.ErrBusy):
				// Slot taken, try again next tick.
			case errors.Is(err, book.ErrValidation):
				log.Warnw("feeder_submit_rejected", "err", err)
			default:
				log.Warnw("feeder_submit_failed", "err", err)
			}
		}
	}()
}
