package core

// PendingTxQ walks pending transactions (spec §4.9), asking an acquired
// peer whether every output coin has confirmed on-chain, expiring stale
// transactions past their expiration_height, or resubmitting otherwise.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// PendingTxQ drains the pending-transaction table once per tick.
type PendingTxQ struct {
	store  Store
	pool   *PeerPool
	sink   EventSink
	logger *logrus.Entry
}

// NewPendingTxQ wires a PendingTxQ.
func NewPendingTxQ(store Store, pool *PeerPool, sink EventSink) *PendingTxQ {
	return &PendingTxQ{store: store, pool: pool, sink: sink, logger: logrus.WithField("component", "pending-tx-queue")}
}

// Run ticks every interval until ctx is cancelled.
func (q *PendingTxQ) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.tick(ctx); err != nil {
				q.logger.Warnf("tick: %v", err)
			}
		}
	}
}

func (q *PendingTxQ) tick(ctx context.Context) error {
	tx, err := q.store.Tx(ctx)
	if err != nil {
		return err
	}
	pending, err := tx.PendingTransactions()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	peak, err := q.store.LatestPeak(ctx)
	if err != nil {
		return nil // no peak yet, nothing to check against
	}

	for _, ptx := range pending {
		q.processOne(ctx, ptx, peak.Height)
	}
	return nil
}

// processOne implements spec §4.9's three outcomes for a single pending
// transaction.
func (q *PendingTxQ) processOne(ctx context.Context, ptx PendingTransaction, currentPeak uint32) {
	peer, ok := q.pool.Acquire()
	if !ok {
		return // resubmit next tick
	}

	if len(ptx.OutputCoinIDs) > 0 {
		states, err := peer.RequestCoinState(ctx, ptx.OutputCoinIDs, nil, Bytes32{}, false)
		if err == nil && allConfirmed(states, currentPeak) {
			q.confirm(ctx, ptx)
			return
		}
	}

	if ptx.ExpirationHeight != nil && currentPeak > *ptx.ExpirationHeight {
		q.expire(ctx, ptx)
		return
	}

	// Otherwise: resubmit (spec §4.9 "Otherwise: resubmit").
	_ = peer.SendTransaction(ctx, encodePendingTransaction(ptx))
}

func allConfirmed(states []CoinState, currentPeak uint32) bool {
	if len(states) == 0 {
		return false
	}
	for _, cs := range states {
		if cs.CreatedHeight == nil || *cs.CreatedHeight > currentPeak {
			return false
		}
	}
	return true
}

func (q *PendingTxQ) confirm(ctx context.Context, ptx PendingTransaction) {
	tx, err := q.store.Tx(ctx)
	if err != nil {
		return
	}
	if err := tx.MarkTransactionConfirmed(ptx.TxID); err != nil {
		_ = tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		return
	}
	if q.sink != nil {
		q.sink.HandleSyncEvent(SyncEvent{Tag: EventTransactionEnded, TxID: ptx.TxID, Success: true})
	}
}

func (q *PendingTxQ) expire(ctx context.Context, ptx PendingTransaction) {
	tx, err := q.store.Tx(ctx)
	if err != nil {
		return
	}
	if err := tx.RollbackPendingTransaction(ptx.TxID); err != nil {
		_ = tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		return
	}
	if q.sink != nil {
		q.sink.HandleSyncEvent(SyncEvent{Tag: EventTransactionEnded, TxID: ptx.TxID, Success: false})
	}
}

// encodePendingTransaction serializes a pending transaction's spend bundle
// for resubmission. The wire encoding matches TxBuilder's Emit output
// (spec §4.10 step 8): sequential length-prefixed CoinSpends followed by
// the aggregated signature.
func encodePendingTransaction(ptx PendingTransaction) []byte {
	return encodeSpendBundle(ptx.Spends, ptx.AggregatedSignature)
}
