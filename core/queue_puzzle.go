package core

// PuzzleQ drains coins awaiting classification (spec §4.6). Grounded on the
// teacher's messages.go MessageQueue FIFO-over-mutex shape, generalized so
// the backing "slice" is the Store's UnclassifiedCoins work table instead
// of an in-memory queue, and each dequeued item is classified off the I/O
// path before a single write transaction lands its result.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// PuzzleQ classifies coins one at a time, FIFO, re-acquiring a peer per
// item so a slow peer only stalls its own item (spec §4.6 "Peer selection
// per item, not per batch").
type PuzzleQ struct {
	store      Store
	pool       *PeerPool
	classifier *Classifier
	timeouts   Timeouts
	logger     *logrus.Entry
	sink       EventSink
}

// NewPuzzleQ wires a PuzzleQ against its collaborators.
func NewPuzzleQ(store Store, pool *PeerPool, classifier *Classifier, timeouts Timeouts, sink EventSink) *PuzzleQ {
	return &PuzzleQ{
		store:      store,
		pool:       pool,
		classifier: classifier,
		timeouts:   timeouts,
		logger:     logrus.WithField("component", "puzzle-queue"),
		sink:       sink,
	}
}

// Run processes the queue until ctx is cancelled, sleeping idleDelay
// between empty polls.
func (q *PuzzleQ) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := q.drainOne(ctx)
		if err != nil {
			q.logger.Warnf("drain: %v", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
		}
	}
}

// drainOne processes a single unclassified coin, returning 1 if one was
// processed or 0 if the queue is currently empty.
func (q *PuzzleQ) drainOne(ctx context.Context) (int, error) {
	items, err := q.store.UnclassifiedCoins(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	item := items[0]
	if err := q.classifyOne(ctx, item); err != nil {
		return 0, err
	}
	return 1, nil
}

// classifyOne implements spec §4.6's five steps for a single coin.
func (q *PuzzleQ) classifyOne(ctx context.Context, child CoinState) error {
	peer, ok := q.pool.Acquire()
	if !ok {
		return errInternal("puzzle queue: no peer available", nil)
	}

	pctx, cancel := context.WithTimeout(ctx, q.timeouts.PuzzleFetch)
	parentStates, err := peer.RequestCoinState(pctx, []Bytes32{child.Coin.ParentID}, nil, Bytes32{}, false)
	cancel()
	if err != nil || len(parentStates) == 0 {
		// Peer timeout or rejection: leave the coin unclassified, caller
		// retries on the next drain (spec §4.6 step 5).
		return nil
	}
	parent := parentStates[0]
	if parent.CreatedHeight == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, q.timeouts.PuzzleFetch)
	reveal, solution, err := peer.RequestPuzzleAndSolution(sctx, parent.Coin.ID(), *parent.CreatedHeight)
	cancel()
	if err != nil {
		return nil
	}

	kind := q.classifier.Classify(parent.Coin, reveal, solution, child.Coin)

	tx, err := q.store.Tx(ctx)
	if err != nil {
		return err
	}
	if err := q.applyKind(tx, child.Coin.ID(), kind); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// applyKind implements spec §4.6 step 4: mark synced, insert the
// kind-specific row.
func (q *PuzzleQ) applyKind(tx Tx, id Bytes32, kind CoinKind) error {
	switch kind.Tag {
	case KindXch:
		return tx.MarkCoinSynced(id, &kind.P2PuzzleHash)
	case KindCat:
		if err := tx.InsertCatCoin(id, kind.AssetID, kind.LineageProof, kind.P2PuzzleHash); err != nil {
			return err
		}
		return tx.MarkCoinSynced(id, &kind.P2PuzzleHash)
	case KindNft:
		if err := tx.InsertNftCoin(id, *kind.Nft, kind.LineageProof, kind.P2PuzzleHash); err != nil {
			return err
		}
		return tx.MarkCoinSynced(id, &kind.P2PuzzleHash)
	case KindDid:
		if err := tx.InsertDidCoin(id, *kind.Did, kind.LineageProof, kind.P2PuzzleHash); err != nil {
			return err
		}
		return tx.MarkCoinSynced(id, &kind.P2PuzzleHash)
	case KindOption:
		if err := tx.InsertOptionCoin(id, *kind.Option, kind.LineageProof, kind.P2PuzzleHash); err != nil {
			return err
		}
		return tx.MarkCoinSynced(id, &kind.P2PuzzleHash)
	default:
		return tx.InsertUnknownCoin(id)
	}
}
