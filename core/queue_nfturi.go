package core

// NftUriQ resolves NFT/DID metadata URIs (spec §4.7): batches of <=30
// unchecked (uri, expected_hash) pairs, fetched in parallel bounded by the
// batch size, each verified against its on-chain metadata hash before
// anything is persisted. Grounded on storage.go's BlobCache for the
// fetch+verify+cache primitive and messages.go's FIFO-queue shape for the
// drain loop.

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const nftUriBatchSize = 30

// NftUriQ drains unchecked NFT metadata URIs.
type NftUriQ struct {
	store  Store
	blobs  *BlobCache
	logger *logrus.Entry
	sink   EventSink
}

// NewNftUriQ wires an NftUriQ.
func NewNftUriQ(store Store, blobs *BlobCache, sink EventSink) *NftUriQ {
	return &NftUriQ{store: store, blobs: blobs, logger: logrus.WithField("component", "nft-uri-queue"), sink: sink}
}

// Run drains the queue until ctx is cancelled, sleeping idleDelay between
// empty batches.
func (q *NftUriQ) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := q.drainBatch(ctx)
		if err != nil {
			q.logger.Warnf("drain batch: %v", err)
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

// drainBatch implements spec §4.7: fetch up to nftUriBatchSize tasks in
// parallel, verify each, persist results, emit SyncEvent::NftData.
func (q *NftUriQ) drainBatch(ctx context.Context) (int, error) {
	tasks, err := q.store.UncheckedNftUris(ctx, nftUriBatchSize)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	results := make([]bool, len(tasks))
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t NftUriTask) {
			defer wg.Done()
			results[i] = q.fetchOne(ctx, t)
		}(i, t)
	}
	wg.Wait()

	tx, err := q.store.Tx(ctx)
	if err != nil {
		return 0, err
	}
	for i, t := range tasks {
		mime := ""
		if results[i] {
			mime = "application/octet-stream"
		}
		if err := tx.MarkNftUriChecked(t.NftID, t.URI, results[i], mime); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if q.sink != nil {
		q.sink.HandleSyncEvent(SyncEvent{Tag: EventNftData})
	}
	return len(tasks), nil
}

// fetchOne fetches and hash-verifies a single URI, logging (not failing)
// on mismatch (spec §4.7 "log mismatch; do not store").
func (q *NftUriQ) fetchOne(ctx context.Context, t NftUriTask) bool {
	_, err := q.blobs.FetchAndVerify(ctx, t.URI, t.ExpectedHash)
	if err != nil {
		q.logger.Debugf("nft uri %s: %v", t.URI, err)
		return false
	}
	return true
}
