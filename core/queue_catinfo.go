package core

// CatInfoQ resolves CAT asset metadata from an external service (spec
// §4.8): one asset id at a time (batch size 1, spec §5), writing an empty
// "fetched" record on timeout/error so the entry is never retried in a
// tight loop.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CatMetadataFetcher is the external metadata-service collaborator (spec
// §4.8's "external metadata service").
type CatMetadataFetcher interface {
	Fetch(ctx context.Context, assetID Bytes32) (name, ticker, description, iconURL string, err error)
}

// CatInfoQ drains unfetched CAT asset metadata.
type CatInfoQ struct {
	store    Store
	fetcher  CatMetadataFetcher
	timeout  time.Duration
	logger   *logrus.Entry
	sink     EventSink
}

// NewCatInfoQ wires a CatInfoQ; timeout matches spec §5's CatMetadata
// constant (10s) unless overridden.
func NewCatInfoQ(store Store, fetcher CatMetadataFetcher, timeout time.Duration, sink EventSink) *CatInfoQ {
	return &CatInfoQ{store: store, fetcher: fetcher, timeout: timeout, logger: logrus.WithField("component", "cat-info-queue"), sink: sink}
}

// Run drains the queue until ctx is cancelled.
func (q *CatInfoQ) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		processed, err := q.drainOne(ctx)
		if err != nil {
			q.logger.Warnf("drain: %v", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
		}
	}
}

func (q *CatInfoQ) drainOne(ctx context.Context) (bool, error) {
	asset, err := q.store.NextUnfetchedAsset(ctx)
	if err != nil {
		return false, nil // none pending; not an error condition
	}

	fctx, cancel := context.WithTimeout(ctx, q.timeout)
	name, ticker, desc, icon, ferr := q.fetcher.Fetch(fctx, asset.Hash)
	cancel()

	updated := *asset
	updated.MetadataFetched = true
	if ferr == nil {
		updated.Name = &name
		updated.Ticker = &ticker
		updated.Description = &desc
		updated.IconURL = &icon
	} else {
		q.logger.Debugf("cat metadata fetch %x: %v", asset.Hash, ferr)
	}

	tx, err := q.store.Tx(ctx)
	if err != nil {
		return false, err
	}
	if err := tx.UpsertAsset(updated); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	if q.sink != nil {
		q.sink.HandleSyncEvent(SyncEvent{Tag: EventCatInfo, AssetID: asset.Hash})
	}
	return true, nil
}
