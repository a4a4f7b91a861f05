package core

import (
	"context"
	"errors"
	"testing"
)

type fakeCatMetadataFetcher struct {
	name, ticker, desc, icon string
	err                      error
}

func (f fakeCatMetadataFetcher) Fetch(ctx context.Context, assetID Bytes32) (string, string, string, string, error) {
	return f.name, f.ticker, f.desc, f.icon, f.err
}

func seedUnfetchedAsset(t *testing.T, ctx context.Context, store *MemStore, hash Bytes32) {
	t.Helper()
	tx, err := store.Tx(ctx)
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := tx.UpsertAsset(Asset{Hash: hash}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCatInfoQDrainOneFetchesAndMarksFetched(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	hash := Bytes32{1}
	seedUnfetchedAsset(t, ctx, store, hash)

	fetcher := fakeCatMetadataFetcher{name: "Test Coin", ticker: "TST", desc: "a test asset", icon: "https://example.com/icon.png"}
	sink := &recordingSink{}
	q := NewCatInfoQ(store, fetcher, 0, sink)

	processed, err := q.drainOne(ctx)
	if err != nil {
		t.Fatalf("drainOne: %v", err)
	}
	if !processed {
		t.Fatalf("expected an asset to be processed")
	}

	if _, err := store.NextUnfetchedAsset(ctx); err == nil {
		t.Fatalf("expected no unfetched assets remaining")
	}
	if len(sink.events) != 1 || sink.events[0].Tag != EventCatInfo || sink.events[0].AssetID != hash {
		t.Fatalf("expected an EventCatInfo emission for the fetched asset, got %+v", sink.events)
	}
}

func TestCatInfoQDrainOneMarksFetchedEvenOnFetchError(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	hash := Bytes32{2}
	seedUnfetchedAsset(t, ctx, store, hash)

	fetcher := fakeCatMetadataFetcher{err: errors.New("metadata service unavailable")}
	q := NewCatInfoQ(store, fetcher, 0, nil)

	processed, err := q.drainOne(ctx)
	if err != nil {
		t.Fatalf("drainOne: %v", err)
	}
	if !processed {
		t.Fatalf("expected the asset to be marked processed despite the fetch error")
	}

	if _, err := store.NextUnfetchedAsset(ctx); err == nil {
		t.Fatalf("expected the asset to no longer be unfetched")
	}
}

func TestCatInfoQDrainOneNoneUnfetched(t *testing.T) {
	q := NewCatInfoQ(NewMemStore(), fakeCatMetadataFetcher{}, 0, nil)
	processed, err := q.drainOne(context.Background())
	if err != nil {
		t.Fatalf("drainOne: %v", err)
	}
	if processed {
		t.Fatalf("expected no asset to be processed when none are unfetched")
	}
}
