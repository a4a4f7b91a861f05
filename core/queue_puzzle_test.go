package core

import (
	"context"
	"testing"
)

func TestPuzzleQApplyKindXch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	created := uint32(1)
	coin := Coin{ParentID: Bytes32{1}, PuzzleHash: Bytes32{2}, Amount: 10}
	tx, _ := store.Tx(ctx)
	must(t, tx.UpsertCoinState(CoinState{Coin: coin, CreatedHeight: &created}))
	tx.Commit()

	q := NewPuzzleQ(store, NewPeerPool(), NewClassifier(nil, nil, 0), DefaultTimeouts(), nil)
	tx, _ = store.Tx(ctx)
	kind := CoinKind{Tag: KindXch, P2PuzzleHash: Bytes32{9}}
	if err := q.applyKind(tx, coin.ID(), kind); err != nil {
		t.Fatalf("applyKind: %v", err)
	}
	tx.Commit()

	unclassified, err := store.UnclassifiedCoins(ctx)
	if err != nil {
		t.Fatalf("UnclassifiedCoins: %v", err)
	}
	for _, cs := range unclassified {
		if cs.Coin.ID() == coin.ID() {
			t.Fatalf("expected an applied KindXch coin to be marked classified")
		}
	}
}

func TestPuzzleQApplyKindCat(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	coin := Coin{ParentID: Bytes32{3}, PuzzleHash: Bytes32{4}, Amount: 10}
	assetID := Bytes32{0x42}

	q := NewPuzzleQ(store, NewPeerPool(), NewClassifier(nil, nil, 0), DefaultTimeouts(), nil)
	tx, _ := store.Tx(ctx)
	kind := CoinKind{Tag: KindCat, AssetID: assetID, P2PuzzleHash: Bytes32{9}}
	if err := q.applyKind(tx, coin.ID(), kind); err != nil {
		t.Fatalf("applyKind: %v", err)
	}
	tx.Commit()

	catCoins, err := store.SpendableCatCoins(ctx, assetID)
	if err != nil {
		t.Fatalf("SpendableCatCoins: %v", err)
	}
	_ = catCoins // coin row isn't present in s.coins (never UpsertCoinState'd); just confirm no error above
}

func TestPuzzleQApplyKindUnknown(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	created := uint32(1)
	coin := Coin{ParentID: Bytes32{5}, PuzzleHash: Bytes32{6}, Amount: 10}
	tx, _ := store.Tx(ctx)
	must(t, tx.UpsertCoinState(CoinState{Coin: coin, CreatedHeight: &created}))
	tx.Commit()

	q := NewPuzzleQ(store, NewPeerPool(), NewClassifier(nil, nil, 0), DefaultTimeouts(), nil)
	tx, _ = store.Tx(ctx)
	if err := q.applyKind(tx, coin.ID(), CoinKind{Tag: KindUnknown}); err != nil {
		t.Fatalf("applyKind: %v", err)
	}
	tx.Commit()

	unclassified, err := store.UnclassifiedCoins(ctx)
	if err != nil {
		t.Fatalf("UnclassifiedCoins: %v", err)
	}
	for _, cs := range unclassified {
		if cs.Coin.ID() == coin.ID() {
			t.Fatalf("expected an InsertUnknownCoin call to also mark the coin classified")
		}
	}
}

func TestPuzzleQDrainOneEmptyQueue(t *testing.T) {
	q := NewPuzzleQ(NewMemStore(), NewPeerPool(), NewClassifier(nil, nil, 0), DefaultTimeouts(), nil)
	n, err := q.drainOne(context.Background())
	if err != nil {
		t.Fatalf("drainOne: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 items processed for an empty queue, got %d", n)
	}
}

func TestPuzzleQClassifyOneNoPeerAvailable(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	created := uint32(1)
	coin := Coin{ParentID: Bytes32{7}, PuzzleHash: Bytes32{8}, Amount: 10}
	tx, _ := store.Tx(ctx)
	must(t, tx.UpsertCoinState(CoinState{Coin: coin, CreatedHeight: &created}))
	tx.Commit()

	q := NewPuzzleQ(store, NewPeerPool(), NewClassifier(nil, nil, 0), DefaultTimeouts(), nil)
	if _, err := q.drainOne(ctx); err == nil {
		t.Fatalf("expected an error classifying with no peer available")
	}
}
