package core

import (
	"context"
	"testing"
)

func TestEncodeDecodeOfferStringRoundTrip(t *testing.T) {
	spends := []CoinSpend{
		{Coin: Coin{ParentID: Bytes32{1}, PuzzleHash: Bytes32{2}, Amount: 10}, PuzzleReveal: []byte("p2:x"), Solution: []byte{1}},
		{Coin: Coin{ParentID: Bytes32{}, PuzzleHash: Bytes32{3}, Amount: 20}},
	}
	sig := []byte{0xde, 0xad, 0xbe, 0xef}

	encoded := EncodeOfferString(spends, sig)
	decoded, decodedSig, err := DecodeOfferString(encoded)
	if err != nil {
		t.Fatalf("DecodeOfferString: %v", err)
	}
	if len(decoded) != len(spends) {
		t.Fatalf("expected %d spends back, got %d", len(spends), len(decoded))
	}
	if decoded[0].Coin.Amount != 10 || decoded[1].Coin.Amount != 20 {
		t.Fatalf("round trip changed coin amounts: %+v", decoded)
	}
	if len(decodedSig) != len(sig) {
		t.Fatalf("expected signature to round trip, got %x", decodedSig)
	}
}

func TestSplitOfferSpendsSeparatesPhantomFromReal(t *testing.T) {
	spends := []CoinSpend{
		{Coin: Coin{ParentID: Bytes32{}, PuzzleHash: Bytes32{1}, Amount: 5}},
		{Coin: Coin{ParentID: Bytes32{0xaa}, PuzzleHash: Bytes32{2}, Amount: 7}},
	}
	requested, offered := SplitOfferSpends(spends)
	if len(requested) != 1 || requested[0].Coin.Amount != 5 {
		t.Fatalf("expected the phantom-parent spend to be requested, got %+v", requested)
	}
	if len(offered) != 1 || offered[0].Coin.Amount != 7 {
		t.Fatalf("expected the real-parent spend to be offered, got %+v", offered)
	}
}

func TestBuildOfferProducesPhantomRequestedSpend(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	kc := newTestKeychain(t)
	fundStore(t, ctx, store, kc, 1000)

	builder := NewTxBuilder(store, kc, nil, []byte("test-network"))
	requestedAsset := NewAssetID(1)
	offer, err := builder.BuildOffer(ctx, map[Id]uint64{requestedAsset: 50}, map[Id]uint64{{}: 100}, 5, nil)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}
	if offer.Status != OfferActive {
		t.Fatalf("expected a freshly built offer to be active, got %v", offer.Status)
	}
	if offer.OfferID.IsZero() {
		t.Fatalf("expected a non-zero offer id")
	}

	spends, _, err := DecodeOfferString(offer.EncodedOffer)
	if err != nil {
		t.Fatalf("DecodeOfferString: %v", err)
	}
	requested, offered := SplitOfferSpends(spends)
	if len(requested) != 1 || requested[0].Coin.Amount != 50 {
		t.Fatalf("expected one phantom requested spend for 50, got %+v", requested)
	}
	if len(offered) == 0 {
		t.Fatalf("expected at least one real offered spend")
	}
}

func TestAggregateOffersOrdersRequestedBeforeOffered(t *testing.T) {
	a := EncodeOfferString([]CoinSpend{
		{Coin: Coin{ParentID: Bytes32{0xaa}, PuzzleHash: Bytes32{1}, Amount: 1}},
	}, []byte{1, 2, 3})
	b := EncodeOfferString([]CoinSpend{
		{Coin: Coin{ParentID: Bytes32{}, PuzzleHash: Bytes32{2}, Amount: 2}},
	}, []byte{4, 5, 6})

	aggregated, err := AggregateOffers(a, b)
	if err != nil {
		t.Fatalf("AggregateOffers: %v", err)
	}
	spends, sig, err := DecodeOfferString(aggregated)
	if err != nil {
		t.Fatalf("DecodeOfferString: %v", err)
	}
	if len(spends) != 2 {
		t.Fatalf("expected 2 aggregated spends, got %d", len(spends))
	}
	if !spends[0].Coin.IsPhantom() {
		t.Fatalf("expected the phantom (requested) spend to sort first, got %+v", spends[0])
	}
	if len(sig) == 0 {
		t.Fatalf("expected an aggregated signature")
	}
}

func TestAggregateOffersRejectsUndecodableInput(t *testing.T) {
	if _, err := AggregateOffers("not-hex-zz"); err == nil {
		t.Fatalf("expected an error decoding invalid offer input")
	}
}

func TestCancelOfferSpendsOfferedCoinsBackToChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	kc := newTestKeychain(t)
	fundStore(t, ctx, store, kc, 500)

	builder := NewTxBuilder(store, kc, nil, []byte("test-network"))
	offer, err := builder.BuildOffer(ctx, map[Id]uint64{NewAssetID(1): 10}, map[Id]uint64{{}: 200}, 5, nil)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}

	result, err := builder.CancelOffer(ctx, *offer, 5)
	if err != nil {
		t.Fatalf("CancelOffer: %v", err)
	}
	if len(result.Spends) == 0 {
		t.Fatalf("expected CancelOffer to produce at least one spend")
	}
	if len(result.AggregatedSignature) == 0 {
		t.Fatalf("expected a signature over the cancel spend")
	}
}

func TestCancelOfferRejectsOfferWithNothingOffered(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	kc := newTestKeychain(t)
	builder := NewTxBuilder(store, kc, nil, []byte("test-network"))

	spends := []CoinSpend{
		{Coin: Coin{ParentID: Bytes32{}, PuzzleHash: Bytes32{1}, Amount: 5}},
	}
	offer := Offer{EncodedOffer: EncodeOfferString(spends, nil), Status: OfferActive}
	if _, err := builder.CancelOffer(ctx, offer, 1); err == nil {
		t.Fatalf("expected an error when the offer has no offered coins")
	}
}

func TestTakeOfferFulfillsRequestedSideAndReintegrates(t *testing.T) {
	ctx := context.Background()

	makerStore := NewMemStore()
	makerKC := newTestKeychain(t)
	fundStore(t, ctx, makerStore, makerKC, 1000)
	maker := NewTxBuilder(makerStore, makerKC, nil, []byte("test-network"))
	offer, err := maker.BuildOffer(ctx, map[Id]uint64{NewAssetID(1): 50}, map[Id]uint64{{}: 100}, 5, nil)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}

	takerStore := NewMemStore()
	takerKC := newTestKeychain(t)
	fundStore(t, ctx, takerStore, takerKC, 500)
	taker := NewTxBuilder(takerStore, takerKC, nil, []byte("test-network"))

	result, err := taker.TakeOffer(ctx, *offer, 2)
	if err != nil {
		t.Fatalf("TakeOffer: %v", err)
	}
	if len(result.Spends) == 0 {
		t.Fatalf("expected at least one spend in the re-integrated bundle")
	}
	if len(result.AggregatedSignature) == 0 {
		t.Fatalf("expected an aggregated signature combining the maker's and taker's sigs")
	}
	if len(result.InputCoinIDs) < 2 {
		t.Fatalf("expected both the maker's offered coin and the taker's fulfilling coin as inputs, got %v", result.InputCoinIDs)
	}
}

func TestTakeOfferRejectsOfferWithNothingRequested(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	kc := newTestKeychain(t)
	builder := NewTxBuilder(store, kc, nil, []byte("test-network"))

	spends := []CoinSpend{
		{Coin: Coin{ParentID: Bytes32{0xaa}, PuzzleHash: Bytes32{1}, Amount: 5}},
	}
	offer := Offer{EncodedOffer: EncodeOfferString(spends, nil), Status: OfferActive}
	if _, err := builder.TakeOffer(ctx, offer, 1); err == nil {
		t.Fatalf("expected an error when the offer requests nothing")
	}
}

func TestOfferSummarizeTotalsByPuzzleHash(t *testing.T) {
	requestedHash := Bytes32{9}
	offeredHash := Bytes32{8}
	spends := []CoinSpend{
		{Coin: Coin{ParentID: Bytes32{}, PuzzleHash: requestedHash, Amount: 30}},
		{Coin: Coin{ParentID: Bytes32{0xaa}, PuzzleHash: offeredHash, Amount: 40}},
		{Coin: Coin{ParentID: Bytes32{0xbb}, PuzzleHash: offeredHash, Amount: 5}},
	}
	offer := Offer{EncodedOffer: EncodeOfferString(spends, nil)}
	summary := offer.Summarize()
	if summary.Requested[requestedHash] != 30 {
		t.Fatalf("expected requested total 30, got %d", summary.Requested[requestedHash])
	}
	if summary.Offered[offeredHash] != 45 {
		t.Fatalf("expected offered total 45, got %d", summary.Offered[offeredHash])
	}
}
