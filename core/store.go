package core

import "context"

// Store is the typed repository contract from spec §6 — a trait surface,
// not a schema. The embedded SQL layer behind it is an external
// collaborator (spec §1 "Deliberately out of scope"); MemStore in
// memstore.go is the in-memory test double used throughout this package's
// own tests, in the same spirit as the teacher's in-memory PeerManager
// fakes.
type Store interface {
	// Tx opens a serializable transaction; callers must Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	SpendableCoins(ctx context.Context) ([]CoinState, error)
	SpendableCatCoins(ctx context.Context, assetID Bytes32) ([]CoinState, error)
	SpendableNft(ctx context.Context, launcherID Bytes32) (*CoinState, error)

	SyntheticKey(ctx context.Context, p2Hash Bytes32) (*Derivation, error)
	DerivationIndex(ctx context.Context, hardened bool) (uint32, error)
	UnusedDerivationIndex(ctx context.Context, hardened bool) (uint32, error)

	ActiveOffers(ctx context.Context) ([]Offer, error)
	LatestPeak(ctx context.Context) (*Peak, error)

	// VisibleAssets / SetAssetVisibility are SPEC_FULL supplement 1: asset
	// visibility/sensitivity query support mirroring sage-api's asset
	// records.
	VisibleAssets(ctx context.Context) ([]Asset, error)
	SetAssetVisibility(ctx context.Context, hash Bytes32, visible bool) error

	// NftsByCollection is SPEC_FULL supplement 2 (NFT collection grouping).
	NftsByCollection(ctx context.Context, collectionID Bytes32) ([]CoinState, error)

	// UnclassifiedCoins feeds PuzzleQ (spec §4.6): coins whose CoinState is
	// known but whose kind has not yet been determined.
	UnclassifiedCoins(ctx context.Context) ([]CoinState, error)

	// UncheckedNftUris feeds NftUriQ (spec §4.7): up to limit unchecked
	// (uri, expected_hash) pairs.
	UncheckedNftUris(ctx context.Context, limit int) ([]NftUriTask, error)

	// NextUnfetchedAsset feeds CatInfoQ (spec §4.8): the next asset whose
	// off-chain metadata has not yet been fetched (batch size 1).
	NextUnfetchedAsset(ctx context.Context) (*Asset, error)
}

// Tx is the per-transaction write surface (spec §6 table). Every method
// that mutates persisted state is reachable only through a Tx so that
// multi-row invariants (pending_tx <-> coins) land atomically.
type Tx interface {
	Commit() error
	Rollback() error

	UpsertCoinState(cs CoinState) error
	MarkCoinSynced(id Bytes32, p2PuzzleHash *Bytes32) error

	InsertCatCoin(id Bytes32, assetID Bytes32, lineage LineageProof, p2Hash Bytes32) error
	InsertNftCoin(id Bytes32, info NftInfo, lineage LineageProof, p2Hash Bytes32) error
	InsertDidCoin(id Bytes32, info DidInfo, lineage LineageProof, p2Hash Bytes32) error
	InsertOptionCoin(id Bytes32, info OptionInfo, lineage LineageProof, p2Hash Bytes32) error
	InsertUnknownCoin(id Bytes32) error

	InsertPendingTransaction(txid Bytes32, sig []byte, fee uint64, expiration *uint32, inputCoinIDs, outputCoinIDs []Bytes32) error
	InsertTransactionSpend(txid Bytes32, spend CoinSpend, idx int) error
	DeletePendingTransaction(txid Bytes32) error
	PendingTransactions() ([]PendingTransaction, error)

	InsertOffer(o Offer) error
	InsertOfferCoin(offerID Bytes32, coinID Bytes32, requested bool) error
	UpdateOfferStatus(offerID Bytes32, status OfferStatus) error

	InsertPeak(p Peak) error

	InsertCustodyP2Puzzle(hash Bytes32, pk [48]byte, d Derivation) error

	// UpsertAsset persists/updates asset-level metadata (spec §3 Asset).
	UpsertAsset(a Asset) error

	// MarkNftUriChecked records an NftUriQ fetch result (spec §4.7): it is
	// called on success and on mismatch alike and marks the URI checked so
	// it is not queued again. The blob itself is not passed to the store.
	MarkNftUriChecked(nftID Bytes32, uri string, verified bool, mimeType string) error

	// MarkTransactionConfirmed and RollbackPendingTransaction apply
	// PendingTxQ's three outcomes (spec §4.9): confirmed (outputs no longer pending, row deleted),
	// expired (tentative outputs/inputs rolled back, row deleted), or
	// neither (row untouched, caller resubmits).
	MarkTransactionConfirmed(txid Bytes32) error
	RollbackPendingTransaction(txid Bytes32) error
}

// NftUriTask is one unchecked (uri, expected_hash) pair awaiting NftUriQ
// (spec §4.7).
type NftUriTask struct {
	NftID        Bytes32
	URI          string
	ExpectedHash Bytes32
}
