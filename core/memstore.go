package core

import (
	"context"
	"sync"
)

// MemStore is the in-memory Store implementation used by this package's own
// tests, in the teacher's "fake the interface, don't mock a DB" idiom. It
// holds the whole store behind one mutex and grants a Tx exclusive access
// for its lifetime, which is the simplest thing that satisfies spec §5's
// "Store: internally synchronized (serializable transactions)" for a
// single-process test double.
type MemStore struct {
	mu sync.Mutex

	coins       map[Bytes32]CoinState
	catInfo     map[Bytes32]catRow
	nftInfo     map[Bytes32]nftRow
	didInfo     map[Bytes32]didRow
	optionInfo  map[Bytes32]optionRow
	classified  map[Bytes32]bool

	derivations  map[derivKey]Derivation
	byP2Hash     map[Bytes32]Derivation
	hardenedNext uint32
	unhardNext   uint32

	pending map[Bytes32]PendingTransaction

	offers     map[Bytes32]Offer
	offerCoins map[Bytes32][]offerCoinRow

	peaks []Peak

	assets map[Bytes32]Asset
}

type derivKey struct {
	index    uint32
	hardened bool
}

type catRow struct {
	AssetID Bytes32
	Lineage LineageProof
	P2Hash  Bytes32
}

type nftRow struct {
	Info    NftInfo
	Lineage LineageProof
	P2Hash  Bytes32
}

type didRow struct {
	Info    DidInfo
	Lineage LineageProof
	P2Hash  Bytes32
}

type optionRow struct {
	Info    OptionInfo
	Lineage LineageProof
	P2Hash  Bytes32
}

type offerCoinRow struct {
	CoinID    Bytes32
	Requested bool
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		coins:      make(map[Bytes32]CoinState),
		catInfo:    make(map[Bytes32]catRow),
		nftInfo:    make(map[Bytes32]nftRow),
		didInfo:    make(map[Bytes32]didRow),
		optionInfo: make(map[Bytes32]optionRow),
		classified: make(map[Bytes32]bool),
		derivations: make(map[derivKey]Derivation),
		byP2Hash:   make(map[Bytes32]Derivation),
		pending:    make(map[Bytes32]PendingTransaction),
		offers:     make(map[Bytes32]Offer),
		offerCoins: make(map[Bytes32][]offerCoinRow),
		assets:     make(map[Bytes32]Asset),
	}
}

func (s *MemStore) Tx(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s, ctx: ctx}, nil
}

func (s *MemStore) SpendableCoins(ctx context.Context) ([]CoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CoinState
	for id, cs := range s.coins {
		if cs.SpentHeight != nil || cs.CreatedHeight == nil {
			continue
		}
		if _, isCat := s.catInfo[id]; isCat {
			continue
		}
		if _, isNft := s.nftInfo[id]; isNft {
			continue
		}
		if _, isDid := s.didInfo[id]; isDid {
			continue
		}
		if _, isOpt := s.optionInfo[id]; isOpt {
			continue
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *MemStore) SpendableCatCoins(ctx context.Context, assetID Bytes32) ([]CoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CoinState
	for id, row := range s.catInfo {
		if row.AssetID != assetID {
			continue
		}
		cs, ok := s.coins[id]
		if !ok || cs.SpentHeight != nil {
			continue
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *MemStore) SpendableNft(ctx context.Context, launcherID Bytes32) (*CoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.nftInfo {
		if row.Info.LauncherID != launcherID {
			continue
		}
		cs, ok := s.coins[id]
		if !ok || cs.SpentHeight != nil {
			continue
		}
		csCopy := cs
		return &csCopy, nil
	}
	return nil, errNotFound("nft not found")
}

func (s *MemStore) SyntheticKey(ctx context.Context, p2Hash Bytes32) (*Derivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byP2Hash[p2Hash]
	if !ok {
		return nil, errNotFound("no derivation for p2 hash")
	}
	return &d, nil
}

func (s *MemStore) DerivationIndex(ctx context.Context, hardened bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hardened {
		return s.hardenedNext, nil
	}
	return s.unhardNext, nil
}

func (s *MemStore) UnusedDerivationIndex(ctx context.Context, hardened bool) (uint32, error) {
	return s.DerivationIndex(ctx, hardened)
}

func (s *MemStore) ActiveOffers(ctx context.Context) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Offer
	for _, o := range s.offers {
		if o.Status == OfferActive {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemStore) LatestPeak(ctx context.Context) (*Peak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peaks) == 0 {
		return nil, errNotFound("no peak recorded")
	}
	p := s.peaks[len(s.peaks)-1]
	return &p, nil
}

func (s *MemStore) VisibleAssets(ctx context.Context) ([]Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Asset
	for _, a := range s.assets {
		if a.IsVisible {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemStore) SetAssetVisibility(ctx context.Context, hash Bytes32, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[hash]
	if !ok {
		return errNotFound("asset not found")
	}
	a.IsVisible = visible
	s.assets[hash] = a
	return nil
}

func (s *MemStore) NftsByCollection(ctx context.Context, collectionID Bytes32) ([]CoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CoinState
	for id, row := range s.nftInfo {
		if row.Info.CollectionID == nil || *row.Info.CollectionID != collectionID {
			continue
		}
		if cs, ok := s.coins[id]; ok {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (s *MemStore) UnclassifiedCoins(ctx context.Context) ([]CoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CoinState
	for id, cs := range s.coins {
		if !s.classified[id] {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (s *MemStore) UncheckedNftUris(ctx context.Context, limit int) ([]NftUriTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NftUriTask
	for id, row := range s.nftInfo {
		if row.Info.URIChecked {
			continue
		}
		for _, uri := range row.Info.URIs {
			out = append(out, NftUriTask{NftID: id, URI: uri, ExpectedHash: row.Info.MetadataHash})
		}
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) NextUnfetchedAsset(ctx context.Context) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if !a.MetadataFetched {
			aCopy := a
			return &aCopy, nil
		}
	}
	return nil, errNotFound("no unfetched asset")
}

// memTx holds the store's lock for its entire lifetime; every write applies
// directly, Rollback is a plain unlock (nothing to undo since nothing but
// this Tx can observe the store meanwhile).
type memTx struct {
	s   *MemStore
	ctx context.Context
	done bool
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) UpsertCoinState(cs CoinState) error {
	id := cs.ID()
	existing, ok := t.s.coins[id]
	if ok {
		if existing.CreatedHeight != nil && cs.CreatedHeight == nil {
			return errWallet("created_height regression", nil)
		}
		if existing.CreatedHeight != nil && cs.CreatedHeight != nil && *cs.CreatedHeight < *existing.CreatedHeight {
			return errWallet("created_height regression", nil)
		}
		if existing.SpentHeight != nil && cs.SpentHeight != nil && *cs.SpentHeight < *existing.SpentHeight {
			return errWallet("spent_height regression", nil)
		}
	}
	if !cs.Valid() {
		return errWallet("invalid coin state: spent before created", nil)
	}
	t.s.coins[id] = cs
	return nil
}

func (t *memTx) MarkCoinSynced(id Bytes32, p2PuzzleHash *Bytes32) error {
	t.s.classified[id] = true
	if p2PuzzleHash != nil {
		if d, ok := t.s.byP2Hash[*p2PuzzleHash]; ok {
			_ = d // p2 coins don't get a kind row; presence in classified is enough
		}
	}
	return nil
}

func (t *memTx) InsertCatCoin(id Bytes32, assetID Bytes32, lineage LineageProof, p2Hash Bytes32) error {
	t.s.catInfo[id] = catRow{AssetID: assetID, Lineage: lineage, P2Hash: p2Hash}
	return nil
}

func (t *memTx) InsertNftCoin(id Bytes32, info NftInfo, lineage LineageProof, p2Hash Bytes32) error {
	t.s.nftInfo[id] = nftRow{Info: info, Lineage: lineage, P2Hash: p2Hash}
	return nil
}

func (t *memTx) InsertDidCoin(id Bytes32, info DidInfo, lineage LineageProof, p2Hash Bytes32) error {
	t.s.didInfo[id] = didRow{Info: info, Lineage: lineage, P2Hash: p2Hash}
	return nil
}

func (t *memTx) InsertOptionCoin(id Bytes32, info OptionInfo, lineage LineageProof, p2Hash Bytes32) error {
	t.s.optionInfo[id] = optionRow{Info: info, Lineage: lineage, P2Hash: p2Hash}
	return nil
}

func (t *memTx) InsertUnknownCoin(id Bytes32) error {
	t.s.classified[id] = true
	return nil
}

func (t *memTx) InsertPendingTransaction(txid Bytes32, sig []byte, fee uint64, expiration *uint32, inputCoinIDs, outputCoinIDs []Bytes32) error {
	t.s.pending[txid] = PendingTransaction{
		TxID:                txid,
		Fee:                 fee,
		AggregatedSignature: sig,
		ExpirationHeight:    expiration,
		InputCoinIDs:        inputCoinIDs,
		OutputCoinIDs:       outputCoinIDs,
	}
	return nil
}

func (t *memTx) InsertTransactionSpend(txid Bytes32, spend CoinSpend, idx int) error {
	ptx, ok := t.s.pending[txid]
	if !ok {
		return errWallet("insert_transaction_spend: no pending tx row", nil)
	}
	for len(ptx.Spends) <= idx {
		ptx.Spends = append(ptx.Spends, CoinSpend{})
	}
	ptx.Spends[idx] = spend
	t.s.pending[txid] = ptx
	return nil
}

func (t *memTx) DeletePendingTransaction(txid Bytes32) error {
	delete(t.s.pending, txid)
	return nil
}

func (t *memTx) PendingTransactions() ([]PendingTransaction, error) {
	out := make([]PendingTransaction, 0, len(t.s.pending))
	for _, p := range t.s.pending {
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) InsertOffer(o Offer) error {
	t.s.offers[o.OfferID] = o
	return nil
}

func (t *memTx) InsertOfferCoin(offerID Bytes32, coinID Bytes32, requested bool) error {
	t.s.offerCoins[offerID] = append(t.s.offerCoins[offerID], offerCoinRow{CoinID: coinID, Requested: requested})
	return nil
}

func (t *memTx) UpdateOfferStatus(offerID Bytes32, status OfferStatus) error {
	o, ok := t.s.offers[offerID]
	if !ok {
		return errNotFound("offer not found")
	}
	if o.Status.Terminal() {
		return errWallet("offer already in a terminal state", nil)
	}
	o.Status = status
	t.s.offers[offerID] = o
	return nil
}

func (t *memTx) InsertPeak(p Peak) error {
	t.s.peaks = append(t.s.peaks, p)
	return nil
}

func (t *memTx) InsertCustodyP2Puzzle(hash Bytes32, pk [48]byte, d Derivation) error {
	t.s.derivations[derivKey{index: d.Index, hardened: d.Hardened}] = d
	t.s.byP2Hash[hash] = d
	if d.Hardened && d.Index+1 > t.s.hardenedNext {
		t.s.hardenedNext = d.Index + 1
	}
	if !d.Hardened && d.Index+1 > t.s.unhardNext {
		t.s.unhardNext = d.Index + 1
	}
	return nil
}

func (t *memTx) UpsertAsset(a Asset) error {
	t.s.assets[a.Hash] = a
	return nil
}

func (t *memTx) MarkNftUriChecked(nftID Bytes32, uri string, verified bool, mimeType string) error {
	row, ok := t.s.nftInfo[nftID]
	if !ok {
		return errNotFound("nft not found")
	}
	row.Info.URIChecked = true
	t.s.nftInfo[nftID] = row
	_ = verified
	_ = mimeType
	return nil
}

func (t *memTx) MarkTransactionConfirmed(txid Bytes32) error {
	delete(t.s.pending, txid)
	return nil
}

func (t *memTx) RollbackPendingTransaction(txid Bytes32) error {
	delete(t.s.pending, txid)
	return nil
}

var _ Store = (*MemStore)(nil)
