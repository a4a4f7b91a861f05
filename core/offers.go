package core

// Offers: partial spend bundles with phantom requested-coin parents (spec
// §4.11, GLOSSARY "Offer"). Build/Accept/Aggregate/Cancel all operate on
// the same wire shape wire_spend.go already defines for ordinary
// transactions — an offer string is just hex(encodeSpendBundle(...)).

import (
	"context"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// phantomAssetHash is the placeholder puzzle hash BuildOffer stamps onto a
// requested asset's phantom CoinSpend. Real Chia offers curry a dedicated
// "offer" settlement puzzle to recognize the counterparty's fulfilment;
// that curry is PuzzleBuilder's job (out of scope here, see txbuilder.go's
// stubPuzzleBuilder note) — BuildOffer only needs a stable placeholder to
// round-trip encode/decode/aggregate/cancel.
var phantomAssetHash = Bytes32{}

// EncodeOfferString hex-serializes a partial spend bundle the way spec
// §4.11's "Build" step does.
func EncodeOfferString(spends []CoinSpend, sig []byte) string {
	return hex.EncodeToString(encodeSpendBundle(spends, sig))
}

// DecodeOfferString is EncodeOfferString's inverse.
func DecodeOfferString(s string) ([]CoinSpend, []byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, nil, errWallet("decode offer string", err)
	}
	return decodeSpendBundle(raw)
}

// SplitOfferSpends partitions a decoded bundle into the requested
// (phantom-parent) and offered (real) spends (spec §4.11 "Accept").
func SplitOfferSpends(spends []CoinSpend) (requested, offered []CoinSpend) {
	for _, s := range spends {
		if s.Coin.IsPhantom() {
			requested = append(requested, s)
		} else {
			offered = append(offered, s)
		}
	}
	return requested, offered
}

// BuildOffer runs TxBuilder.Build over the offered side's Send actions,
// then appends one phantom CoinSpend per requested asset (spec §4.11
// "Build": "requested coins represented as phantom parents parent_id =
// 0x00..00"). The resulting partial bundle is never fully signed — an
// offer is accepted by a counterparty supplying the other half.
func (b *TxBuilder) BuildOffer(ctx context.Context, requested, offered map[Id]uint64, fee uint64, expires *uint32) (*Offer, error) {
	actions := make([]Action, 0, len(offered))
	for id, amt := range offered {
		actions = append(actions, SendAction(id, amt, phantomAssetHash, nil))
	}

	result, err := b.Build(ctx, BuildOptions{Actions: actions, Fee: fee, PartialSign: true})
	if err != nil {
		return nil, err
	}

	for id, amt := range requested {
		assetHash := id.Hash
		result.Spends = append(result.Spends, CoinSpend{
			Coin: Coin{ParentID: Bytes32{}, PuzzleHash: assetHash, Amount: amt},
		})
	}

	offerID := uuidToBytes32(uuid.New())
	return &Offer{
		OfferID:          offerID,
		EncodedOffer:     EncodeOfferString(result.Spends, result.AggregatedSignature),
		ExpirationHeight: expires,
		Status:           OfferActive,
	}, nil
}

// AggregateOffers implements spec §4.11 "Aggregate": concatenate spend
// lists and signatures from every bundle, then re-sort so all requested
// spends precede offered ones (the shape a counterparty's Accept expects).
func AggregateOffers(encoded ...string) (string, error) {
	var spends []CoinSpend
	var sigs [][]byte
	for _, s := range encoded {
		sp, sig, err := DecodeOfferString(s)
		if err != nil {
			return "", err
		}
		spends = append(spends, sp...)
		if len(sig) > 0 {
			sigs = append(sigs, sig)
		}
	}

	sort.SliceStable(spends, func(i, j int) bool {
		return spends[i].Coin.IsPhantom() && !spends[j].Coin.IsPhantom()
	})

	var aggSig []byte
	if len(sigs) > 0 {
		agg, err := AggregateBLSSigs(sigs)
		if err != nil {
			return "", err
		}
		aggSig = agg
	}
	return EncodeOfferString(spends, aggSig), nil
}

// cancelOrdinal approximates CoinKindTag.Ordinal() for an offered
// CoinSpend from its puzzle reveal's stubPuzzleBuilder prefix, since an
// offer row only carries encoded spends, not classified CoinKinds. A
// store-backed implementation would classify each offered coin id instead
// of pattern-matching the reveal.
func cancelOrdinal(reveal []byte) int {
	switch {
	case hasPrefix(reveal, "singleton:"):
		return KindDid.Ordinal()
	case hasPrefix(reveal, "cat:"):
		return KindCat.Ordinal()
	default:
		return KindXch.Ordinal()
	}
}

func hasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}

// CancelOffer implements spec §4.11 "Cancel": spend the offered coins by
// their cheapest cancel path (lowest kind ordinal among input coin kinds),
// reserving fee. It builds a new transaction attempt that re-spends only
// the offered coin with the lowest ordinal back to the wallet's change
// puzzle hash.
func (b *TxBuilder) CancelOffer(ctx context.Context, offer Offer, fee uint64) (*BuildResult, error) {
	spends, _, err := DecodeOfferString(offer.EncodedOffer)
	if err != nil {
		return nil, err
	}
	_, offered := SplitOfferSpends(spends)
	if len(offered) == 0 {
		return nil, errWallet("cancel offer: no offered coins to spend", nil)
	}
	sort.SliceStable(offered, func(i, j int) bool {
		return cancelOrdinal(offered[i].PuzzleReveal) < cancelOrdinal(offered[j].PuzzleReveal)
	})
	offered = offered[:1]

	changeHash, err := b.changePuzzleHash(ctx)
	if err != nil {
		return nil, err
	}
	ws := newSpendsWorkspace()
	g := ws.group(xchGroupID)
	for _, s := range offered {
		g.inputs = append(g.inputs, CoinState{Coin: s.Coin})
	}
	g.conditions = []Condition{{
		Opcode: OpCreateCoin,
		Args:   [][]byte{changeHash[:], amountBEMinimal(sumCoins(g.inputs) - fee)},
	}}
	b.coupleSecurity(ws)

	cancelSpends, sig, err := b.sign(ctx, ws, false)
	if err != nil {
		return nil, err
	}
	return b.emit(ws, cancelSpends, sig, fee), nil
}

// TakeOffer implements spec §4.11 "Accept": split the decoded bundle into
// (requested_spends, offered_spends) by phantom parent, build the taker's
// own spends to fulfill every requested asset amount (the same
// phantom-destination shape BuildOffer used for the maker's offered side),
// and re-integrate the two spend lists plus signatures into one bundle.
func (b *TxBuilder) TakeOffer(ctx context.Context, offer Offer, fee uint64) (*BuildResult, error) {
	spends, makerSig, err := DecodeOfferString(offer.EncodedOffer)
	if err != nil {
		return nil, err
	}
	requested, offered := SplitOfferSpends(spends)
	if len(requested) == 0 {
		return nil, errWallet("take offer: nothing requested to fulfill", nil)
	}

	fulfil := make(map[Id]uint64, len(requested))
	for _, s := range requested {
		fulfil[ExistingAssetID(s.Coin.PuzzleHash)] += s.Coin.Amount
	}
	actions := make([]Action, 0, len(fulfil))
	for id, amt := range fulfil {
		actions = append(actions, SendAction(id, amt, phantomAssetHash, nil))
	}

	result, err := b.Build(ctx, BuildOptions{Actions: actions, Fee: fee})
	if err != nil {
		return nil, err
	}

	sigs := make([][]byte, 0, 2)
	if len(makerSig) > 0 {
		sigs = append(sigs, makerSig)
	}
	if len(result.AggregatedSignature) > 0 {
		sigs = append(sigs, result.AggregatedSignature)
	}
	aggSig, err := AggregateBLSSigs(sigs)
	if err != nil {
		return nil, err
	}

	inputs := make([]Bytes32, 0, len(offered)+len(result.InputCoinIDs))
	for _, s := range offered {
		inputs = append(inputs, s.Coin.ID())
	}
	inputs = append(inputs, result.InputCoinIDs...)

	return &BuildResult{
		Spends:              append(append([]CoinSpend{}, offered...), result.Spends...),
		AggregatedSignature: aggSig,
		InputCoinIDs:        inputs,
		OutputCoinIDs:       result.OutputCoinIDs,
		Fee:                 fee,
	}, nil
}

// Summarize is SPEC_FULL supplement 6 (OfferSummary): a derived, read-only
// view of an offer's asset totals, computed from the decoded bundle, not
// a stored field — spec §3's Offer data model is unchanged.
func (o Offer) Summarize() OfferSummary {
	spends, _, err := DecodeOfferString(o.EncodedOffer)
	if err != nil {
		return OfferSummary{}
	}
	requested, offered := SplitOfferSpends(spends)
	summary := OfferSummary{
		Requested: make(map[Bytes32]uint64),
		Offered:   make(map[Bytes32]uint64),
	}
	for _, s := range requested {
		summary.Requested[s.Coin.PuzzleHash] += s.Coin.Amount
	}
	for _, s := range offered {
		summary.Offered[s.Coin.PuzzleHash] += s.Coin.Amount
	}
	return summary
}

// OfferSummary totals maker-requested and maker-offered amounts, keyed by
// asset (the requested/offered coin's puzzle hash stands in for asset id
// absent a classified CoinKind).
type OfferSummary struct {
	Requested map[Bytes32]uint64
	Offered   map[Bytes32]uint64
}

func uuidToBytes32(id uuid.UUID) Bytes32 {
	var b Bytes32
	copy(b[:], id[:])
	return b
}
