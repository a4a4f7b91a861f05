package core

// Core data model: Coin, CoinState, CoinKind and the lineage/derivation
// records the sync pipeline and tx builder pass around. Mirrors spec §3.
//
// Import hygiene: this file depends only on stdlib hashing, same tier as
// wallet.go used to occupy in the teacher tree.

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Bytes32 is a fixed-size hash-sized value: coin ids, puzzle hashes, asset
// ids, header hashes all use this shape.
type Bytes32 [32]byte

func (b Bytes32) String() string { return fmt.Sprintf("%x", b[:]) }

// ParseBytes32 decodes a 64-character hex string into a Bytes32, the
// inverse of String — the CLI's address/asset-id argument format.
func ParseBytes32(s string) (Bytes32, error) {
	var b Bytes32
	raw, err := hex.DecodeString(s)
	if err != nil {
		return b, err
	}
	if len(raw) != len(b) {
		return b, fmt.Errorf("expected %d bytes, got %d", len(b), len(raw))
	}
	copy(b[:], raw)
	return b, nil
}

// IsZero reports whether b is the all-zero phantom parent id used by offers
// (spec §4.11, §6 "Offer string").
func (b Bytes32) IsZero() bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Coin is the UTXO record: (parent_id, puzzle_hash, amount).
type Coin struct {
	ParentID   Bytes32
	PuzzleHash Bytes32
	Amount     uint64
}

// amountBEMinimal encodes amount as a minimal big-endian integer the way
// CLVM atoms do: no leading zero bytes, except the value 0 encodes as an
// empty slice, and a value whose top bit is set gets a leading 0x00 so it is
// never mistaken for a negative CLVM atom.
func amountBEMinimal(amount uint64) []byte {
	if amount == 0 {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	b := buf[:]
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// ID computes coin_id = sha256(parent_id || puzzle_hash || amount_be_minimal).
func (c Coin) ID() Bytes32 {
	h := sha256.New()
	h.Write(c.ParentID[:])
	h.Write(c.PuzzleHash[:])
	h.Write(amountBEMinimal(c.Amount))
	var out Bytes32
	copy(out[:], h.Sum(nil))
	return out
}

// IsPhantom reports whether this coin carries the zero parent id offers use
// to mark requested (not-yet-real) coins.
func (c Coin) IsPhantom() bool { return c.ParentID.IsZero() }

// CoinState pairs a coin with its on-chain lifecycle heights.
type CoinState struct {
	Coin          Coin
	CreatedHeight *uint32
	SpentHeight   *uint32
}

// ID is a convenience accessor for the underlying coin id.
func (cs CoinState) ID() Bytes32 { return cs.Coin.ID() }

// Valid enforces invariant 1 from spec §8: spent implies created, and
// spent_height >= created_height when both are present.
func (cs CoinState) Valid() bool {
	if cs.SpentHeight == nil {
		return true
	}
	if cs.CreatedHeight == nil {
		return false
	}
	return *cs.SpentHeight >= *cs.CreatedHeight
}

// LineageProof carries the minimum parent data a child singleton/CAT needs
// to be spent (spec §3).
type LineageProof struct {
	ParentParentID        Bytes32
	ParentInnerPuzzleHash Bytes32
	ParentAmount          uint64
}

// CoinKindTag discriminates the CoinKind tagged variant.
type CoinKindTag uint8

const (
	KindUnknown CoinKindTag = iota
	KindXch
	KindCat
	KindNft
	KindDid
	KindOption
)

func (t CoinKindTag) String() string {
	switch t {
	case KindXch:
		return "xch"
	case KindCat:
		return "cat"
	case KindNft:
		return "nft"
	case KindDid:
		return "did"
	case KindOption:
		return "option"
	default:
		return "unknown"
	}
}

// Ordinal gives the kind ordering used by offer cancellation (spec §4.11,
// §8 scenario 6): "cheapest cancel path" picks the lowest ordinal among the
// input coin kinds. Did < Nft < Option < Cat < Xch < Unknown.
func (t CoinKindTag) Ordinal() int {
	switch t {
	case KindDid:
		return 0
	case KindNft:
		return 1
	case KindOption:
		return 2
	case KindCat:
		return 3
	case KindXch:
		return 4
	default:
		return 5
	}
}

// NftInfo carries the singleton metadata a classified NFT coin needs.
type NftInfo struct {
	LauncherID     Bytes32
	MetadataHash   Bytes32
	MetadataUpdate Bytes32
	Royalty        uint16
	RoyaltyAddress Bytes32
	OwnerDID       *Bytes32
	// CollectionID groups NFTs the way sage-api's nft_collection record
	// does (SPEC_FULL supplement 2) — purely additive, not a spec.md field.
	CollectionID *Bytes32

	// URIs are the candidate metadata URIs recorded on-chain for this NFT;
	// NftUriQ (spec §4.7) tries each until one hashes to MetadataHash.
	URIs []string
	// URIChecked marks that NftUriQ has resolved (or exhausted) this NFT's
	// metadata fetch, so it isn't retried until MetadataHash changes.
	URIChecked bool
}

// DidInfo carries the singleton metadata a classified DID coin needs.
type DidInfo struct {
	LauncherID   Bytes32
	RecoveryList []Bytes32
	NumVerify    uint32
	Metadata     []byte
}

// OptionInfo carries the singleton metadata a classified option coin needs.
type OptionInfo struct {
	LauncherID      Bytes32
	UnderlyingAsset Bytes32
	UnderlyingAmt   uint64
	StrikeAsset     Bytes32
	StrikeAmt       uint64
	ExpirationSecs  uint64
}

// CoinKind is the closed tagged variant a coin is classified into (spec §3,
// §4.4). Only the fields matching Tag are meaningful.
type CoinKind struct {
	Tag           CoinKindTag
	AssetID       Bytes32 // Cat
	P2PuzzleHash  Bytes32 // Xch, Cat, Nft, Did, Option: the child coin's own puzzle hash; curried outer layers are not unwrapped to the inner owner hash
	LineageProof  LineageProof
	Nft           *NftInfo
	Did           *DidInfo
	Option        *OptionInfo
}

// Derivation is a (index, hardened) -> synthetic key -> p2 puzzle hash row.
type Derivation struct {
	Index        uint32
	Hardened     bool
	SyntheticPK  [48]byte
	P2PuzzleHash Bytes32
}

// AssetKind discriminates the Asset metadata record.
type AssetKind uint8

const (
	AssetToken AssetKind = iota
	AssetNft
	AssetDid
	AssetOption
)

// Asset is asset-level (mutable) metadata, keyed by hash (asset_id for CAT,
// launcher id for singletons).
type Asset struct {
	Hash             Bytes32
	Kind             AssetKind
	Name             *string
	Ticker           *string
	IconURL          *string
	Description      *string
	Precision        uint8
	IsVisible        bool
	IsSensitive      bool
	HiddenPuzzleHash *Bytes32

	// MetadataFetched marks that CatInfoQ has resolved (or given up
	// resolving) this asset's off-chain metadata, so it isn't retried in a
	// tight loop (spec §4.8).
	MetadataFetched bool
}

// CoinSpend is one element of a spend bundle: the coin being spent plus the
// puzzle reveal and solution that authorize it.
type CoinSpend struct {
	Coin          Coin
	PuzzleReveal  []byte
	Solution      []byte
}

// PendingTransaction mirrors spec §3: a submitted, not-yet-finalized spend.
type PendingTransaction struct {
	TxID                 Bytes32
	Fee                  uint64
	AggregatedSignature  []byte
	SubmittedAt          *int64
	ExpirationHeight     *uint32
	Spends               []CoinSpend

	// InputCoinIDs / OutputCoinIDs let PendingTxQ confirm or roll back a
	// transaction without re-deriving them from puzzle reveals (spec §4.9).
	InputCoinIDs  []Bytes32
	OutputCoinIDs []Bytes32
}

// Peak is the highest known block header per peer (spec §3).
type Peak struct {
	Height     uint32
	HeaderHash Bytes32
}

// OfferStatus is the monotone lattice from spec §3: Active -> one terminal.
type OfferStatus uint8

const (
	OfferActive OfferStatus = iota
	OfferCompleted
	OfferCancelled
	OfferExpired
)

func (s OfferStatus) Terminal() bool { return s != OfferActive }

// Offer is the persisted offer row (spec §3). The partial spend bundle
// itself lives in EncodedOffer; decoding/encoding lives in offers.go.
type Offer struct {
	OfferID             Bytes32
	EncodedOffer        string
	ExpirationHeight    *uint32
	ExpirationTimestamp *int64
	Status              OfferStatus
	InsertedTimestamp   int64
}
