package core

// Action is TxBuilder's closed tagged variant (spec §4.10), modeled per
// spec §9's "Polymorphic Action" note as a flat struct over a tag rather
// than an open interface hierarchy — the same discipline CoinKind
// (coin.go) and SyncEvent (events.go) already use in this package. Only
// the fields matching Tag are meaningful; see each constructor for which
// ones it fills in.
type ActionTag uint8

const (
	ActionSend ActionTag = iota
	ActionIssueCat
	ActionCreateDid
	ActionMintNft
	// ActionMintNfts is SPEC_FULL supplement 4 (bulk mint): the one
	// additional member the closed action set gains beyond spec §4.10's
	// literal list.
	ActionMintNfts
	ActionAssignNft
	ActionAddNftUri
	ActionTransferDid
	ActionTransferOption
	ActionMakeOffer
	ActionTakeOffer
	ActionCancelOffer
)

// Id addresses an asset either by its stable on-chain hash (Existing) or
// by the index of the action that will create it within this same
// transaction attempt (New) — spec §4.10 "a new asset created within the
// transaction is addressed by Id::New(action_index)". Comparable, so it is
// used directly as a map key by the Spends workspace.
type Id struct {
	IsNew      bool
	ActionIdx  int
	Hash       Bytes32
}

// NewAssetID addresses an asset created earlier in the same action list.
func NewAssetID(actionIdx int) Id { return Id{IsNew: true, ActionIdx: actionIdx} }

// ExistingAssetID addresses an asset already on chain.
func ExistingAssetID(hash Bytes32) Id { return Id{Hash: hash} }

// MintNftSpec is one NFT of a bulk mint (SPEC_FULL supplement 4).
type MintNftSpec struct {
	Metadata       NftMintMetadata
	Royalty        uint16
	RoyaltyAddress Bytes32
	P2PuzzleHash   Bytes32
}

// NftMintMetadata is the subset of NftInfo a mint action supplies; the
// rest (LauncherID, OwnerDID) is filled in once the eve coin is spent.
type NftMintMetadata struct {
	MetadataHash   Bytes32
	MetadataUpdate Bytes32
	URIs           []string
}

// Action carries whichever fields its Tag calls for.
type Action struct {
	Tag ActionTag

	// Send
	AssetID Id
	Amount  uint64
	To      Bytes32
	Memos   [][]byte

	// IssueCat: Amount is the CAT supply to mint, backed 1:1 by a spent
	// XCH coin of the same amount (standard single-issuance CAT eve).

	// MintNft
	NftMint  MintNftSpec
	MinterDID *Id

	// MintNfts (bulk)
	Specs []MintNftSpec

	// AssignNft / TransferDid / TransferOption reuse NftID/DidID/OptionID
	// plus To for the new owner puzzle hash.
	NftID    Id
	DidID    *Id
	OptionID Id

	// AddNftUri
	URIUpdate string

	// MakeOffer
	Requested map[Id]uint64
	Offered   map[Id]uint64
	Expires   *uint32

	// TakeOffer / CancelOffer
	OfferBundle string
}

// SendAction builds a Send action (spec §4.10).
func SendAction(asset Id, amount uint64, to Bytes32, memos [][]byte) Action {
	return Action{Tag: ActionSend, AssetID: asset, Amount: amount, To: to, Memos: memos}
}

// IssueCatAction builds an IssueCat action.
func IssueCatAction(amount uint64) Action {
	return Action{Tag: ActionIssueCat, Amount: amount}
}

// CreateDidAction builds a CreateDid action.
func CreateDidAction() Action { return Action{Tag: ActionCreateDid} }

// MintNftAction builds a single MintNft action.
func MintNftAction(spec MintNftSpec, minterDID *Id) Action {
	return Action{Tag: ActionMintNft, NftMint: spec, MinterDID: minterDID}
}

// MintNftsAction builds a bulk mint (SPEC_FULL supplement 4).
func MintNftsAction(specs []MintNftSpec, minterDID *Id) Action {
	return Action{Tag: ActionMintNfts, Specs: specs, MinterDID: minterDID}
}

// AssignNftAction reassigns an NFT's owner DID.
func AssignNftAction(nftID Id, didID *Id) Action {
	return Action{Tag: ActionAssignNft, NftID: nftID, DidID: didID}
}

// AddNftUriAction appends a metadata update URI to an NFT.
func AddNftUriAction(nftID Id, update string) Action {
	return Action{Tag: ActionAddNftUri, NftID: nftID, URIUpdate: update}
}

// TransferDidAction transfers a DID to a new p2 puzzle hash.
func TransferDidAction(didID Id, to Bytes32) Action {
	return Action{Tag: ActionTransferDid, DidID: &didID, To: to}
}

// TransferOptionAction transfers an option contract.
func TransferOptionAction(optionID Id, to Bytes32) Action {
	return Action{Tag: ActionTransferOption, OptionID: optionID, To: to}
}

// MakeOfferAction builds an offer (spec §4.11).
func MakeOfferAction(requested, offered map[Id]uint64, expires *uint32) Action {
	return Action{Tag: ActionMakeOffer, Requested: requested, Offered: offered, Expires: expires}
}

// TakeOfferAction accepts an encoded offer.
func TakeOfferAction(bundle string) Action { return Action{Tag: ActionTakeOffer, OfferBundle: bundle} }

// CancelOfferAction cancels a previously made offer.
func CancelOfferAction(bundle string) Action { return Action{Tag: ActionCancelOffer, OfferBundle: bundle} }

// Summary is what Summarize (spec §4.10 step 1) produces: the net XCH and
// per-asset CAT amounts this action list spends and creates, plus the set
// of singletons it touches. fee is added to XchSpent by the caller.
type Summary struct {
	XchSpent   uint64
	XchCreated uint64
	CatSpent   map[Id]uint64
	CatCreated map[Id]uint64
	Nfts       map[Id]bool
	Dids       map[Id]bool
	Options    map[Id]bool
}

func newSummary() *Summary {
	return &Summary{
		CatSpent:   make(map[Id]uint64),
		CatCreated: make(map[Id]uint64),
		Nfts:       make(map[Id]bool),
		Dids:       make(map[Id]bool),
		Options:    make(map[Id]bool),
	}
}
