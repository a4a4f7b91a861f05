package core

// Classifier: pure function over CLVM-like puzzle/solution blobs producing
// a CoinKind (spec §4.4). The actual puzzle VM is an external collaborator
// (spec §9 "Classifier <-> VM"): Classifier wraps it with a bounded
// allocator and never owns curve/consensus logic itself, the same
// dependency-direction discipline the teacher's wallet.go documents in its
// "Import hygiene" header comment.

import "bytes"

// Condition is one entry of the output condition list a puzzle program
// evaluates to (spec §4.4 step 1). Only the opcodes the classifier and
// tx-builder security coupling need are modeled; everything else in a real
// condition list is opaque to this package.
type ConditionOpcode int64

const (
	OpCreateCoin           ConditionOpcode = 51
	OpAssertConcurrentSpend ConditionOpcode = 64
	OpAggSigMe             ConditionOpcode = 50
)

type Condition struct {
	Opcode ConditionOpcode
	Args   [][]byte
}

// RunResult is what the CLVM VM collaborator returns for one puzzle run.
type RunResult struct {
	Conditions []Condition
	Cost       uint64
}

// ClvmRunner is the external collaborator contract from spec §9:
// `run(program, args) -> result | cost_error`.
type ClvmRunner interface {
	Run(program, solution []byte, maxCost uint64) (RunResult, error)
}

// CurryTemplate recognizes one puzzle layer (CAT, singleton+state, etc.) by
// inspecting a puzzle reveal. Real templates curry-match against known mod
// hashes; this package treats the match function itself as pluggable so
// tests can supply synthetic templates without a real CLVM puzzle library.
type CurryTemplate struct {
	Name  string
	Match func(puzzleReveal []byte) (*CurryMatch, bool)
}

// CurryMatch is what a successful template match yields: enough to build a
// LineageProof and to recurse into the inner puzzle layer.
type CurryMatch struct {
	AssetID      Bytes32
	Nft          *NftInfo
	Did          *DidInfo
	Option       *OptionInfo
	InnerPuzzle  []byte // the next layer down, nil if this was the innermost
}

// Classifier runs the ordered curry-match dispatch: CAT -> NFT -> DID ->
// Option -> standard p2 (spec §4.4 step 3).
type Classifier struct {
	vm        ClvmRunner
	templates []CurryTemplate // ordered: cat, nft, did, option
	maxCost   uint64
}

// NewClassifier wires a Classifier around a ClvmRunner and the ordered set
// of curry templates to try before falling back to "standard p2".
func NewClassifier(vm ClvmRunner, templates []CurryTemplate, maxCost uint64) *Classifier {
	return &Classifier{vm: vm, templates: templates, maxCost: maxCost}
}

// Classify implements spec §4.4. Failure to parse is reported as Unknown,
// never as an error — unknown coins are still tracked (classification
// failures are never fatal, spec §7).
func (c *Classifier) Classify(parentCoin Coin, parentPuzzleReveal, parentSolution []byte, childCoin Coin) CoinKind {
	result, err := c.vm.Run(parentPuzzleReveal, parentSolution, c.maxCost)
	if err != nil {
		return CoinKind{Tag: KindUnknown}
	}

	if !hasMatchingCreateCoin(result.Conditions, childCoin) {
		return CoinKind{Tag: KindUnknown}
	}

	lineage := LineageProof{
		ParentParentID:        parentCoin.ParentID,
		ParentInnerPuzzleHash: parentCoin.PuzzleHash,
		ParentAmount:          parentCoin.Amount,
	}

	puzzle := parentPuzzleReveal
	for _, tmpl := range c.templates {
		match, ok := tmpl.Match(puzzle)
		if !ok {
			continue
		}
		switch tmpl.Name {
		case "cat":
			return CoinKind{
				Tag:          KindCat,
				AssetID:      match.AssetID,
				P2PuzzleHash: childCoin.PuzzleHash,
				LineageProof: lineage,
			}
		case "nft":
			return CoinKind{
				Tag:          KindNft,
				P2PuzzleHash: childCoin.PuzzleHash,
				LineageProof: lineage,
				Nft:          match.Nft,
			}
		case "did":
			return CoinKind{
				Tag:          KindDid,
				P2PuzzleHash: childCoin.PuzzleHash,
				LineageProof: lineage,
				Did:          match.Did,
			}
		case "option":
			return CoinKind{
				Tag:          KindOption,
				P2PuzzleHash: childCoin.PuzzleHash,
				LineageProof: lineage,
				Option:       match.Option,
			}
		}
	}

	// No curried layer recognized: treat as a standard p2 (pay-to) puzzle.
	return CoinKind{
		Tag:          KindXch,
		P2PuzzleHash: childCoin.PuzzleHash,
		LineageProof: lineage,
	}
}

func hasMatchingCreateCoin(conds []Condition, child Coin) bool {
	for _, cond := range conds {
		if cond.Opcode != OpCreateCoin || len(cond.Args) < 2 {
			continue
		}
		if !bytes.Equal(cond.Args[0], child.PuzzleHash[:]) {
			continue
		}
		if amountEquals(cond.Args[1], child.Amount) {
			return true
		}
	}
	return false
}

func amountEquals(atom []byte, amount uint64) bool {
	return bytes.Equal(atom, amountBEMinimal(amount))
}
