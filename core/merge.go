package core

import "fmt"

// ChainSummary is the compact descriptor two nodes exchange when deciding
// how to reconcile divergent chains after a mesh partition heals, grounded
// on the teacher's ForkInfo (chain_fork_manager.go) but carrying the
// fields spec.md §5 actually compares.
type ChainSummary struct {
	GenesisHash         Hash
	TipHash             Hash
	Height              uint64
	TotalWork           Hash // Blake3 digest of the cumulative work big.Int, for cheap equality/transmission
	TotalTransactions   uint64
	TotalIdentities      int
	TotalUTXOs           int
	TotalContracts       int
	ValidatorSetHash    Hash
	ValidatorCount      int
	TotalValidatorStake uint64
	LatestTimestamp     int64
	TotalSupply         uint64
}

// validatorDominanceRatio is the "≥ 10×" threshold of spec.md §4.3's
// decision table: one side's validator set outnumbers the other's by at
// least this factor.
const validatorDominanceRatio = 10

// genesisAgeThresholdSeconds is spec.md §4.3's "≥ 90 days older" decision
// boundary, compared via each side's genesis-adjacent latest_timestamp
// relative to the other.
const genesisAgeThresholdSeconds = 90 * 24 * 60 * 60

// MergeAction is the outcome of comparing two ChainSummary values.
type MergeAction string

const (
	ActionAdoptLocal     MergeAction = "adopt_local"
	ActionAdoptImported  MergeAction = "adopt_imported"
	ActionMerge          MergeAction = "merge"
	ActionMergeContentOnly MergeAction = "merge_content_only"
	ActionConflict       MergeAction = "conflict"
	ActionReject         MergeAction = "reject"
)

// ConsolidationPolicy governs how two chains with mismatched genesis
// hashes are reconciled when policy nonetheless calls for adoption: rather
// than discarding one chain's issued supply, both supplies are preserved
// and the registries are unioned (spec.md Open Question, resolved:
// "preserve both supplies" economic consolidation).
type ConsolidationPolicy struct {
	PreserveBothSupplies bool
}

// DefaultConsolidationPolicy is the resolved Open-Question default.
var DefaultConsolidationPolicy = ConsolidationPolicy{PreserveBothSupplies: true}

// DecideMerge implements the decision table of spec.md §4.3, evaluated in
// the order the spec lists:
//
//  1. Genesis differs AND one side has >= 10x the other's validators, OR
//     one side's latest_timestamp is >= 90 days older -> AdoptLocal (if
//     local is the stronger side) or AdoptImported (if imported is).
//  2. Genesis differs and sizes are comparable -> Conflict.
//  3. Genesis equal and heights equal -> Merge (union content).
//  4. Genesis equal and heights differ -> MergeContentOnly if local is
//     longer, else AdoptImported.
//  5. Otherwise -> Reject.
//
// An import at height 0 or with a zero genesis hash is rejected before the
// table is consulted; rules 1-4 cover every other case.
func DecideMerge(local, imported ChainSummary) MergeAction {
	if imported.Height == 0 || imported.GenesisHash.IsZero() {
		return ActionReject
	}

	if local.GenesisHash != imported.GenesisHash {
		localStronger := dominates(local, imported)
		importedStronger := dominates(imported, local)
		switch {
		case localStronger:
			return ActionAdoptLocal
		case importedStronger:
			return ActionAdoptImported
		default:
			return ActionConflict
		}
	}

	if local.Height == imported.Height {
		return ActionMerge
	}
	if local.Height > imported.Height {
		return ActionMergeContentOnly
	}
	return ActionAdoptImported
}

// dominates reports whether a decisively outweighs b under spec.md §4.3's
// genesis-mismatch rule: at least 10x the validator count, or a genesis
// at least 90 days older (a smaller latest_timestamp, since an older
// chain's most recent activity predates the younger one's by the
// threshold).
func dominates(a, b ChainSummary) bool {
	if b.ValidatorCount > 0 && a.ValidatorCount >= b.ValidatorCount*validatorDominanceRatio {
		return true
	}
	if b.ValidatorCount == 0 && a.ValidatorCount > 0 {
		return true
	}
	if b.LatestTimestamp-a.LatestTimestamp >= genesisAgeThresholdSeconds {
		return true
	}
	return false
}

// MergeResult describes what ImportChain's chosen action did and is
// returned to its caller; ImportChain publishes no LedgerEvent.
type MergeResult struct {
	Action            MergeAction
	BlocksAdopted     int
	TransactionsMerged int
	SuppliesPreserved bool
}

// ApplyConsolidation records whether the given policy applied the
// preserve-both-supplies rule for a mismatched-genesis adoption, so callers
// can report it in the resulting LedgerEvent without re-deriving policy
// state.
func ApplyConsolidation(policy ConsolidationPolicy, localGenesis, importedGenesis Hash) (bool, error) {
	if localGenesis == importedGenesis {
		return false, nil
	}
	if !policy.PreserveBothSupplies {
		return false, fmt.Errorf("core: genesis mismatch requires an explicit consolidation policy")
	}
	return true, nil
}
