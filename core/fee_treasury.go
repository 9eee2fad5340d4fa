package core

// Fee & treasury engine: per-byte transaction fees, the DAO surcharge
// routed to the treasury output, and DAO proposal execution, grounded on
// the teacher's dao_proposal.go (CreateDAOProposal/VoteDAOProposal/
// ExecuteDAOProposal) and dao_staking.go (stake-weighted voting), reading
// proposal tallies from the Registry Layer (Registries.daoProposals, a map
// updated as DAO transactions are confirmed).

const (
	// BaseFeePerByte is the per-byte fee floor below which the validator
	// rejects a transaction as InsufficientFee (spec.md §4.8).
	BaseFeePerByte = 1

	// DaoSurchargeBps is the DAO treasury surcharge, 2% expressed in
	// basis points of the base fee.
	DaoSurchargeBps = 200

	// DaoPassThresholdBps is the fraction of cast votes a DAO proposal
	// must clear to pass: 60%.
	DaoPassThresholdBps = 6000

	bpsDenominator = 10_000

	// Type-specific fee surcharges spec.md §4.1 rule 7 calls for on top of
	// the per-byte floor, and the Web4 domain-mutation minimum of §4.8
	// (size_estimate ~= 5400 B * per_byte_rate 1/5 ~= 1080 ZHTP).
	IdentityRegistrationSurcharge = 500
	ValidatorRegistrationSurcharge = 2000
	DomainMutationMinFee           = 1080
)

// CalculateTransactionFee returns the total fee a transaction of the given
// size must pay: base per-byte fee plus the 2% DAO surcharge on top of it.
func CalculateTransactionFee(sizeBytes int, feePerByte uint64) (total, treasuryShare uint64) {
	base := uint64(sizeBytes) * feePerByte
	treasuryShare = base * DaoSurchargeBps / bpsDenominator
	total = base + treasuryShare
	return total, treasuryShare
}

// TreasuryOutput builds the system fee-collection TransactionOutput a
// block's coinbase-equivalent routes the DAO's surcharge share into. The
// treasury is a protocol-controlled recipient, not a user wallet, so it is
// addressed by a fixed well-known recipient tag rather than a public key.
var TreasuryRecipient = []byte("zhtp:treasury")

func TreasuryOutput(amount uint64, blinding []byte) (TransactionOutput, error) {
	commitment, err := pedersenCommit(amount, blinding)
	if err != nil {
		return TransactionOutput{}, err
	}
	return TransactionOutput{
		Commitment: commitment,
		Recipient:  TreasuryRecipient,
	}, nil
}

// VotingPower implements the §4.2 formula:
//
//	staked*2 + (1 + network_contribution/100) * (1 + reputation/100) * 100 + delegated
//
// network_contribution and reputation are integer percentages (e.g. 50
// means 50%), matching how the teacher's reputation scores are stored
// elsewhere in the pack.
func VotingPower(staked uint64, networkContribution, reputation uint64, delegated uint64) uint64 {
	base := staked * 2
	multiplier := (100 + networkContribution) * (100 + reputation) * 100 / 100 / 100
	return base + multiplier + delegated
}

// DaoExecutionDecision is the pass/fail outcome of tallying a closed
// proposal's votes against the 60% threshold.
type DaoExecutionDecision struct {
	Passed       bool
	VotesFor     uint64
	VotesAgainst uint64
}

// DecideDaoExecution tallies a proposal's recorded votes and reports
// whether it clears the 60% pass threshold of total cast votes.
func DecideDaoExecution(rec *DaoRecord) DaoExecutionDecision {
	total := rec.VotesFor + rec.VotesAgainst
	if total == 0 {
		return DaoExecutionDecision{Passed: false}
	}
	passed := rec.VotesFor*bpsDenominator/total >= DaoPassThresholdBps
	return DaoExecutionDecision{Passed: passed, VotesFor: rec.VotesFor, VotesAgainst: rec.VotesAgainst}
}
