package core

// DAO / Welfare engine: proposal-execution transaction assembly, grounded
// on the teacher's dao_proposal.go (ExecuteDAOProposal selecting treasury
// funds) and dao_staking.go, reworked onto spec.md §4.4's UTXO-funded
// treasury model instead of a free balance ledger.

import (
	"crypto/rand"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProposalNotFound        = errors.New("core: dao proposal not found in any accepted block")
	ErrProposalNotPassed       = errors.New("core: dao proposal has not cleared the 60% pass threshold")
	ErrProposalAlreadyExecuted = errors.New("core: dao proposal already has an execution record")
	ErrNoTreasuryWallet        = errors.New("core: no dao treasury wallet configured")
	ErrInsufficientTreasury    = errors.New("core: treasury balance insufficient to cover amount plus fee")
)

// NewProposalID mints a fresh DAO proposal identifier, grounded on the
// teacher's uuid-keyed dao_proposal.go records.
func NewProposalID() string { return uuid.NewString() }

// treasuryRecipientFor resolves the on-chain recipient tag the selected
// treasury wallet's outputs are addressed to. The wallet/identity
// indirection mirrors spec.md §4.1 rule 5's UTXO.recipient -> wallet ->
// identity -> public_key resolution chain, run in reverse to find which
// outputs belong to the treasury.
func treasuryRecipientFor(l *Ledger, walletID string) ([]byte, error) {
	wallet, ok := l.Registries().Wallet(walletID)
	if !ok {
		return nil, ErrNoTreasuryWallet
	}
	identity, ok := l.Registries().Identity(wallet.OwnerIdentityID)
	if !ok || identity.Revoked {
		return nil, ErrNoTreasuryWallet
	}
	return identity.PublicKey, nil
}

// BuildDaoExecutionTransaction assembles (but does not submit) the
// DaoExecution transaction for a passed proposal: spec.md §4.4 requires the
// proposal to be present in some accepted block, passed at the 60%
// threshold, not already executed, and funded by treasury UTXOs covering
// amount+fee. The caller is responsible for signing the result (it needs
// the treasury's Dilithium2 key, which this package never holds) before
// submitting it through Ledger.SubmitUserTransaction.
func BuildDaoExecutionTransaction(l *Ledger, proposalID string, recipient []byte, amount, feePerByte uint64) (*Transaction, error) {
	rec, ok := l.Registries().DaoProposal(proposalID)
	if !ok {
		return nil, ErrProposalNotFound
	}
	if rec.Executed {
		return nil, ErrProposalAlreadyExecuted
	}
	if decision := DecideDaoExecution(rec); !decision.Passed {
		return nil, ErrProposalNotPassed
	}

	treasuryWallet, ok := l.TreasuryWalletID()
	if !ok {
		return nil, ErrNoTreasuryWallet
	}
	treasuryRecipient, err := treasuryRecipientFor(l, treasuryWallet)
	if err != nil {
		return nil, err
	}

	// Fee is estimated pessimistically from a typical single-recipient,
	// single-change payout before the final size is known; it is not
	// recomputed from the finished transaction's size.
	const estimatedSizeBytes = 512
	fee := estimatedSizeBytes * feePerByte

	selected, change, err := l.SelectTreasuryUTXOs(treasuryRecipient, amount+fee)
	if err != nil {
		return nil, err
	}

	recipientBlinding := make([]byte, 32)
	if _, err := rand.Read(recipientBlinding); err != nil {
		return nil, err
	}
	recipientCommit, err := pedersenCommit(amount, recipientBlinding)
	if err != nil {
		return nil, err
	}

	outputs := []TransactionOutput{{Commitment: recipientCommit, Recipient: recipient}}
	if change > 0 {
		changeBlinding := make([]byte, 32)
		if _, err := rand.Read(changeBlinding); err != nil {
			return nil, err
		}
		changeCommit, err := pedersenCommit(change, changeBlinding)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, TransactionOutput{Commitment: changeCommit, Recipient: treasuryRecipient})
	}

	inputs := make([]TransactionInput, 0, len(selected))
	for _, entry := range selected {
		// The nullifier and its accompanying proof are ordinarily produced
		// by the spender's ZK-proof-generation path, which spec.md §1
		// scopes out entirely (only a ProofVerifier interface is
		// specified). For the treasury's own self-spends the same
		// derivation used for the wallet's outgoing-transaction nullifier
		// convention is applied deterministically, analogous to how
		// sumOutputPlaceholder in ledger.go stands in for the withheld
		// amount-decryption step.
		nullifier := Blake3Sum32(entry.TxHash[:], []byte("ZHTP_TREASURY_NULLIFIER"), []byte{byte(entry.Index)})
		inputs = append(inputs, TransactionInput{
			PreviousOutput: entry.TxHash,
			OutputIndex:    entry.Index,
			Nullifier:      nullifier,
		})
	}

	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxDaoExecution,
		Inputs:  inputs,
		Outputs: outputs,
		Fee:     fee,
		DaoPayload: &DaoPayload{
			ProposalID: proposalID,
			Recipient:  recipient,
			Amount:     amount,
		},
	}

	if change > 0 {
		l.RecordKnownOutputValue(tx.Hash(), 1, change)
	}
	l.RecordKnownOutputValue(tx.Hash(), 0, amount)

	return tx, nil
}
