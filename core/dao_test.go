package core

import "testing"

// registerTestIdentity funds pk and mines a TxIdentityRegistration for did,
// leaving l in its post-registration state.
func registerTestIdentity(t *testing.T, l *Ledger, did string, pk PublicKey, sk PrivateKey) {
	t.Helper()
	fundTxHash := fundOutput(t, l, pk)
	commit, err := DefaultCrypto.Commit(1, []byte("identity-reg"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxIdentityRegistration,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs:         []TransactionOutput{{Commitment: commit, Recipient: pk}},
		IdentityPayload: &IdentityPayload{DID: did, PublicKey: pk},
	}
	feeSizedTransfer(t, l, tx, pk, sk, IdentityRegistrationSurcharge)
	if err := l.SubmitUserTransaction(tx); err != nil {
		t.Fatalf("SubmitUserTransaction(identity): %v", err)
	}
	mineBlock(t, l, []*Transaction{tx})
}

// registerTestWallet funds pk, mines a TxWalletRegistration binding
// walletID to ownerDID.
func registerTestWallet(t *testing.T, l *Ledger, walletID, ownerDID string, pk PublicKey, sk PrivateKey) {
	t.Helper()
	fundTxHash := fundOutput(t, l, pk)
	commit, err := DefaultCrypto.Commit(1, []byte("wallet-reg"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxWalletRegistration,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs:       []TransactionOutput{{Commitment: commit, Recipient: pk}},
		WalletPayload: &WalletPayload{WalletID: walletID, OwnerIdentityID: ownerDID},
	}
	feeSizedTransfer(t, l, tx, pk, sk, 0)
	if err := l.SubmitUserTransaction(tx); err != nil {
		t.Fatalf("SubmitUserTransaction(wallet): %v", err)
	}
	mineBlock(t, l, []*Transaction{tx})
}

// fundTreasury mints a known-value output addressed to the treasury
// identity's public key and mines it, leaving the ledger able to select it
// via SelectTreasuryUTXOs.
func fundTreasury(t *testing.T, l *Ledger, treasuryPK PublicKey, amount uint64) {
	t.Helper()
	commit, err := DefaultCrypto.Commit(amount, []byte("treasury-fund"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Outputs: []TransactionOutput{{Commitment: commit, Recipient: treasuryPK}},
	}
	l.RecordKnownOutputValue(tx.Hash(), 0, amount)
	if err := l.EmitProtocolTransaction(tx); err != nil {
		t.Fatalf("EmitProtocolTransaction(treasury fund): %v", err)
	}
	mineBlock(t, l, []*Transaction{tx})
}

// setUpPassedProposal registers a treasury identity/wallet, funds the
// treasury, and drives a DAO proposal to a passing vote tally, returning
// the proposal id and the treasury keypair.
func setUpPassedProposal(t *testing.T, l *Ledger) (proposalID string, treasuryPK PublicKey, treasurySK PrivateKey) {
	t.Helper()
	treasuryPK, treasurySK = keypair(t)
	registerTestIdentity(t, l, "did:zhtp:treasury", treasuryPK, treasurySK)
	registerTestWallet(t, l, "treasury-wallet", "did:zhtp:treasury", treasuryPK, treasurySK)
	l.SetTreasuryWallet("treasury-wallet")
	fundTreasury(t, l, treasuryPK, 1_000_000)

	proposalID = NewProposalID()
	proposerPK, proposerSK := keypair(t)
	registerTestIdentity(t, l, "did:zhtp:proposer", proposerPK, proposerSK)

	fundTxHash := fundOutput(t, l, proposerPK)
	commit, err := DefaultCrypto.Commit(1, []byte("proposal"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	proposeTx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxDaoProposal,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs:    []TransactionOutput{{Commitment: commit, Recipient: proposerPK}},
		DaoPayload: &DaoPayload{ProposalID: proposalID},
	}
	feeSizedTransfer(t, l, proposeTx, proposerPK, proposerSK, 0)
	if err := l.SubmitUserTransaction(proposeTx); err != nil {
		t.Fatalf("SubmitUserTransaction(proposal): %v", err)
	}
	mineBlock(t, l, []*Transaction{proposeTx})

	vote(t, l, proposalID, true, 6)
	vote(t, l, proposalID, false, 4)

	return proposalID, treasuryPK, treasurySK
}

func vote(t *testing.T, l *Ledger, proposalID string, approve bool, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		voterPK, voterSK := keypair(t)
		fundTxHash := fundOutput(t, l, voterPK)
		commit, err := DefaultCrypto.Commit(1, []byte("vote"))
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		tx := &Transaction{
			Version: 1,
			ChainID: l.ChainID(),
			Type:    TxDaoVote,
			Inputs: []TransactionInput{{
				PreviousOutput: fundTxHash,
				OutputIndex:    0,
				Nullifier:      randomHash(t),
			}},
			Outputs:    []TransactionOutput{{Commitment: commit, Recipient: voterPK}},
			DaoPayload: &DaoPayload{ProposalID: proposalID, Approve: approve},
		}
		feeSizedTransfer(t, l, tx, voterPK, voterSK, 0)
		if err := l.SubmitUserTransaction(tx); err != nil {
			t.Fatalf("SubmitUserTransaction(vote): %v", err)
		}
		mineBlock(t, l, []*Transaction{tx})
	}
}

func TestBuildDaoExecutionTransactionForPassedProposal(t *testing.T) {
	l := newTestLedger(t)
	proposalID, treasuryPK, _ := setUpPassedProposal(t, l)

	recipientPK, _ := keypair(t)
	tx, err := BuildDaoExecutionTransaction(l, proposalID, recipientPK, 1000, l.MinFeePerByte())
	if err != nil {
		t.Fatalf("BuildDaoExecutionTransaction: %v", err)
	}
	if tx.Type != TxDaoExecution {
		t.Fatalf("expected a TxDaoExecution transaction")
	}
	if len(tx.Inputs) == 0 {
		t.Fatalf("expected the execution transaction to spend treasury UTXOs")
	}
	if tx.Outputs[0].Recipient == nil {
		t.Fatalf("expected a payout output to the requested recipient")
	}
	_ = treasuryPK
}

func TestBuildDaoExecutionTransactionRejectsUnpassedProposal(t *testing.T) {
	l := newTestLedger(t)
	treasuryPK, treasurySK := keypair(t)
	registerTestIdentity(t, l, "did:zhtp:treasury", treasuryPK, treasurySK)
	registerTestWallet(t, l, "treasury-wallet", "did:zhtp:treasury", treasuryPK, treasurySK)
	l.SetTreasuryWallet("treasury-wallet")
	fundTreasury(t, l, treasuryPK, 1_000_000)

	proposalID := NewProposalID()
	proposerPK, proposerSK := keypair(t)
	registerTestIdentity(t, l, "did:zhtp:proposer", proposerPK, proposerSK)
	fundTxHash := fundOutput(t, l, proposerPK)
	commit, _ := DefaultCrypto.Commit(1, []byte("proposal"))
	proposeTx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxDaoProposal,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs:    []TransactionOutput{{Commitment: commit, Recipient: proposerPK}},
		DaoPayload: &DaoPayload{ProposalID: proposalID},
	}
	feeSizedTransfer(t, l, proposeTx, proposerPK, proposerSK, 0)
	if err := l.SubmitUserTransaction(proposeTx); err != nil {
		t.Fatalf("SubmitUserTransaction(proposal): %v", err)
	}
	mineBlock(t, l, []*Transaction{proposeTx})
	vote(t, l, proposalID, true, 1)
	vote(t, l, proposalID, false, 9)

	recipientPK, _ := keypair(t)
	_, err := BuildDaoExecutionTransaction(l, proposalID, recipientPK, 1000, l.MinFeePerByte())
	if err != ErrProposalNotPassed {
		t.Fatalf("expected ErrProposalNotPassed, got %v", err)
	}
}

func TestBuildDaoExecutionTransactionUnknownProposal(t *testing.T) {
	l := newTestLedger(t)
	recipientPK, _ := keypair(t)
	_, err := BuildDaoExecutionTransaction(l, "nonexistent", recipientPK, 100, l.MinFeePerByte())
	if err != ErrProposalNotFound {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}
