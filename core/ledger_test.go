package core

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
)

// acceptAllProofs is a ProofVerifier stub that accepts every proof,
// letting ledger tests exercise validation rules that don't concern the
// (externally specified, out-of-scope) ZK circuits themselves.
type acceptAllProofs struct{}

func (acceptAllProofs) VerifyRangeProof(Hash, Proof) bool                   { return true }
func (acceptAllProofs) VerifyOwnershipProof(TransactionOutput, Proof) bool  { return true }
func (acceptAllProofs) VerifyNullifierProof(Hash, TransactionOutput, Proof) bool {
	return true
}
func (acceptAllProofs) VerifyIdentityProof(string, Proof) bool    { return true }
func (acceptAllProofs) VerifyStorageProof(string, uint64, Proof) bool { return true }
func (acceptAllProofs) VerifyRecursiveChainProof(ChainSummary, Proof) bool { return true }

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	cfg := LedgerConfig{
		ChainID:           7,
		GenesisDifficulty: 0x20ffffff, // >= ProductionThreshold: dev/profile mode
		GenesisTimestamp:  1_700_000_000,
		MinFeePerByte:     1,
	}
	return NewLedger(cfg, acceptAllProofs{})
}

func keypair(t *testing.T) (PublicKey, PrivateKey) {
	t.Helper()
	pk, sk, err := DefaultCrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pk, sk
}

func randomHash(t *testing.T) Hash {
	t.Helper()
	var h Hash
	if _, err := rand.Read(h[:]); err != nil {
		t.Fatalf("random hash: %v", err)
	}
	return h
}

// signTx finalizes a transaction's signature fields (leaving Fee
// untouched) and signs over its hash, which itself excludes
// Signature.Bytes.
func signTx(t *testing.T, tx *Transaction, pk PublicKey, sk PrivateKey) {
	t.Helper()
	tx.Signature.PublicKey = pk
	tx.Signature.Algorithm = AlgorithmDilithium2
	tx.Signature.Timestamp = time.Now().Unix()
	h := tx.Hash()
	sig, err := DefaultCrypto.Sign(sk, h.Bytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signature.Bytes = sig
}

// feeSizedTransfer sets Fee from the transaction's final on-wire size
// (canonical encoding plus a Dilithium2 signature's fixed length, known
// in advance since the signature itself cannot be produced before Fee is
// fixed — Fee is part of the signed hash) at twice the ledger's minimum
// per-byte rate, plus any type-specific surcharge, then signs.
func feeSizedTransfer(t *testing.T, l *Ledger, tx *Transaction, pk PublicKey, sk PrivateKey, surcharge uint64) {
	t.Helper()
	tx.Signature.PublicKey = pk
	tx.Signature.Algorithm = AlgorithmDilithium2
	tx.Signature.Timestamp = time.Now().Unix()
	finalSize := len(tx.canonicalBytes()) + mode2.SignatureSize
	tx.Fee = uint64(finalSize)*l.MinFeePerByte()*2 + surcharge
	signTx(t, tx, pk, sk)
}

// mineBlock appends b's transactions atop the current tip, filling in
// linkage, difficulty and merkle root, then calls AddBlock.
func mineBlock(t *testing.T, l *Ledger, txs []*Transaction) *Block {
	t.Helper()
	tip := l.Tip()
	b := &Block{
		Header: BlockHeader{
			PreviousHash: tip.Hash(),
			Timestamp:    tip.Header.Timestamp + 1,
			Difficulty:   tip.Header.Difficulty,
		},
		Height:       tip.Height + 1,
		Transactions: txs,
	}
	b.Header.MerkleRoot = b.ComputeMerkleRoot()
	if err := l.AddBlock(b); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return b
}

// fundOutput mines a single-output system transaction paying pk, returning
// the funding transaction's hash (output index 0).
func fundOutput(t *testing.T, l *Ledger, pk PublicKey) Hash {
	t.Helper()
	commitment, err := DefaultCrypto.Commit(1000, []byte("blinding-fund"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Outputs: []TransactionOutput{{Commitment: commitment, Recipient: pk}},
	}
	if err := l.EmitProtocolTransaction(tx); err != nil {
		t.Fatalf("EmitProtocolTransaction: %v", err)
	}
	mineBlock(t, l, []*Transaction{tx})
	return tx.Hash()
}

func TestGenesisOnlyChain(t *testing.T) {
	l := newTestLedger(t)
	if l.Height() != 0 {
		t.Fatalf("expected genesis height 0, got %d", l.Height())
	}
	if l.PendingCount() != 0 {
		t.Fatalf("expected empty pending pool at genesis")
	}

	noInputs := &Transaction{Version: 1, ChainID: l.ChainID(), Type: TxTransfer}
	err := l.SubmitUserTransaction(noInputs)
	if err != ErrProtocolOnly {
		t.Fatalf("expected ErrProtocolOnly for a user-submitted input-less transaction, got %v", err)
	}
}

func TestSubmitAndMineTransfer(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	fundTxHash := fundOutput(t, l, pk)

	if _, ok := l.LookupUTXO(fundTxHash, 0); !ok {
		t.Fatalf("expected funded output to be present in the UTXO set")
	}

	destPK, _ := keypair(t)
	spendCommit, err := DefaultCrypto.Commit(1000, []byte("blinding-spend"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs: []TransactionOutput{{Commitment: spendCommit, Recipient: destPK}},
	}
	feeSizedTransfer(t, l, tx, pk, sk, 0)

	if err := l.SubmitUserTransaction(tx); err != nil {
		t.Fatalf("SubmitUserTransaction: %v", err)
	}
	if l.PendingCount() != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", l.PendingCount())
	}

	mineBlock(t, l, []*Transaction{tx})

	if _, ok := l.LookupUTXO(fundTxHash, 0); ok {
		t.Fatalf("spent output should no longer be in the UTXO set")
	}
	if !l.HasNullifier(tx.Inputs[0].Nullifier) {
		t.Fatalf("spending nullifier should now be recorded")
	}
	if l.PendingCount() != 0 {
		t.Fatalf("mined transaction should be pruned from the pending pool")
	}
	if l.Height() != 2 {
		t.Fatalf("expected height 2 after the funding block and the spending block, got %d", l.Height())
	}
}

func TestDoubleSpendRejected(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	fundTxHash := fundOutput(t, l, pk)

	destPK, _ := keypair(t)
	nullifier := randomHash(t)

	buildSpend := func() *Transaction {
		commit, err := DefaultCrypto.Commit(500, []byte("blinding"))
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		tx := &Transaction{
			Version: 1,
			ChainID: l.ChainID(),
			Type:    TxTransfer,
			Inputs: []TransactionInput{{
				PreviousOutput: fundTxHash,
				OutputIndex:    0,
				Nullifier:      nullifier,
			}},
			Outputs: []TransactionOutput{{Commitment: commit, Recipient: destPK}},
		}
		feeSizedTransfer(t, l, tx, pk, sk, 0)
		return tx
	}

	first := buildSpend()
	if err := l.SubmitUserTransaction(first); err != nil {
		t.Fatalf("first spend should be accepted: %v", err)
	}
	mineBlock(t, l, []*Transaction{first})

	// A second, distinct transaction attempting to reuse the now-confirmed
	// nullifier must be rejected even though it is otherwise well-formed.
	second := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      nullifier,
		}},
	}
	commit, _ := DefaultCrypto.Commit(1, []byte("other"))
	second.Outputs = []TransactionOutput{{Commitment: commit, Recipient: destPK}}
	feeSizedTransfer(t, l, second, pk, sk, 0)

	err := l.SubmitUserTransaction(second)
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected a *ValidationError, got %v (%T)", err, err)
	}
	if verr.Kind != KindDoubleSpend && verr.Kind != KindUnknownInput {
		t.Fatalf("expected DoubleSpend or UnknownInput (output already spent), got %s", verr.Kind)
	}
}

func TestInsufficientFeeRejected(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	fundTxHash := fundOutput(t, l, pk)

	destPK, _ := keypair(t)
	commit, _ := DefaultCrypto.Commit(1, []byte("blinding"))
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs: []TransactionOutput{{Commitment: commit, Recipient: destPK}},
		Fee:     0,
	}
	signTx(t, tx, pk, sk)

	err := l.SubmitUserTransaction(tx)
	verr, ok := err.(*ValidationError)
	if !ok || verr.Kind != KindInsufficientFee {
		t.Fatalf("expected InsufficientFee, got %v", err)
	}
}

func TestUnknownInputRejected(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	destPK, _ := keypair(t)
	commit, _ := DefaultCrypto.Commit(1, []byte("blinding"))

	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxTransfer,
		Inputs: []TransactionInput{{
			PreviousOutput: randomHash(t),
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs: []TransactionOutput{{Commitment: commit, Recipient: destPK}},
	}
	feeSizedTransfer(t, l, tx, pk, sk, 0)

	err := l.SubmitUserTransaction(tx)
	verr, ok := err.(*ValidationError)
	if !ok || verr.Kind != KindUnknownInput {
		t.Fatalf("expected UnknownInput, got %v", err)
	}
}

func TestWrongChainRejected(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	tx := &Transaction{Version: 1, ChainID: l.ChainID() + 1, Type: TxTransfer}
	signTx(t, tx, pk, sk)
	// no inputs means this would hit ErrProtocolOnly first for a user
	// submission; check chain validation directly via the validator.
	if err := l.validator.ValidateTransaction(tx); err == nil {
		t.Fatalf("expected validation failure for mismatched chain id")
	} else if verr, ok := err.(*ValidationError); !ok || verr.Kind != KindWrongChain {
		t.Fatalf("expected WrongChain, got %v", err)
	}
}

func TestIdentityRegistrationAppliesToRegistry(t *testing.T) {
	l := newTestLedger(t)
	pk, sk := keypair(t)
	fundTxHash := fundOutput(t, l, pk)

	commit, _ := DefaultCrypto.Commit(1, []byte("b"))
	tx := &Transaction{
		Version: 1,
		ChainID: l.ChainID(),
		Type:    TxIdentityRegistration,
		Inputs: []TransactionInput{{
			PreviousOutput: fundTxHash,
			OutputIndex:    0,
			Nullifier:      randomHash(t),
		}},
		Outputs: []TransactionOutput{{Commitment: commit, Recipient: pk}},
		IdentityPayload: &IdentityPayload{
			DID:       "did:zhtp:abc123",
			PublicKey: pk,
		},
	}
	feeSizedTransfer(t, l, tx, pk, sk, IdentityRegistrationSurcharge)

	if err := l.SubmitUserTransaction(tx); err != nil {
		t.Fatalf("SubmitUserTransaction: %v", err)
	}
	mineBlock(t, l, []*Transaction{tx})

	rec, ok := l.Registries().Identity("did:zhtp:abc123")
	if !ok {
		t.Fatalf("expected identity to be registered after block acceptance")
	}
	if rec.Revoked {
		t.Fatalf("freshly registered identity should not be revoked")
	}
}

func TestBlockRejectedOnBadPrevHash(t *testing.T) {
	l := newTestLedger(t)
	tip := l.Tip()
	b := &Block{
		Header: BlockHeader{
			PreviousHash: randomHash(t),
			Timestamp:    tip.Header.Timestamp + 1,
			Difficulty:   tip.Header.Difficulty,
		},
		Height: tip.Height + 1,
	}
	b.Header.MerkleRoot = b.ComputeMerkleRoot()
	err := l.AddBlock(b)
	verr, ok := err.(*ValidationError)
	if !ok || verr.Kind != KindPrevHashMismatch {
		t.Fatalf("expected PrevHashMismatch, got %v", err)
	}
}

func TestBlockRejectedOnBadMerkleRoot(t *testing.T) {
	l := newTestLedger(t)
	tip := l.Tip()
	b := &Block{
		Header: BlockHeader{
			PreviousHash: tip.Hash(),
			Timestamp:    tip.Header.Timestamp + 1,
			Difficulty:   tip.Header.Difficulty,
			MerkleRoot:   randomHash(t),
		},
		Height: tip.Height + 1,
	}
	err := l.AddBlock(b)
	verr, ok := err.(*ValidationError)
	if !ok || verr.Kind != KindMerkleMismatch {
		t.Fatalf("expected MerkleMismatch, got %v", err)
	}
}

func TestPendingPoolFull(t *testing.T) {
	l := newTestLedger(t)
	// Directly exercise the cap without minting MaxPendingTransactions
	// real transactions: fill pendingIx/pending via repeated system
	// submissions, each individually valid and cheap to construct.
	pk, _ := keypair(t)
	commit, _ := DefaultCrypto.Commit(1, []byte("b"))
	for i := 0; i < MaxPendingTransactions; i++ {
		tx := &Transaction{
			Version: 1,
			ChainID: l.ChainID(),
			Type:    TxTransfer,
			Outputs: []TransactionOutput{{Commitment: commit, Recipient: pk}},
			Memo:    []byte{byte(i), byte(i >> 8), byte(i >> 16)},
		}
		if err := l.EmitProtocolTransaction(tx); err != nil {
			t.Fatalf("EmitProtocolTransaction %d: %v", i, err)
		}
	}
	overflow := &Transaction{Version: 1, ChainID: l.ChainID(), Type: TxTransfer}
	if err := l.EmitProtocolTransaction(overflow); err != ErrPoolFull {
		t.Fatalf("expected ErrPoolFull once the pool is at capacity, got %v", err)
	}
}
