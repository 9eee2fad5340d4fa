package core

import "encoding/binary"

// TxType enumerates the transaction categories of spec.md §3.
type TxType uint8

const (
	TxTransfer TxType = iota
	TxIdentityRegistration
	TxIdentityUpdate
	TxIdentityRevocation
	TxWalletRegistration
	TxContractDeployment
	TxDaoProposal
	TxDaoVote
	TxDaoExecution
	TxValidatorRegistration
)

// TransactionInput spends a previously-created output. Invariant: the
// nullifier, once accepted anywhere in the ledger, must never be reused.
type TransactionInput struct {
	PreviousOutput Hash   `json:"previous_output"`
	OutputIndex    uint32 `json:"output_index"`
	Nullifier      Hash   `json:"nullifier"`
	ZKProof        Proof  `json:"zk_proof"`
}

// TransactionOutput hides its value behind a Pedersen commitment; a range
// proof inside the spending transaction later proves 0 <= value < 2^64.
type TransactionOutput struct {
	Commitment Hash   `json:"commitment"`
	Note       Hash   `json:"note"`
	Recipient  []byte `json:"recipient"` // public key or identity hash
}

// Proof is an opaque ZK proof blob, verified only through ProofVerifier
// (spec.md §1 — the ZK circuits themselves are out of scope).
type Proof []byte

// Transaction is the unit of ledger mutation. Hash() is Blake3 over a
// canonical encoding that excludes signature.bytes; the signature itself
// is computed over that hash.
type Transaction struct {
	Version   uint32              `json:"version"`
	ChainID   uint32              `json:"chain_id"`
	Type      TxType              `json:"type"`
	Inputs    []TransactionInput  `json:"inputs"`
	Outputs   []TransactionOutput `json:"outputs"`
	Fee       uint64              `json:"fee"`
	Signature Signature           `json:"signature"`
	Memo      []byte              `json:"memo,omitempty"`

	// Type-specific side-data payloads; at most one is populated depending
	// on Type (a TxTransfer carries none or a DomainPayload), enforced by
	// validateSidePayload in validate.go.
	IdentityPayload  *IdentityPayload  `json:"identity_payload,omitempty"`
	WalletPayload    *WalletPayload    `json:"wallet_payload,omitempty"`
	ValidatorPayload *ValidatorPayload `json:"validator_payload,omitempty"`
	ContractPayload  *ContractPayload  `json:"contract_payload,omitempty"`
	DaoPayload       *DaoPayload       `json:"dao_payload,omitempty"`
	DomainPayload    *DomainPayload    `json:"domain_payload,omitempty"`
}

// IdentityPayload carries the fields of an identity registration/update.
type IdentityPayload struct {
	DID             string   `json:"did"`
	PublicKey       []byte   `json:"public_key"`
	ControlledNodes []string `json:"controlled_nodes,omitempty"`
}

// WalletPayload registers a wallet bound to an owning identity.
type WalletPayload struct {
	WalletID        string `json:"wallet_id"`
	OwnerIdentityID string `json:"owner_identity_id"`
}

// ValidatorPayload registers or updates a validator's stake and storage.
type ValidatorPayload struct {
	IdentityID      string `json:"identity_id"`
	Stake           uint64 `json:"stake"`
	StorageProvided uint64 `json:"storage_provided_bytes"`
	ConsensusKey    []byte `json:"consensus_key"`
}

// ContractPayload registers a token or Web4 contract record (not executed
// bytecode — spec.md Non-goals).
type ContractPayload struct {
	ContractID string `json:"contract_id"`
	IsWeb4     bool   `json:"is_web4"`
	Metadata   []byte `json:"metadata"`
}

// DaoPayload covers DaoProposal / DaoVote / DaoExecution transactions.
type DaoPayload struct {
	ProposalID string `json:"proposal_id"`
	Approve    bool   `json:"approve,omitempty"`
	Recipient  []byte `json:"recipient,omitempty"`
	Amount     uint64 `json:"amount,omitempty"`
}

// DomainPayload tags a fee-paying TxTransfer with the Web4 domain it pays
// for (spec.md §4.8); the validator then requires a fee of at least
// DomainMutationMinFee. FeeTxRef is covered by the transaction hash but is
// not checked against the ledger.
type DomainPayload struct {
	Domain   string `json:"domain"`
	FeeTxRef Hash   `json:"fee_tx_ref"`
}

// canonicalBytes encodes the transaction fields in a fixed order (Memo
// before the signature metadata, then the side payload), excluding
// Signature.Bytes, for hashing and signing (spec.md §3, §6).
func (tx *Transaction) canonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	var tmp [8]byte

	binary.LittleEndian.PutUint32(tmp[:4], tx.Version)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint32(tmp[:4], tx.ChainID)
	buf = append(buf, tmp[:4]...)
	buf = append(buf, byte(tx.Type))

	for _, in := range tx.Inputs {
		buf = append(buf, in.PreviousOutput[:]...)
		binary.LittleEndian.PutUint32(tmp[:4], in.OutputIndex)
		buf = append(buf, tmp[:4]...)
		buf = append(buf, in.Nullifier[:]...)
		buf = append(buf, in.ZKProof...)
	}
	for _, out := range tx.Outputs {
		buf = append(buf, out.Commitment[:]...)
		buf = append(buf, out.Note[:]...)
		buf = append(buf, out.Recipient...)
	}

	binary.LittleEndian.PutUint64(tmp[:8], tx.Fee)
	buf = append(buf, tmp[:8]...)
	buf = append(buf, tx.Memo...)
	buf = append(buf, tx.Signature.PublicKey...)
	binary.LittleEndian.PutUint64(tmp[:8], uint64(tx.Signature.Timestamp))
	buf = append(buf, tmp[:8]...)
	buf = append(buf, []byte(tx.Signature.Algorithm)...)

	buf = appendSidePayload(buf, tx)
	return buf
}

func appendSidePayload(buf []byte, tx *Transaction) []byte {
	switch {
	case tx.IdentityPayload != nil:
		p := tx.IdentityPayload
		buf = append(buf, []byte(p.DID)...)
		buf = append(buf, p.PublicKey...)
		for _, n := range p.ControlledNodes {
			buf = append(buf, []byte(n)...)
		}
	case tx.WalletPayload != nil:
		p := tx.WalletPayload
		buf = append(buf, []byte(p.WalletID)...)
		buf = append(buf, []byte(p.OwnerIdentityID)...)
	case tx.ValidatorPayload != nil:
		p := tx.ValidatorPayload
		var tmp [8]byte
		buf = append(buf, []byte(p.IdentityID)...)
		binary.LittleEndian.PutUint64(tmp[:], p.Stake)
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], p.StorageProvided)
		buf = append(buf, tmp[:]...)
		buf = append(buf, p.ConsensusKey...)
	case tx.ContractPayload != nil:
		p := tx.ContractPayload
		buf = append(buf, []byte(p.ContractID)...)
		buf = append(buf, p.Metadata...)
	case tx.DaoPayload != nil:
		p := tx.DaoPayload
		var tmp [8]byte
		buf = append(buf, []byte(p.ProposalID)...)
		buf = append(buf, p.Recipient...)
		binary.LittleEndian.PutUint64(tmp[:], p.Amount)
		buf = append(buf, tmp[:]...)
	case tx.DomainPayload != nil:
		p := tx.DomainPayload
		buf = append(buf, []byte(p.Domain)...)
		buf = append(buf, p.FeeTxRef[:]...)
	}
	return buf
}

// Hash returns the Blake3 digest of the transaction's canonical encoding,
// excluding the signature bytes (spec.md §3, §6).
func (tx *Transaction) Hash() Hash {
	return Blake3Sum32(tx.canonicalBytes())
}

// SizeBytes estimates the encoded transaction size for fee calculation
// (spec.md §4.1 rule 7 / §4.8 fee minimums). It sums the canonical
// encoding plus the signature bytes, which are excluded from Hash but are
// still transmitted on the wire.
func (tx *Transaction) SizeBytes() int {
	return len(tx.canonicalBytes()) + len(tx.Signature.Bytes)
}

// IsSystem reports whether tx has no inputs, i.e. is a protocol-emitted
// transaction (block reward, UBI, welfare emission) rather than a
// user-submitted one (spec.md §4.1 rule 3).
func (tx *Transaction) IsSystem() bool { return len(tx.Inputs) == 0 }
