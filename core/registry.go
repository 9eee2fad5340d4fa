package core

import (
	"sort"
	"sync"
)

// Registries hold the on-chain identity/wallet/validator/welfare/DAO/
// contract state extracted from confirmed transactions. Each record type
// keeps a companion "*_blocks" map recording the height at which the
// record last changed, mirroring the teacher's identity_verification.go
// confirmation-height convention but generalized across every record
// kind instead of identities alone.

// IdentityRecord is a registered DID.
type IdentityRecord struct {
	DID             string
	PublicKey       []byte
	ControlledNodes []string
	Revoked         bool
}

// WalletRecord binds a wallet id to its owning identity.
type WalletRecord struct {
	WalletID        string
	OwnerIdentityID string
}

// ValidatorRecord tracks a validator's stake and storage commitment.
// Minimum stake is 1000 at genesis and 100000 post-genesis; minimum
// storage is 10 GiB post-genesis (spec.md §4.4).
type ValidatorRecord struct {
	IdentityID      string
	Stake           uint64
	StorageProvided uint64
	ConsensusKey    []byte
	Active          bool
}

const (
	GenesisMinStake     = 1000
	PostGenesisMinStake = 100_000
	PostGenesisMinStorageBytes = 10 * 1 << 30
)

// ContractRecord is a registered token or Web4 contract.
type ContractRecord struct {
	ContractID string
	IsWeb4     bool
	Metadata   []byte
}

// DaoRecord is a proposal's running tally, kept in Registries.daoProposals
// and updated in place by ApplyTransaction as DaoProposal/DaoVote/
// DaoExecution transactions are confirmed. It is not rebuilt by rescanning
// blocks.
type DaoRecord struct {
	ProposalID string
	VotesFor   uint64
	VotesAgainst uint64
	Executed   bool
}

// Registries is the full set of on-chain registry state plus the
// per-record confirmation-height ("*_blocks") maps.
type Registries struct {
	mu sync.RWMutex

	identities       map[string]*IdentityRecord
	identityBlocks   map[string]uint64
	wallets          map[string]*WalletRecord
	walletBlocks     map[string]uint64
	validators       map[string]*ValidatorRecord
	validatorBlocks  map[string]uint64
	contracts        map[string]*ContractRecord
	contractBlocks   map[string]uint64
	daoProposals     map[string]*DaoRecord
	daoBlocks        map[string]uint64
}

func newRegistries() *Registries {
	return &Registries{
		identities:      make(map[string]*IdentityRecord),
		identityBlocks:  make(map[string]uint64),
		wallets:         make(map[string]*WalletRecord),
		walletBlocks:    make(map[string]uint64),
		validators:      make(map[string]*ValidatorRecord),
		validatorBlocks: make(map[string]uint64),
		contracts:       make(map[string]*ContractRecord),
		contractBlocks:  make(map[string]uint64),
		daoProposals:    make(map[string]*DaoRecord),
		daoBlocks:       make(map[string]uint64),
	}
}

// ApplyTransaction extracts any registry mutation tx carries and applies
// it at the given confirmation height. Called once per transaction during
// AddBlock, after the transaction has already passed validation.
func (r *Registries) ApplyTransaction(tx *Transaction, height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch tx.Type {
	case TxIdentityRegistration:
		p := tx.IdentityPayload
		r.identities[p.DID] = &IdentityRecord{DID: p.DID, PublicKey: p.PublicKey, ControlledNodes: p.ControlledNodes}
		r.identityBlocks[p.DID] = height

	case TxIdentityUpdate:
		p := tx.IdentityPayload
		existing, ok := r.identities[p.DID]
		if !ok {
			existing = &IdentityRecord{DID: p.DID}
		}
		existing.PublicKey = p.PublicKey
		// ControlledNodes is preserved across updates unless the payload
		// explicitly supplies a replacement list (spec.md §4.4).
		if len(p.ControlledNodes) > 0 {
			existing.ControlledNodes = p.ControlledNodes
		}
		r.identities[p.DID] = existing
		r.identityBlocks[p.DID] = height

	case TxIdentityRevocation:
		p := tx.IdentityPayload
		if existing, ok := r.identities[p.DID]; ok {
			existing.Revoked = true
		} else {
			r.identities[p.DID] = &IdentityRecord{DID: p.DID, Revoked: true}
		}
		r.identityBlocks[p.DID] = height

	case TxWalletRegistration:
		p := tx.WalletPayload
		r.wallets[p.WalletID] = &WalletRecord{WalletID: p.WalletID, OwnerIdentityID: p.OwnerIdentityID}
		r.walletBlocks[p.WalletID] = height

	case TxValidatorRegistration:
		p := tx.ValidatorPayload
		r.validators[p.IdentityID] = &ValidatorRecord{
			IdentityID:      p.IdentityID,
			Stake:           p.Stake,
			StorageProvided: p.StorageProvided,
			ConsensusKey:    p.ConsensusKey,
			Active:          p.Stake >= minStakeFor(height) && (height == 0 || p.StorageProvided >= PostGenesisMinStorageBytes),
		}
		r.validatorBlocks[p.IdentityID] = height

	case TxContractDeployment:
		p := tx.ContractPayload
		r.contracts[p.ContractID] = &ContractRecord{ContractID: p.ContractID, IsWeb4: p.IsWeb4, Metadata: p.Metadata}
		r.contractBlocks[p.ContractID] = height

	case TxDaoProposal:
		p := tx.DaoPayload
		r.daoProposals[p.ProposalID] = &DaoRecord{ProposalID: p.ProposalID}
		r.daoBlocks[p.ProposalID] = height

	case TxDaoVote:
		p := tx.DaoPayload
		rec, ok := r.daoProposals[p.ProposalID]
		if !ok {
			rec = &DaoRecord{ProposalID: p.ProposalID}
			r.daoProposals[p.ProposalID] = rec
		}
		if p.Approve {
			rec.VotesFor++
		} else {
			rec.VotesAgainst++
		}
		r.daoBlocks[p.ProposalID] = height

	case TxDaoExecution:
		p := tx.DaoPayload
		if rec, ok := r.daoProposals[p.ProposalID]; ok {
			rec.Executed = true
		}
		r.daoBlocks[p.ProposalID] = height
	}
}

// minStakeFor returns the minimum validator stake required for a
// registration confirmed at height (genesis allows the lower bound).
func minStakeFor(height uint64) uint64 {
	if height == 0 {
		return GenesisMinStake
	}
	return PostGenesisMinStake
}

func (r *Registries) Identity(did string) (*IdentityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.identities[did]
	return rec, ok
}

func (r *Registries) Validator(identityID string) (*ValidatorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.validators[identityID]
	return rec, ok
}

func (r *Registries) Wallet(walletID string) (*WalletRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.wallets[walletID]
	return rec, ok
}

func (r *Registries) Contract(contractID string) (*ContractRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.contracts[contractID]
	return rec, ok
}

func (r *Registries) DaoProposal(proposalID string) (*DaoRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.daoProposals[proposalID]
	return rec, ok
}

// MergeFrom inserts every identity/wallet/validator/contract present in
// other but absent locally, never overwriting an existing entry. This is
// the data-consolidation step of spec.md §4.3's Merge/MergeContentOnly/
// AdoptLocal actions: "insert identities/wallets/validators/contracts/
// UTXOs present in the other side but absent locally. Never replace
// existing entries."
func (r *Registries) MergeFrom(other *Registries) (inserted int) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	for did, rec := range other.identities {
		if _, exists := r.identities[did]; !exists {
			r.identities[did] = rec
			r.identityBlocks[did] = other.identityBlocks[did]
			inserted++
		}
	}
	for id, rec := range other.wallets {
		if _, exists := r.wallets[id]; !exists {
			r.wallets[id] = rec
			r.walletBlocks[id] = other.walletBlocks[id]
			inserted++
		}
	}
	for id, rec := range other.validators {
		if _, exists := r.validators[id]; !exists {
			r.validators[id] = rec
			r.validatorBlocks[id] = other.validatorBlocks[id]
			inserted++
		}
	}
	for id, rec := range other.contracts {
		if _, exists := r.contracts[id]; !exists {
			r.contracts[id] = rec
			r.contractBlocks[id] = other.contractBlocks[id]
			inserted++
		}
	}
	return inserted
}

// replaceWith swaps every map in r for a deep reference to other's maps,
// used by AdoptImported(same genesis) to make the imported registries the
// new local state outright (spec.md §4.3: "replace local ... registries
// with imported").
func (r *Registries) replaceWith(other *Registries) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities = other.identities
	r.identityBlocks = other.identityBlocks
	r.wallets = other.wallets
	r.walletBlocks = other.walletBlocks
	r.validators = other.validators
	r.validatorBlocks = other.validatorBlocks
	r.contracts = other.contracts
	r.contractBlocks = other.contractBlocks
	r.daoProposals = other.daoProposals
	r.daoBlocks = other.daoBlocks
}

// IdentityCount, ContractCount and ValidatorCount report registry sizes
// used by ChainSummary construction (spec.md §4.3); ValidatorCount counts
// active validators only.
func (r *Registries) IdentityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

func (r *Registries) ContractCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}

func (r *Registries) ValidatorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := 0
	for _, v := range r.validators {
		if v.Active {
			active++
		}
	}
	return active
}

func (r *Registries) TotalValidatorStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total uint64
	for _, v := range r.validators {
		total += v.Stake
	}
	return total
}

// ValidatorSetHash returns a Blake3 digest over the sorted identity bytes
// of every active validator, used by the merge engine to compare
// validator sets across chains without transmitting the full set
// (redesign over the teacher's ad hoc fork comparisons in
// chain_fork_manager.go).
func (r *Registries) ValidatorSetHash() Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.validators))
	for id, v := range r.validators {
		if v.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	parts := make([][]byte, len(ids))
	for i, id := range ids {
		parts[i] = []byte(id)
	}
	return Blake3Sum32(parts...)
}
