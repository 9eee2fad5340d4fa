package core

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

// AdjustmentInterval is the number of blocks between difficulty retargets
// (spec.md §4.1).
const AdjustmentInterval = 2016

// TargetBlockSeconds is the intended spacing between blocks the retarget
// algorithm aims to hold.
const TargetBlockSeconds = 600

// MaxPendingTransactions bounds the pending pool; once full, new
// submissions are rejected with ErrPoolFull rather than silently evicting
// older transactions (spec.md §4.1).
const MaxPendingTransactions = 10_000

var (
	ErrPoolFull          = errors.New("core: pending transaction pool is full")
	ErrUnknownTip        = errors.New("core: ledger has no blocks")
	ErrProtocolOnly      = errors.New("core: transaction type may only be emitted by the protocol, not submitted by users")
	ErrUserOnly          = errors.New("core: transaction type may not be emitted by the protocol path")
)

// LedgerConfig parameterizes genesis, grounded on the teacher's
// LedgerConfig in ledger.go (WAL path, genesis parameters) but trimmed to
// the fields this UTXO model actually needs.
type LedgerConfig struct {
	ChainID           uint32
	GenesisDifficulty Difficulty
	GenesisTimestamp  int64
	MinFeePerByte     uint64
}

// Ledger is the single-writer-lock authority over chain state: blocks,
// the UTXO set, the nullifier set, the pending pool and the registries.
// Exactly one goroutine may hold mu for writing at a time; the ledger
// never mutates while holding a mesh or storage lock, avoiding the
// lock-ordering deadlocks the teacher's network.go broadcast-hook pattern
// was prone to.
type Ledger struct {
	mu sync.RWMutex

	cfg LedgerConfig

	blocks []*Block
	height uint64

	utxoSet      map[Hash]UTXOEntry
	nullifierSet map[Hash]struct{}

	pending   []*Transaction
	pendingIx map[Hash]struct{}

	registries *Registries
	events     *eventBus

	proofs    ProofVerifier
	validator *Validator

	lastAdjustTimestamp int64
	issuedSupply        uint64

	// nextDifficulty is the difficulty the next block must satisfy,
	// retargeted every AdjustmentInterval blocks. Kept as separate ledger
	// state rather than rewritten onto the most recently accepted block's
	// Header.Difficulty, since mutating an already-hashed, already-validated
	// block's header in place would change that block's identity hash out
	// from under it.
	nextDifficulty Difficulty

	// cumulativeWork is the running sum of every accepted block's
	// Difficulty.Work(), backing ChainSummary.TotalWork (spec.md §3/§4.1
	// step 6).
	cumulativeWork *big.Int

	// knownOutputValue is the side index resolving spec.md §9's "wallet
	// UTXO amount" Open Question: the plaintext value of outputs this
	// node itself minted (treasury fee collection, DAO execution payouts)
	// recorded at transaction-construction time, keyed by UTXO key, so the
	// treasury can later select its own UTXOs by amount without ever
	// decrypting an arbitrary commitment. See RecordKnownOutputValue.
	knownOutputValue map[Hash]uint64
	treasuryWalletID string

	confirmedTxs map[Hash]uint64
}

// NewLedger builds a ledger with a deterministic genesis block: height 0,
// no transactions, the configured genesis difficulty and timestamp, and a
// previous_hash of the zero hash. Grounded on the teacher's NewLedger,
// generalized from account-balance seeding to an empty UTXO/nullifier set
// since this model has no pre-funded accounts at genesis.
func NewLedger(cfg LedgerConfig, proofs ProofVerifier) *Ledger {
	if cfg.MinFeePerByte == 0 {
		cfg.MinFeePerByte = BaseFeePerByte
	}
	l := &Ledger{
		cfg:          cfg,
		utxoSet:      make(map[Hash]UTXOEntry),
		nullifierSet: make(map[Hash]struct{}),
		pendingIx:    make(map[Hash]struct{}),
		registries:   newRegistries(),
		events:       newEventBus(),
		proofs:           proofs,
		knownOutputValue: make(map[Hash]uint64),
		confirmedTxs:     make(map[Hash]uint64),
		nextDifficulty:   cfg.GenesisDifficulty,
		cumulativeWork:   new(big.Int).Set(cfg.GenesisDifficulty.Work()),
	}
	genesis := &Block{
		Header: BlockHeader{
			PreviousHash: Hash{},
			Timestamp:    cfg.GenesisTimestamp,
			Difficulty:   cfg.GenesisDifficulty,
			Nonce:        0,
		},
		Height:       0,
		Transactions: nil,
	}
	genesis.Header.MerkleRoot = genesis.ComputeMerkleRoot()
	l.blocks = append(l.blocks, genesis)
	l.lastAdjustTimestamp = cfg.GenesisTimestamp
	l.validator = NewValidator(l, proofs)
	return l
}

//-----------------------------------------------------------------------
// StateReader implementation, consumed by Validator
//-----------------------------------------------------------------------

func (l *Ledger) ChainID() uint32 { return l.cfg.ChainID }

func (l *Ledger) LookupUTXO(txHash Hash, index uint32) (UTXOEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookupUTXOLocked(txHash, index)
}

func (l *Ledger) HasNullifier(n Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasNullifierLocked(n)
}

// lookupUTXOLocked and hasNullifierLocked are the lock-free bodies of
// LookupUTXO/HasNullifier. Callers that already hold l.mu (AddBlock, via
// lockedStateView) must use these directly: sync.RWMutex is not
// reentrant, so going through LookupUTXO/HasNullifier while l.mu is
// write-locked deadlocks permanently.
func (l *Ledger) lookupUTXOLocked(txHash Hash, index uint32) (UTXOEntry, bool) {
	e, ok := l.utxoSet[UTXOKey(txHash, index)]
	return e, ok
}

func (l *Ledger) hasNullifierLocked(n Hash) bool {
	_, ok := l.nullifierSet[n]
	return ok
}

// lockedStateView adapts a Ledger whose mu is already held by the caller
// into the StateReader interface Validator expects, routing through the
// *Locked helpers instead of the mutex-taking LookupUTXO/HasNullifier/etc.
type lockedStateView struct{ l *Ledger }

func (v lockedStateView) ChainID() uint32 { return v.l.cfg.ChainID }

func (v lockedStateView) LookupUTXO(txHash Hash, index uint32) (UTXOEntry, bool) {
	return v.l.lookupUTXOLocked(txHash, index)
}

func (v lockedStateView) HasNullifier(n Hash) bool { return v.l.hasNullifierLocked(n) }

func (v lockedStateView) MinFeePerByte() uint64 { return v.l.cfg.MinFeePerByte }
func (v lockedStateView) DaoFeeBps() uint64     { return DaoSurchargeBps }
func (v lockedStateView) Registries() *Registries { return v.l.registries }

func (l *Ledger) MinFeePerByte() uint64 { return l.cfg.MinFeePerByte }
func (l *Ledger) DaoFeeBps() uint64     { return DaoSurchargeBps }

//-----------------------------------------------------------------------
// Tip / summary accessors
//-----------------------------------------------------------------------

// Tip returns the current chain head.
func (l *Ledger) Tip() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1]
}

// Height returns the current chain height.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// Summary builds the ChainSummary this node would present to a peer
// during mesh reconciliation (spec.md §5).
func (l *Ledger) Summary() ChainSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summaryLocked()
}

// summaryLocked builds the ChainSummary under an already-held lock; callers
// must hold mu (see ImportChain, which needs a summary while holding the
// write lock).
func (l *Ledger) summaryLocked() ChainSummary {
	genesis := l.blocks[0]
	tip := l.blocks[len(l.blocks)-1]
	var totalTx uint64
	for _, b := range l.blocks {
		totalTx += uint64(len(b.Transactions))
	}
	return ChainSummary{
		GenesisHash:         genesis.Hash(),
		TipHash:             tip.Hash(),
		Height:              l.height,
		TotalTransactions:   totalTx,
		TotalIdentities:     l.registries.IdentityCount(),
		TotalUTXOs:          len(l.utxoSet),
		TotalContracts:      l.registries.ContractCount(),
		ValidatorSetHash:    l.registries.ValidatorSetHash(),
		ValidatorCount:      l.registries.ValidatorCount(),
		TotalValidatorStake: l.registries.TotalValidatorStake(),
		LatestTimestamp:     tip.Header.Timestamp,
		TotalSupply:         l.totalSupplyLocked(),
		TotalWork:           Blake3Sum32(l.cumulativeWork.Bytes()),
	}
}

// totalSupplyLocked returns the total issued supply; actual per-output
// values are hidden behind
// Pedersen commitments, so the ledger tracks supply via an explicit
// protocol-emitted issuance counter instead of summing commitments
// (spec.md Open Question supplement, grounded on original_source's
// blockchain.rs running total-supply counter). Caller must hold mu.
func (l *Ledger) totalSupplyLocked() uint64 {
	return l.issuedSupply
}

//-----------------------------------------------------------------------
// Transaction ingress: the two disjoint paths of the redesign
//-----------------------------------------------------------------------

// SubmitUserTransaction is the fully-validated ingress path for
// externally-submitted transactions: every rule in Validator runs, and
// input-less (system) transactions, which only the protocol may emit, are
// rejected here with ErrProtocolOnly even if otherwise well-formed.
func (l *Ledger) SubmitUserTransaction(tx *Transaction) error {
	if tx.IsSystem() {
		return ErrProtocolOnly
	}
	return l.admit(tx)
}

// EmitProtocolTransaction is the privileged ingress path used only by the
// ledger's own block-assembly logic (coinbase-equivalent issuance, DAO
// execution payouts, welfare emissions). It still runs structural
// validation but does not require inputs/signature/fee, matching
// Transaction.IsSystem().
func (l *Ledger) EmitProtocolTransaction(tx *Transaction) error {
	if !tx.IsSystem() {
		return ErrUserOnly
	}
	return l.admit(tx)
}

func (l *Ledger) admit(tx *Transaction) error {
	if err := l.validator.ValidateTransaction(tx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) >= MaxPendingTransactions {
		return ErrPoolFull
	}
	h := tx.Hash()
	if _, dup := l.pendingIx[h]; dup {
		return nil
	}
	l.pending = append(l.pending, tx)
	l.pendingIx[h] = struct{}{}
	l.events.publish(LedgerEvent{Kind: EventTransactionPool, Transaction: tx})
	return nil
}

//-----------------------------------------------------------------------
// AddBlock: the six-step algorithm of spec.md §4.1
//-----------------------------------------------------------------------

// AddBlock validates and applies a new block: (1) previous-hash linkage,
// (2) difficulty target, (3) Merkle root, (4) per-transaction validation
// plus rule 8 (no nullifier reused twice within the same block), (5) UTXO
// set and nullifier set updates plus registry application, (6) pending
// pool pruning and difficulty adjustment on interval boundaries.
func (l *Ledger) AddBlock(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.blocks[len(l.blocks)-1]
	expectedDifficulty := l.currentDifficultyLocked()

	if err := ValidateBlock(b, tip.Hash(), expectedDifficulty); err != nil {
		return err
	}

	// ValidateTransaction normally reaches StateReader through
	// LookupUTXO/HasNullifier, which take l.mu.RLock(); since AddBlock
	// already holds l.mu for writing, that would deadlock against Go's
	// non-reentrant sync.RWMutex. Route validation through a Validator
	// bound to lockedStateView instead, which calls the lock-free
	// *Locked helpers directly.
	lockedValidator := &Validator{Crypto: l.validator.Crypto, Proofs: l.validator.Proofs, State: lockedStateView{l}}

	seenNullifiers := make(map[Hash]struct{})
	for _, tx := range b.Transactions {
		if err := lockedValidator.ValidateTransaction(tx); err != nil {
			return err
		}
		for _, in := range tx.Inputs {
			if _, dup := seenNullifiers[in.Nullifier]; dup {
				return failure(KindDoubleSpend, errNullifierReused)
			}
			seenNullifiers[in.Nullifier] = struct{}{}
		}
	}

	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			spentKey := UTXOKey(in.PreviousOutput, in.OutputIndex)
			delete(l.utxoSet, spentKey)
			delete(l.knownOutputValue, spentKey)
			l.nullifierSet[in.Nullifier] = struct{}{}
		}
		txHash := tx.Hash()
		for idx, out := range tx.Outputs {
			key := UTXOKey(txHash, uint32(idx))
			l.utxoSet[key] = UTXOEntry{
				Output: out,
				TxHash: txHash,
				Index:  uint32(idx),
				Height: b.Height,
				Value:  l.knownOutputValue[key],
			}
		}
		l.registries.ApplyTransaction(tx, b.Height)
		if tx.IsSystem() {
			l.issuedSupply += sumOutputPlaceholder(tx)
		}
		delete(l.pendingIx, txHash)
		l.confirmedTxs[txHash] = b.Height
	}

	l.blocks = append(l.blocks, b)
	l.height = b.Height
	l.cumulativeWork.Add(l.cumulativeWork, b.Header.Difficulty.Work())
	l.prunePendingLocked(b)

	if l.height > 0 && l.height%AdjustmentInterval == 0 {
		elapsed := b.Header.Timestamp - l.lastAdjustTimestamp
		l.nextDifficulty = AdjustDifficulty(b.Header.Difficulty, elapsed, TargetBlockSeconds*AdjustmentInterval)
		l.lastAdjustTimestamp = b.Header.Timestamp
	}

	l.events.publish(LedgerEvent{Kind: EventBlockAdded, Block: b})
	return nil
}

// sumOutputPlaceholder exists because output amounts are hidden behind
// Pedersen commitments: the ledger cannot recover a plaintext value from a
// commitment alone. Protocol-emitted issuance transactions additionally
// carry their minted amount in Transaction.Memo as a little-endian uint64
// so the supply counter can be updated without breaking the commitment
// scheme; user transfers never update issuedSupply since they move
// existing value rather than create it.
func sumOutputPlaceholder(tx *Transaction) uint64 {
	if len(tx.Memo) < 8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(tx.Memo[i]) << (8 * i)
	}
	return v
}

// currentDifficultyLocked returns the difficulty the next block must
// satisfy. Retargeting updates l.nextDifficulty directly rather than
// rewriting a historical block's Header.Difficulty in place, which would
// silently change that block's own hash after it had already been
// accepted and validated. Caller must hold mu.
func (l *Ledger) currentDifficultyLocked() Difficulty {
	return l.nextDifficulty
}

// prunePendingLocked removes every transaction included in b from the
// pending pool. Caller must hold mu.
func (l *Ledger) prunePendingLocked(b *Block) {
	if len(l.pending) == 0 {
		return
	}
	included := make(map[Hash]struct{}, len(b.Transactions))
	for _, tx := range b.Transactions {
		included[tx.Hash()] = struct{}{}
	}
	filtered := l.pending[:0]
	for _, tx := range l.pending {
		if _, done := included[tx.Hash()]; !done {
			filtered = append(filtered, tx)
		}
	}
	l.pending = filtered
}

// Subscribe returns a channel of future LedgerEvents and a cancel func.
func (l *Ledger) Subscribe() (<-chan LedgerEvent, func()) {
	return l.events.Subscribe()
}

// PendingCount reports the current pending-pool size.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Registries exposes read access to the registry layer for callers (mesh
// edge-sync, web4 domain registry) that need identity/validator/contract
// lookups without reaching into ledger internals.
func (l *Ledger) Registries() *Registries { return l.registries }

// TransactionAccepted reports whether h is either sitting in the pending
// pool or already confirmed in some block — the "accepted" test spec.md
// §4.8's domain registration requires for a fee-paying transaction before
// the domain record it funds may be created.
func (l *Ledger) TransactionAccepted(h Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pendingIx[h]; ok {
		return true
	}
	_, ok := l.confirmedTxs[h]
	return ok
}

// BlockHeaderSummary is a single header's worth of sync data, letting
// light clients fetch chain-of-custody proof without downloading full
// blocks (spec.md §4.9).
type BlockHeaderSummary struct {
	Header BlockHeader
	Height uint64
}

// HeadersFrom returns up to limit headers starting just after fromHeight,
// satisfying mesh.BlockchainProvider for the edge-sync responder.
func (l *Ledger) HeadersFrom(fromHeight uint64, limit uint32) ([]BlockHeaderSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []BlockHeaderSummary
	for _, b := range l.blocks {
		if b.Height <= fromHeight {
			continue
		}
		out = append(out, BlockHeaderSummary{Header: b.Header, Height: b.Height})
		if uint32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// now is a seam so tests can avoid depending on wall-clock time; production
// callers use time.Now().Unix() when building block headers, not the
// ledger itself.
var now = func() int64 { return time.Now().Unix() }

//-----------------------------------------------------------------------
// Treasury / known-value side index (spec.md §4.4, §9 Open Question)
//-----------------------------------------------------------------------

// SetTreasuryWallet designates the registered wallet the DAO surcharge fee
// share and passed-proposal payouts are routed through. Spec.md §3 models
// this as "an optional single wallet_id pointing into the wallet registry".
func (l *Ledger) SetTreasuryWallet(walletID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.treasuryWalletID = walletID
}

// TreasuryWalletID returns the configured treasury wallet id, if any.
func (l *Ledger) TreasuryWalletID() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.treasuryWalletID, l.treasuryWalletID != ""
}

// RecordKnownOutputValue notes the plaintext amount of an output this node
// itself minted (a treasury fee-collection or DAO-execution output), keyed
// by the transaction hash and output index it will be stored under once
// mined. Both are already deterministic at construction time since neither
// depends on the block that eventually includes the transaction.
func (l *Ledger) RecordKnownOutputValue(txHash Hash, index uint32, value uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.knownOutputValue[UTXOKey(txHash, index)] = value
}

// TreasuryUTXOs returns every currently-unspent, known-value UTXO addressed
// to recipient (the treasury wallet's on-chain recipient tag).
func (l *Ledger) TreasuryUTXOs(recipient []byte) []UTXOEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []UTXOEntry
	for _, e := range l.utxoSet {
		if e.Value == 0 {
			continue
		}
		if string(e.Output.Recipient) == string(recipient) {
			out = append(out, e)
		}
	}
	return out
}

// SelectTreasuryUTXOs greedily selects treasury-owned, known-value UTXOs
// whose values sum to at least need, returning the selected entries and the
// overshoot (change) amount. Spec.md §4.4: "treasury UTXOs selected to
// cover amount+fee".
func (l *Ledger) SelectTreasuryUTXOs(recipient []byte, need uint64) ([]UTXOEntry, uint64, error) {
	candidates := l.TreasuryUTXOs(recipient)
	var selected []UTXOEntry
	var total uint64
	for _, e := range candidates {
		if total >= need {
			break
		}
		selected = append(selected, e)
		total += e.Value
	}
	if total < need {
		return nil, 0, ErrInsufficientTreasury
	}
	return selected, total - need, nil
}
