package web4

// DomainRegistry implements the Web4 domain registry of spec.md §4.8:
// domain records bound to versioned, content-addressed manifests, updated
// only through an atomic compare-and-swap guarded by the owner identity's
// Dilithium2 signature. Grounded on the teacher's core/dao.go
// (package-level registration/lookup map guarded by sync.RWMutex) and the
// CAS contract of original_source/zhtp/src/api/handlers/web4/domains.rs.

import (
	"errors"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/zhtp-network/zhtp-node/core"
)

var (
	ErrAlreadyRegistered  = errors.New("web4: domain already registered")
	ErrDomainNotFound     = errors.New("web4: domain not registered")
	ErrOwnerNotRegistered = errors.New("web4: owner identity is not registered on the ledger")
	ErrOwnerRevoked       = errors.New("web4: owner identity has been revoked")
	ErrFeeNotAccepted     = errors.New("web4: fee-paying transaction has not been accepted")
	ErrStaleCAS           = errors.New("web4: expected_previous_manifest_cid does not match the current head")
	ErrSignatureInvalid   = errors.New("web4: signature does not verify under the owner identity's public key")
	ErrSignatureExpired   = errors.New("web4: signature timestamp is outside the acceptance window")
	ErrVersionNotFound    = errors.New("web4: requested version is not present in history")
)

// SignatureWindow bounds how stale a domain-mutation signature's timestamp
// may be before it is rejected (spec.md §4.8).
const SignatureWindow = 300 * time.Second

// MinDomainFee is the minimum fee a register/update transaction must
// carry, per spec.md §4.8 ("size_estimate ~= 5400 B; minimum ~= 1080
// ZHTP"). It is core.DomainMutationMinFee, which core/validate.go
// enforces against the fee-paying transaction itself; DomainRegistry
// checks only that the fee transaction was accepted, not its amount.
const MinDomainFee = core.DomainMutationMinFee

// LedgerView is the read-only subset of core.Ledger the domain registry
// needs: owner-identity resolution and fee-transaction acceptance. Kept as
// an interface so tests can substitute a fake ledger (spec.md §9's
// layered-ownership redesign: no back-edge from web4 into core internals).
type LedgerView interface {
	Registries() *core.Registries
	TransactionAccepted(h core.Hash) bool
}

// HistoryEntry records one past manifest version of a domain.
type HistoryEntry struct {
	Version     uint64
	ManifestCID cid.Cid
	Timestamp   int64
}

// DomainRecord is the Web4 domain registry entry of spec.md §3.
type DomainRecord struct {
	Domain               string
	OwnerDID             string
	CurrentManifestCID   cid.Cid
	Version              uint64
	PreviousManifestCID  cid.Cid
	CreatedAt            int64
	UpdatedAt            int64
	History              []HistoryEntry
}

// RegistrationResponse is returned by RegisterDomainFromManifest /
// RegisterDomainWithContent.
type RegistrationResponse struct {
	Domain      string
	Version     uint64
	ManifestCID cid.Cid
}

// StatusResponse answers GetDomainStatus.
type StatusResponse struct {
	Found              bool
	Version            uint64
	CurrentManifestCID cid.Cid
	OwnerDID           string
	UpdatedAt          int64
}

// HistoryResponse answers GetDomainHistory.
type HistoryResponse struct {
	Versions []HistoryEntry
}

// ResolveResponse answers Resolve.
type ResolveResponse struct {
	ManifestCID cid.Cid
	Version     uint64
}

// UpdateRequest carries the fields of a CAS-guarded mutation: UpdateDomain
// takes one from its caller and Rollback builds one internally; both check
// its signature through verifyMutationSignature.
type UpdateRequest struct {
	Domain                    string
	ExpectedPreviousManifestCID cid.Cid
	NewManifestCID            cid.Cid
	NewVersion                uint64
	OwnerSignature            core.Signature
}

// UpdateResponse is returned by UpdateDomain / Rollback.
type UpdateResponse struct {
	Success    bool
	Error      string
	NewVersion uint64
}

// ContentMapping is one file of a RegisterDomainWithContent call: path to
// raw bytes plus a content type, mirroring spec.md §4.8's
// "path -> {content_bytes, content_type}" shape.
type ContentMapping struct {
	ContentBytes []byte
	ContentType  string
}

// DomainRegistry holds every registered domain's current and historical
// manifest pointers, guarded by its own mutex per spec.md §5's
// shared-resource policy (never shared with the ledger's lock).
type DomainRegistry struct {
	mu      sync.RWMutex
	records map[string]*DomainRecord

	ledger  LedgerView
	crypto  core.Crypto
	storage *ManifestStore

	// clock is a seam so tests can avoid depending on wall-clock time,
	// mirroring core.Ledger's `now` var.
	clock func() int64
}

// NewDomainRegistry builds a registry backed by ledger for owner/fee
// resolution and storage for manifest persistence.
func NewDomainRegistry(ledger LedgerView, storage *ManifestStore) *DomainRegistry {
	return &DomainRegistry{
		records: make(map[string]*DomainRecord),
		ledger:  ledger,
		crypto:  core.DefaultCrypto,
		storage: storage,
		clock:   func() int64 { return time.Now().Unix() },
	}
}

// resolveOwner looks up an identity and confirms it is registered and not
// revoked, the precondition every mutation shares.
func (d *DomainRegistry) resolveOwner(ownerDID string) (*core.IdentityRecord, error) {
	rec, ok := d.ledger.Registries().Identity(ownerDID)
	if !ok {
		return nil, ErrOwnerNotRegistered
	}
	if rec.Revoked {
		return nil, ErrOwnerRevoked
	}
	return rec, nil
}

// RegisterDomainFromManifest implements spec.md §4.8: requires the owner
// identity registered on the ledger and the accompanying fee-paying
// transaction accepted (pending or confirmed). Fails if domain is already
// registered.
func (d *DomainRegistry) RegisterDomainFromManifest(domain string, manifestCID cid.Cid, ownerDID string, feeTxHash core.Hash) (RegistrationResponse, error) {
	if _, err := d.resolveOwner(ownerDID); err != nil {
		return RegistrationResponse{}, err
	}
	if !d.ledger.TransactionAccepted(feeTxHash) {
		return RegistrationResponse{}, ErrFeeNotAccepted
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.records[domain]; exists {
		return RegistrationResponse{}, ErrAlreadyRegistered
	}

	now := d.clock()
	d.records[domain] = &DomainRecord{
		Domain:             domain,
		OwnerDID:           ownerDID,
		CurrentManifestCID: manifestCID,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return RegistrationResponse{Domain: domain, Version: 1, ManifestCID: manifestCID}, nil
}

// RegisterDomainWithContent computes a manifest from contentMappings,
// pins it via the backing DhtStorage, and registers the domain at the
// resulting CID (spec.md §4.8).
func (d *DomainRegistry) RegisterDomainWithContent(domain, ownerDID string, contentMappings map[string]ContentMapping, ownerIdentityPublicKey []byte, feeTxHash core.Hash) (RegistrationResponse, error) {
	manifestBytes := encodeContentManifest(contentMappings)
	manifest, err := d.storage.Pin(manifestBytes, 1)
	if err != nil {
		return RegistrationResponse{}, err
	}
	return d.RegisterDomainFromManifest(domain, manifest.CID, ownerDID, feeTxHash)
}

// encodeContentManifest canonically encodes a path->content mapping into
// the bytes a manifest CID is computed over, sorting paths so the
// resulting CID is deterministic regardless of map iteration order.
func encodeContentManifest(mappings map[string]ContentMapping) []byte {
	paths := make([]string, 0, len(mappings))
	for p := range mappings {
		paths = append(paths, p)
	}
	sortStrings(paths)
	var buf []byte
	for _, p := range paths {
		m := mappings[p]
		buf = append(buf, []byte(p)...)
		buf = append(buf, []byte(m.ContentType)...)
		buf = append(buf, m.ContentBytes...)
	}
	return buf
}

// sortStrings is a tiny insertion sort: the manifest path lists this
// package handles are small (a domain's file count), so avoiding the
// sort.Strings import keeps this file's dependency footprint to exactly
// what the domain registry needs.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// GetDomainStatus answers a read-only status query.
func (d *DomainRegistry) GetDomainStatus(domain string) StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[domain]
	if !ok {
		return StatusResponse{Found: false}
	}
	return StatusResponse{
		Found:              true,
		Version:            rec.Version,
		CurrentManifestCID: rec.CurrentManifestCID,
		OwnerDID:           rec.OwnerDID,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// GetDomainHistory returns up to limit of the newest past versions, newest
// first (spec.md §4.8).
func (d *DomainRegistry) GetDomainHistory(domain string, limit int) (HistoryResponse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[domain]
	if !ok {
		return HistoryResponse{}, ErrDomainNotFound
	}
	n := len(rec.History)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = rec.History[n-1-i]
	}
	return HistoryResponse{Versions: out}, nil
}

// verifyMutationSignature checks a CAS mutation's signature over
// domain || expected_previous || new || new_version under the domain
// owner's registered public key, and that the accompanying timestamp is
// within SignatureWindow (spec.md §4.8's "signer submits signature =
// Dilithium2-sign(...)" contract, specialized to the update/rollback shape
// which additionally commits to the proposed CAS transition).
func (d *DomainRegistry) verifyMutationSignature(owner *core.IdentityRecord, req UpdateRequest) error {
	if absInt64(d.clock()-req.OwnerSignature.Timestamp) > int64(SignatureWindow/time.Second) {
		return ErrSignatureExpired
	}
	msg := mutationMessage(req.Domain, req.ExpectedPreviousManifestCID, req.NewManifestCID, req.NewVersion)
	sig := req.OwnerSignature
	sig.PublicKey = owner.PublicKey
	if err := core.VerifySignature(d.crypto, sig, msg); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

func mutationMessage(domain string, expected, proposed cid.Cid, newVersion uint64) []byte {
	var buf []byte
	buf = append(buf, []byte(domain)...)
	buf = append(buf, expected.Bytes()...)
	buf = append(buf, proposed.Bytes()...)
	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(newVersion >> (8 * i))
	}
	return append(buf, v[:]...)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// UpdateDomain performs the atomic compare-and-swap mutation of spec.md
// §4.8: accepts iff the current record's current_manifest_cid equals
// ExpectedPreviousManifestCID and the signature verifies. On a CAS miss it
// returns {success: false, error: "stale"} without mutating anything.
func (d *DomainRegistry) UpdateDomain(req UpdateRequest) (UpdateResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[req.Domain]
	if !ok {
		return UpdateResponse{}, ErrDomainNotFound
	}
	owner, err := d.resolveOwner(rec.OwnerDID)
	if err != nil {
		return UpdateResponse{}, err
	}

	newVersion := rec.Version + 1
	req.NewVersion = newVersion
	if err := d.verifyMutationSignature(owner, req); err != nil {
		return UpdateResponse{}, err
	}

	if rec.CurrentManifestCID != req.ExpectedPreviousManifestCID {
		return UpdateResponse{Success: false, Error: "stale"}, nil
	}

	now := d.clock()
	rec.History = append(rec.History, HistoryEntry{
		Version:     rec.Version,
		ManifestCID: rec.CurrentManifestCID,
		Timestamp:   rec.UpdatedAt,
	})
	rec.PreviousManifestCID = rec.CurrentManifestCID
	rec.CurrentManifestCID = req.NewManifestCID
	rec.Version = newVersion
	rec.UpdatedAt = now

	return UpdateResponse{Success: true, NewVersion: newVersion}, nil
}

// Resolve returns the manifest CID for a domain at its current version, or
// at a specific historical version if one is supplied.
func (d *DomainRegistry) Resolve(domain string, version *uint64) (ResolveResponse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[domain]
	if !ok {
		return ResolveResponse{}, ErrDomainNotFound
	}
	if version == nil || *version == rec.Version {
		return ResolveResponse{ManifestCID: rec.CurrentManifestCID, Version: rec.Version}, nil
	}
	for _, h := range rec.History {
		if h.Version == *version {
			return ResolveResponse{ManifestCID: h.ManifestCID, Version: h.Version}, nil
		}
	}
	return ResolveResponse{}, ErrVersionNotFound
}

// Rollback promotes a historical version's manifest to a new head with
// version = current_version + 1 — monotone, never decrementing (spec.md
// §4.8, invariant P6).
func (d *DomainRegistry) Rollback(domain string, toVersion uint64, ownerSignature core.Signature) (UpdateResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[domain]
	if !ok {
		return UpdateResponse{}, ErrDomainNotFound
	}
	owner, err := d.resolveOwner(rec.OwnerDID)
	if err != nil {
		return UpdateResponse{}, err
	}

	var target cid.Cid
	found := false
	if toVersion == rec.Version {
		target, found = rec.CurrentManifestCID, true
	}
	for _, h := range rec.History {
		if h.Version == toVersion {
			target, found = h.ManifestCID, true
		}
	}
	if !found {
		return UpdateResponse{}, ErrVersionNotFound
	}

	newVersion := rec.Version + 1
	req := UpdateRequest{
		Domain:                      domain,
		ExpectedPreviousManifestCID: rec.CurrentManifestCID,
		NewManifestCID:              target,
		NewVersion:                  newVersion,
		OwnerSignature:              ownerSignature,
	}
	if err := d.verifyMutationSignature(owner, req); err != nil {
		return UpdateResponse{}, err
	}

	now := d.clock()
	rec.History = append(rec.History, HistoryEntry{
		Version:     rec.Version,
		ManifestCID: rec.CurrentManifestCID,
		Timestamp:   rec.UpdatedAt,
	})
	rec.PreviousManifestCID = rec.CurrentManifestCID
	rec.CurrentManifestCID = target
	rec.Version = newVersion
	rec.UpdatedAt = now

	return UpdateResponse{Success: true, NewVersion: newVersion}, nil
}
