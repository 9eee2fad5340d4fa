package mesh

import (
	"sync"
	"time"

	"github.com/zhtp-network/zhtp-node/core"
)

// LinkKind distinguishes the transport a peer record was learned over,
// since BLE, WiFi-Direct and mDNS carry different MTUs and discovery
// semantics (spec.md §4.6).
type LinkKind string

const (
	LinkBLE        LinkKind = "ble"
	LinkWiFiDirect LinkKind = "wifi_direct"
	LinkMDNS       LinkKind = "mdns"
)

// LinkMTU returns the maximum single-frame payload for a link kind
// (spec.md §4.7): BLE is constrained by GATT characteristic size, WiFi
// Direct is a full 802.11 link.
func LinkMTU(k LinkKind) int {
	switch k {
	case LinkBLE:
		return 500
	case LinkWiFiDirect:
		return 8192
	default:
		return 8192
	}
}

// VerificationState tracks where a peer is in the challenge/response
// handshake of authenticator.go.
type VerificationState int

const (
	VerificationUnknown VerificationState = iota
	VerificationPending
	VerificationTrusted
	VerificationFailed
)

// PeerRecord is what a node knows about a peer discovered on a given
// link, grounded on the teacher's Peer/PeerManager shape in
// common_structs.go but carrying the privacy-preserving identity fields
// spec.md §4.5 introduces plus a trust score from the authenticator.
type PeerRecord struct {
	SecureNodeID     core.Hash
	EphemeralAddress string
	Link             LinkKind
	LinkQuality      int // RSSI-derived quality, 0-100, grounded on original_source bluetooth/mod.rs
	Verification     VerificationState
	TrustScore        int
	LastSeen         time.Time
}

// Registry is the per-node table of currently known peers across every
// link kind.
type Registry struct {
	mu    sync.RWMutex
	peers map[core.Hash]*PeerRecord
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[core.Hash]*PeerRecord)}
}

// Upsert records or refreshes a peer sighting.
func (r *Registry) Upsert(rec PeerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.LastSeen = time.Now()
	if existing, ok := r.peers[rec.SecureNodeID]; ok {
		rec.Verification = existing.Verification
		rec.TrustScore = existing.TrustScore
	}
	r.peers[rec.SecureNodeID] = &rec
}

func (r *Registry) Get(id core.Hash) (*PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// SetVerification updates a peer's authentication outcome and trust score
// following authenticator.go's handshake result.
func (r *Registry) SetVerification(id core.Hash, state VerificationState, trustScore int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Verification = state
	p.TrustScore = trustScore
}

// Prune removes peers not seen within maxAge, called periodically so a
// node's table does not grow unbounded across rotation boundaries.
func (r *Registry) Prune(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for id, p := range r.peers {
		if p.LastSeen.Before(cutoff) {
			delete(r.peers, id)
		}
	}
}

// Trusted returns every peer currently in VerificationTrusted state.
// Router does not consult it.
func (r *Registry) Trusted() []*PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerRecord, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Verification == VerificationTrusted {
			out = append(out, p)
		}
	}
	return out
}
