package mesh

import (
	"testing"
	"time"
)

func TestRegistryUpsertPreservesVerificationAcrossRefresh(t *testing.T) {
	r := NewRegistry()
	id := testMessageID(1)
	r.Upsert(PeerRecord{SecureNodeID: id, Link: LinkBLE, LinkQuality: 50})
	r.SetVerification(id, VerificationTrusted, 80)

	r.Upsert(PeerRecord{SecureNodeID: id, Link: LinkBLE, LinkQuality: 90})

	rec, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected peer to still be present after refresh")
	}
	if rec.Verification != VerificationTrusted || rec.TrustScore != 80 {
		t.Fatalf("expected verification state to survive a sighting refresh, got %+v", rec)
	}
	if rec.LinkQuality != 90 {
		t.Fatalf("expected link quality to update on refresh, got %d", rec.LinkQuality)
	}
}

func TestRegistryPruneRemovesStalePeers(t *testing.T) {
	r := NewRegistry()
	stale := testMessageID(2)
	fresh := testMessageID(3)
	r.Upsert(PeerRecord{SecureNodeID: stale, Link: LinkBLE})
	r.Upsert(PeerRecord{SecureNodeID: fresh, Link: LinkBLE})

	r.mu.Lock()
	r.peers[stale].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.Prune(10 * time.Minute)

	if _, ok := r.Get(stale); ok {
		t.Fatalf("expected stale peer to be pruned")
	}
	if _, ok := r.Get(fresh); !ok {
		t.Fatalf("expected fresh peer to survive pruning")
	}
}

func TestRegistryTrustedFiltersByVerificationState(t *testing.T) {
	r := NewRegistry()
	trusted := testMessageID(4)
	pending := testMessageID(5)
	r.Upsert(PeerRecord{SecureNodeID: trusted, Link: LinkBLE})
	r.Upsert(PeerRecord{SecureNodeID: pending, Link: LinkBLE})
	r.SetVerification(trusted, VerificationTrusted, 70)
	r.SetVerification(pending, VerificationPending, 0)

	got := r.Trusted()
	if len(got) != 1 || got[0].SecureNodeID != trusted {
		t.Fatalf("expected Trusted() to return exactly the one VerificationTrusted peer, got %+v", got)
	}
}

func TestLinkMTUOrdersBLEBelowWiFiDirect(t *testing.T) {
	if LinkMTU(LinkBLE) >= LinkMTU(LinkWiFiDirect) {
		t.Fatalf("expected BLE's GATT-constrained MTU to be smaller than WiFi Direct's")
	}
}
