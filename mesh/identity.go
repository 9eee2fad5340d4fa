// Package mesh implements the device-to-device BLE/WiFi-Direct/mDNS fabric
// nodes use when no internet path is available, grounded on the teacher's
// core/network.go libp2p wiring but generalized to the link-layer
// abstractions spec.md §4.5-§4.7 describes.
package mesh

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zhtp-network/zhtp-node/core"
)

// RotationInterval is how often a node's ephemeral link-layer address
// changes (spec.md §4.5).
const RotationInterval = 15 * time.Minute

// HourBucketSeconds is the unit encrypted MAC hashes rotate over
// (spec.md §4.5: "hour_bucket"), distinct from the 15-minute ephemeral
// address rotation.
const HourBucketSeconds = 3600

const (
	secureNodeIDDST     = "ZHTP_SECURE_NODE_ID"
	macPrivacyDST       = "ZHTP_MAC_PRIVACY"
	ephemeralDST        = "ZHTP_EPHEMERAL"
	ephemeralAddrPrefix = "zhtp:"
)

// RotationBucket returns the 15-minute bucket index for t, the unit over
// which ephemeral addresses rotate.
func RotationBucket(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(RotationInterval.Seconds())
}

// HourBucket returns the 1-hour bucket index for t, the unit over which
// encrypted MAC hashes rotate.
func HourBucket(t time.Time) uint64 {
	return uint64(t.Unix()) / HourBucketSeconds
}

func bucketBytes(bucket uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], bucket)
	return b[:]
}

// SecureNodeID derives the stable, privacy-preserving identity a node
// assigns to a discovered device: Blake3(our_node_id || "ZHTP_SECURE_NODE_ID"
// || raw_mac). It is keyed by the discovered device's raw hardware MAC, not
// rotation time, so the same physical device always maps to the same
// secure_node_id for a given local node regardless of how often its
// advertised ephemeral address rotates (spec.md §4.5: "raw link-layer
// addresses are never stored; for each discovered device the node computes
// secure_node_id").
func SecureNodeID(ourNodeID, rawMAC []byte) core.Hash {
	return core.Blake3Sum32(ourNodeID, []byte(secureNodeIDDST), rawMAC)
}

// EncryptedMACHash derives a privacy-preserving hash of a real hardware MAC
// address, bound to the current hour bucket so it cannot be correlated with
// hashes from other hours without the local node's own key.
func EncryptedMACHash(ourNodeID, rawMAC []byte, hourBucket uint64) core.Hash {
	return core.Blake3Sum32([]byte(macPrivacyDST), ourNodeID, rawMAC, bucketBytes(hourBucket))
}

// EphemeralAddress derives the rotating 6-byte-prefixed pseudonym a node
// advertises over BLE/WiFi-Direct/mDNS during the given 15-minute rotation
// bucket: "zhtp:" followed by the hex encoding of the first 6 bytes of
// Blake3(secure_node_id || "ZHTP_EPHEMERAL" || bucket).
func EphemeralAddress(secureNodeID core.Hash, bucket uint64) string {
	digest := core.Blake3Sum32(secureNodeID[:], []byte(ephemeralDST), bucketBytes(bucket))
	return ephemeralAddrPrefix + hex.EncodeToString(digest[:6])
}

// VerifyEphemeralAddress reports whether addr is a valid ephemeral address
// for secureNodeID in either the current or immediately previous rotation
// bucket (spec.md §4.5: peers accept both to tolerate clock skew across the
// rotation boundary).
func VerifyEphemeralAddress(secureNodeID core.Hash, addr string, now time.Time) bool {
	current := RotationBucket(now)
	if EphemeralAddress(secureNodeID, current) == addr {
		return true
	}
	if current == 0 {
		return false
	}
	return EphemeralAddress(secureNodeID, current-1) == addr
}
