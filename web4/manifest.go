// Package web4 implements the content-addressed domain registry: manifest
// storage and CAS-updated domain records, grounded on the teacher's
// core/storage.go (diskLRU cache, CID pinning/retrieval over a gateway)
// but reworked from an arbitrary blob store into a manifest-and-domain
// model.
package web4

import (
	"errors"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrManifestNotFound is returned when a CID is absent from both the
// local cache and the backing DhtStorage.
var ErrManifestNotFound = errors.New("web4: manifest not found for cid")

// Manifest is the content a domain resolves to: a versioned description
// of what a Web4 site/application serves, addressed by its CID.
type Manifest struct {
	Version uint64
	Content []byte
	CID     cid.Cid
}

// ComputeManifestCID derives the content identifier for content, mirroring
// the teacher's Storage.Pin hashing (cid.NewCidV1 over a SHA2-256
// multihash).
func ComputeManifestCID(content []byte) (cid.Cid, error) {
	sum, err := mh.Sum(content, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// DhtStorage is the external content-addressed storage collaborator a
// manifest store is built on (spec.md §1 treats the DHT/IPFS transport as
// assumed infrastructure, not something this package implements).
type DhtStorage interface {
	Put(c cid.Cid, data []byte) error
	Get(c cid.Cid) ([]byte, bool, error)
}

// diskLRU is an in-memory LRU cache of recently accessed manifests,
// grounded directly on the teacher's core/storage.go diskLRU: same
// put/get/evict shape, generalized from arbitrary byte blobs to
// manifests keyed by CID string.
type diskLRU struct {
	mu       sync.Mutex
	capacity int
	order    []string
	data     map[string][]byte
}

func newDiskLRU(capacity int) *diskLRU {
	return &diskLRU{capacity: capacity, data: make(map[string][]byte)}
}

func (c *diskLRU) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; exists {
		c.touchLocked(key)
	} else {
		c.order = append(c.order, key)
	}
	c.data[key] = value
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *diskLRU) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.touchLocked(key)
	}
	return v, ok
}

// touchLocked moves key to the most-recently-used end of order.
func (c *diskLRU) touchLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

// defaultCacheCapacity bounds the in-memory manifest cache; misses fall
// through to the DhtStorage backend, mirroring the teacher's
// cache-then-gateway-fallback Retrieve.
const defaultCacheCapacity = 4096

// ManifestStore pins and retrieves manifests, caching recently accessed
// ones locally before falling back to the DHT-backed storage.
type ManifestStore struct {
	backend DhtStorage
	cache   *diskLRU
}

func NewManifestStore(backend DhtStorage) *ManifestStore {
	return &ManifestStore{backend: backend, cache: newDiskLRU(defaultCacheCapacity)}
}

// Pin computes a manifest's CID, stores it in the backend, and warms the
// local cache, mirroring the teacher's Storage.Pin.
func (m *ManifestStore) Pin(content []byte, version uint64) (Manifest, error) {
	c, err := ComputeManifestCID(content)
	if err != nil {
		return Manifest{}, err
	}
	if err := m.backend.Put(c, content); err != nil {
		return Manifest{}, err
	}
	m.cache.put(c.String(), content)
	return Manifest{Version: version, Content: content, CID: c}, nil
}

// Retrieve fetches a manifest's content by CID, checking the local cache
// before the backend, mirroring the teacher's Storage.Retrieve fallback.
func (m *ManifestStore) Retrieve(c cid.Cid) ([]byte, error) {
	if cached, ok := m.cache.get(c.String()); ok {
		return cached, nil
	}
	content, found, err := m.backend.Get(c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrManifestNotFound
	}
	m.cache.put(c.String(), content)
	return content, nil
}
