package core

import "encoding/binary"

// BlockHeader is the proof-of-work-bound summary of a block's contents.
type BlockHeader struct {
	PreviousHash Hash       `json:"previous_hash"`
	MerkleRoot   Hash       `json:"merkle_root"`
	Timestamp    int64      `json:"timestamp"`
	Difficulty   Difficulty `json:"difficulty"`
	Nonce        uint64     `json:"nonce"`
}

// canonicalBytes encodes the header fields in a fixed order for hashing.
func (h *BlockHeader) canonicalBytes() []byte {
	buf := make([]byte, 0, 32+32+8+4+8)
	var tmp [8]byte
	buf = append(buf, h.PreviousHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(h.Timestamp))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(h.Difficulty))
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint64(tmp[:], h.Nonce)
	buf = append(buf, tmp[:]...)
	return buf
}

// Hash returns the Blake3 digest of the header, the value proof-of-work
// mining targets (spec.md §4.1, §6).
func (h *BlockHeader) Hash() Hash {
	return Blake3Sum32(h.canonicalBytes())
}

// MeetsDifficultyTarget reports whether the header's own hash satisfies its
// own difficulty field.
func (h *BlockHeader) MeetsDifficultyTarget() bool {
	return h.Difficulty.MeetsTarget(h.Hash())
}

// Block is a header plus the ordered list of transactions it commits to via
// MerkleRoot.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Height       uint64         `json:"height"`
	Transactions []*Transaction `json:"transactions"`
}

// ComputeMerkleRoot recomputes the Merkle root over b.Transactions' hashes.
func (b *Block) ComputeMerkleRoot() Hash {
	leaves := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.Hash()
	}
	return MerkleRoot(leaves)
}

// MeetsDifficultyTarget reports whether the block header satisfies its own
// declared difficulty (spec.md §7 block-level rule).
func (b *Block) MeetsDifficultyTarget() bool {
	return b.Header.MeetsDifficultyTarget()
}

// Hash returns the block's identity, which is its header hash.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}
