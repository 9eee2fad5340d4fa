package core

// Hashing, Merkle tree and proof-of-work difficulty helpers shared by the
// ledger, registry and merge engine. All ledger-level hashing uses Blake3
// per spec; SHA-256 (used by the teacher's ComputeMerkleRoot) is not used
// anywhere in this package.

import (
	"encoding/binary"
	"math/big"

	"lukechampine.com/blake3"
)

// Hash is a 32-byte Blake3 digest. Equality is byte equality.
type Hash [32]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the lower-case hex encoding of h.
func (h Hash) Hex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// Blake3Sum32 returns the 32-byte Blake3 digest of the concatenation of buf.
func Blake3Sum32(buf ...[]byte) Hash {
	h := blake3.New(32, nil)
	for _, b := range buf {
		h.Write(b)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// MerkleRoot computes a Blake3 binary Merkle tree over leaves, duplicating
// the last leaf when a level has an odd number of nodes (spec.md §6).
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = Blake3Sum32(level[2*i][:], level[2*i+1][:])
		}
		level = next
	}
	return level[0]
}

// UTXOKey returns the Blake3 key under which a transaction output is stored
// in the UTXO set: Blake3(tx_hash || output_index_le_u32).
func UTXOKey(txHash Hash, index uint32) Hash {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	return Blake3Sum32(txHash[:], idx[:])
}

//-----------------------------------------------------------------------
// Difficulty / proof-of-work target
//-----------------------------------------------------------------------

// Difficulty is a compact 32-bit encoding of a 256-bit PoW target,
// bitcoin-style: the top byte is an exponent, the lower 3 bytes a mantissa.
type Difficulty uint32

// ProductionThreshold is the boundary below which bits are treated as a
// real production-network PoW target rather than the fixed profile
// difficulty used by deterministic test/dev networks (spec.md §4.1 step 2).
const ProductionThreshold Difficulty = 0x20000000

// Target expands the compact bits into a 256-bit target as a *big.Int.
func (d Difficulty) Target() *big.Int {
	exp := uint(d >> 24)
	mant := int64(d & 0x00ffffff)
	if mant == 0 {
		return big.NewInt(0)
	}
	t := big.NewInt(mant)
	if exp <= 3 {
		return t.Rsh(t, 8*(3-exp))
	}
	return t.Lsh(t, 8*(exp-3))
}

// Work returns 2^256 / (target(d) + 1), the cumulative-work contribution of
// a block mined at difficulty d.
func (d Difficulty) Work() *big.Int {
	target := d.Target()
	denom := new(big.Int).Add(target, big.NewInt(1))
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	maxSpace := new(big.Int).Lsh(big.NewInt(1), 256)
	return new(big.Int).Div(maxSpace, denom)
}

// MeetsTarget reports whether headerHash, interpreted big-endian, is at or
// below the difficulty's target.
func (d Difficulty) MeetsTarget(headerHash Hash) bool {
	hv := new(big.Int).SetBytes(headerHash[:])
	return hv.Cmp(d.Target()) <= 0
}

// clamp restricts v to the inclusive range [lo, hi].
func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AdjustDifficulty implements the difficulty-retarget algorithm of
// spec.md §4.1: every ADJUSTMENT_INTERVAL blocks, compute the actual
// elapsed time over the interval, clamp it to [target/4, target*4] and
// rescale the mantissa by target/actual, renormalizing it into 24 bits by
// raising the exponent (capped at 0xff). It fails silently (returns the
// unchanged difficulty) when targetSeconds is not positive.
func AdjustDifficulty(old Difficulty, actualSeconds, targetSeconds int64) Difficulty {
	if targetSeconds <= 0 {
		return old
	}
	actual := clamp(actualSeconds, targetSeconds/4, targetSeconds*4)
	mant := int64(old & 0x00ffffff)
	exp := int64(old >> 24)
	newMant := new(big.Int).Mul(big.NewInt(mant), big.NewInt(targetSeconds))
	newMant.Div(newMant, big.NewInt(actual))
	for newMant.Cmp(big.NewInt(0x00ffffff)) > 0 {
		newMant.Rsh(newMant, 8)
		exp++
	}
	if exp > 0xff {
		exp = 0xff
	}
	if exp < 0 {
		exp = 0
	}
	return Difficulty(uint32(exp)<<24 | uint32(newMant.Int64()&0x00ffffff))
}
