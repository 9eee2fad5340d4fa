package core

import "testing"

func TestBlake3SumDeterministic(t *testing.T) {
	a := Blake3Sum32([]byte("foo"), []byte("bar"))
	b := Blake3Sum32([]byte("foo"), []byte("bar"))
	if a != b {
		t.Fatalf("expected identical digests for identical input")
	}
	c := Blake3Sum32([]byte("foo"), []byte("baz"))
	if a == c {
		t.Fatalf("expected different digests for different input")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if root := MerkleRoot(nil); !root.IsZero() {
		t.Fatalf("expected zero root for no leaves, got %x", root)
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := Blake3Sum32([]byte("only"))
	if root := MerkleRoot([]Hash{leaf}); root != leaf {
		t.Fatalf("single-leaf root should equal the leaf itself")
	}
}

func TestMerkleRootOddDuplicatesLast(t *testing.T) {
	a := Blake3Sum32([]byte("a"))
	b := Blake3Sum32([]byte("b"))
	c := Blake3Sum32([]byte("c"))

	odd := MerkleRoot([]Hash{a, b, c})
	evenWithDup := MerkleRoot([]Hash{a, b, c, c})
	if odd != evenWithDup {
		t.Fatalf("odd-length merkle root should duplicate the last leaf")
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	a := Blake3Sum32([]byte("a"))
	b := Blake3Sum32([]byte("b"))
	if MerkleRoot([]Hash{a, b}) == MerkleRoot([]Hash{b, a}) {
		t.Fatalf("merkle root must depend on leaf order")
	}
}

func TestUTXOKeyDependsOnIndex(t *testing.T) {
	tx := Blake3Sum32([]byte("tx"))
	k0 := UTXOKey(tx, 0)
	k1 := UTXOKey(tx, 1)
	if k0 == k1 {
		t.Fatalf("UTXO keys for different output indices must differ")
	}
	if UTXOKey(tx, 0) != k0 {
		t.Fatalf("UTXOKey must be deterministic")
	}
}

func TestDifficultyWorkDecreasesWithTarget(t *testing.T) {
	// A smaller compact mantissa at the same exponent yields a smaller
	// target and therefore more work.
	easy := Difficulty(0x1f00ffff)
	hard := Difficulty(0x1f007fff)
	if hard.Work().Cmp(easy.Work()) <= 0 {
		t.Fatalf("a smaller target must represent more cumulative work")
	}
}

func TestDifficultyMeetsTarget(t *testing.T) {
	d := Difficulty(0x20ffffff) // very easy target, above ProductionThreshold
	var easyHash Hash          // all zero bytes is always <= any positive target
	if !d.MeetsTarget(easyHash) {
		t.Fatalf("zero hash should satisfy any target")
	}
	var hardHash Hash
	for i := range hardHash {
		hardHash[i] = 0xff
	}
	if d.MeetsTarget(hardHash) {
		t.Fatalf("all-0xff hash should not satisfy a real target")
	}
}

func TestAdjustDifficultyFasterThanTargetScalesBitsUp(t *testing.T) {
	old := Difficulty(0x1e00ffff)
	// Blocks arrived twice as fast as the target window: bits are scaled
	// by target/actual = 2, so the target grows and work per block falls.
	got := AdjustDifficulty(old, 1000, 2000)
	if got.Work().Cmp(old.Work()) >= 0 {
		t.Fatalf("faster-than-target actual time should scale bits up (larger target, less work), old=%v new=%v", old.Work(), got.Work())
	}
}

func TestAdjustDifficultySlowerThanTargetScalesBitsDown(t *testing.T) {
	old := Difficulty(0x1e00ffff)
	got := AdjustDifficulty(old, 4000, 2000)
	if got.Work().Cmp(old.Work()) <= 0 {
		t.Fatalf("slower-than-target actual time should scale bits down (smaller target, more work)")
	}
}

func TestAdjustDifficultyClampsExtremeSwings(t *testing.T) {
	old := Difficulty(0x1e00ffff)
	// actual is 100x the target; clamp restricts the adjustment to 4x.
	clamped := AdjustDifficulty(old, 100*2000, 2000)
	unclamped := AdjustDifficulty(old, 4*2000, 2000)
	if clamped != unclamped {
		t.Fatalf("extreme actual time should clamp to the same result as exactly 4x target")
	}
}

func TestAdjustDifficultyNoHistoryReturnsUnchanged(t *testing.T) {
	old := Difficulty(0x1e00ffff)
	if got := AdjustDifficulty(old, 1000, 0); got != old {
		t.Fatalf("zero target window should fail silently and return the input unchanged")
	}
}
