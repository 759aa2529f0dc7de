package pow

import "testing"

func TestMineProducesVerifiableResult(t *testing.T) {
	result, ok, err := Mine(2, "some-mining-hash", 0, 2_000_000)
	if err != nil {
		t.Fatalf("Mine() error = %v", err)
	}
	if !ok {
		t.Fatalf("Mine() exhausted rounds, want a solution at difficulty 2")
	}
	if !Verify(2, "some-mining-hash", result.Nonce, result.BlockID) {
		t.Errorf("Verify() = false for Mine()'s own result")
	}
}

func TestMineExhaustsWithTooFewRounds(t *testing.T) {
	// Difficulty 6 is astronomically unlikely to hit within 5 rounds.
	_, ok, err := Mine(6, "some-mining-hash", 0, 5)
	if err != nil {
		t.Fatalf("Mine() error = %v", err)
	}
	if ok {
		t.Errorf("Mine() found a difficulty-6 solution in 5 rounds, want exhaustion")
	}
}

func TestVerifyRejectsWrongDifficulty(t *testing.T) {
	result, ok, err := Mine(2, "h", 0, 2_000_000)
	if err != nil || !ok {
		t.Fatalf("Mine() setup failed: ok=%v err=%v", ok, err)
	}
	if Verify(5, "h", result.Nonce, result.BlockID) {
		t.Errorf("Verify() = true at a higher difficulty than was actually mined")
	}
}

func TestVerifyRejectsWrongBlockID(t *testing.T) {
	result, ok, err := Mine(2, "h", 0, 2_000_000)
	if err != nil || !ok {
		t.Fatalf("Mine() setup failed: ok=%v err=%v", ok, err)
	}
	if Verify(2, "h", result.Nonce, "0000000000000000000000000000000000000000000000000000000000000000") {
		t.Errorf("Verify() = true for a blockID that does not match the recomputed candidate")
	}
}

func TestVerifyRejectsWrongMiningHash(t *testing.T) {
	result, ok, err := Mine(2, "h", 0, 2_000_000)
	if err != nil || !ok {
		t.Fatalf("Mine() setup failed: ok=%v err=%v", ok, err)
	}
	if Verify(2, "different-hash", result.Nonce, result.BlockID) {
		t.Errorf("Verify() = true under a different mining_hash, want false")
	}
}

func TestZeroDifficultyAlwaysValid(t *testing.T) {
	result, ok, err := Mine(0, "h", 0, 1)
	if err != nil {
		t.Fatalf("Mine() error = %v", err)
	}
	if !ok {
		t.Fatalf("Mine() at difficulty 0 should accept the very first candidate")
	}
	if !Verify(0, "h", result.Nonce, result.BlockID) {
		t.Errorf("Verify() = false at difficulty 0")
	}
}
