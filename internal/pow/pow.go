// Package pow implements nexachain's proof-of-work mining loop and
// verifier (C3), grounded on original_source/ccoin/pow.py: iterate a
// nonce, hash it together with the block's mining_hash, and accept the
// first candidate whose hex digest has enough leading zero characters.
package pow

import (
	"encoding/json"
	"strings"

	internalcrypto "nexachain.dev/nexachain/internal/crypto"
)

// Result is a successful mining outcome: the winning nonce and the
// resulting block id (SHA256(nonce || mining_hash)).
type Result struct {
	Nonce  uint64
	BlockID string
}

// candidate computes SHA256_hex(nonce || mining_hash) for a trial nonce,
// matching §4.3's candidate derivation (and §3's block.id formula, since
// the winning candidate becomes the block id).
func candidate(nonce uint64, miningHash string) (string, error) {
	payload, err := json.Marshal([]any{nonce, miningHash})
	if err != nil {
		return "", err
	}
	return internalcrypto.Digest(payload), nil
}

// isValid reports whether candidate begins with difficulty leading '0' hex
// characters.
func isValid(candidate string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(candidate) < difficulty {
		return false
	}
	return strings.Count(candidate[:difficulty], "0") == difficulty
}

// Mine iterates nonce starting at startNonce for up to maxRounds
// iterations, looking for a candidate whose hex digest has difficulty
// leading zeros. It returns (result, true) on success or (zero, false) on
// exhaustion, matching §4.3's "synchronous and interruptible only between
// rounds" mining model: the caller bounds latency via maxRounds and may
// call Mine again with startNonce advanced past the exhausted range.
func Mine(difficulty int, miningHash string, startNonce uint64, maxRounds uint64) (Result, bool, error) {
	for i := uint64(0); i < maxRounds; i++ {
		nonce := startNonce + i
		cand, err := candidate(nonce, miningHash)
		if err != nil {
			return Result{}, false, err
		}
		if isValid(cand, difficulty) {
			return Result{Nonce: nonce, BlockID: cand}, true, nil
		}
	}
	return Result{}, false, nil
}

// Verify recomputes the candidate for nonce against miningHash and checks
// both the difficulty prefix and that it equals the claimed blockID,
// matching §8's pow_verify(d, h, nonce, pow) law.
func Verify(difficulty int, miningHash string, nonce uint64, blockID string) bool {
	cand, err := candidate(nonce, miningHash)
	if err != nil {
		return false
	}
	return cand == blockID && isValid(cand, difficulty)
}
