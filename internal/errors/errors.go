// Package internalerrors collects the sentinel error kinds shared across
// nexachain's consensus components. Call sites wrap one of these with
// fmt.Errorf("%w: ...", Err..., detail) so errors.Is still matches while the
// offending id (tx id, block number, peer address) travels with the error.
package internalerrors

import "errors"

// Codec errors (C1).
var (
	ErrBadTag = errors.New("wire message tag does not match expected kind")
	ErrBadMap = errors.New("malformed canonical map encoding")
)

// Transaction errors.
var (
	ErrNotSigned     = errors.New("transaction is not signed")
	ErrBadSignature  = errors.New("transaction signature does not verify")
	ErrBadNonce      = errors.New("transaction nonce does not match sender state")
	ErrOutOfFunds    = errors.New("sender balance is insufficient for transaction amount")
)

// Block errors.
var (
	ErrChainViolated  = errors.New("block parent_hash does not match chain head")
	ErrBadTime        = errors.New("block timestamp does not advance past the head")
	ErrBadDifficulty  = errors.New("block difficulty does not match genesis difficulty")
	ErrBadNumber      = errors.New("block number is not head+1")
	ErrBadTxHash      = errors.New("block tx_hash does not match its transaction list")
	ErrBadPoW         = errors.New("block proof of work does not verify")
	ErrApplyFailed    = errors.New("block failed to apply and was rolled back")
	ErrMiningFailed   = errors.New("proof-of-work search exhausted its round budget")
)

// Node lifecycle errors.
var (
	ErrAccountMissing = errors.New("node account keys could not be loaded")
	ErrGenesisMissing = errors.New("chain store has no genesis block")
)

// Network errors.
var (
	ErrTimeout             = errors.New("request timed out waiting for a peer response")
	ErrUnsupportedMessage  = errors.New("message tag is not handled by this node")
)

// Chain/WorldState structural errors not named directly in section 7 but
// needed to report store-level failures distinctly from the apply pipeline.
var (
	ErrChainUninitialized = errors.New("chain store has not been created yet")
	ErrBlockNotFound      = errors.New("no block at the requested height")
)
