package core

import (
	"encoding/json"
	"fmt"

	"nexachain.dev/nexachain/internal/codec"
	internalcrypto "nexachain.dev/nexachain/internal/crypto"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// Block is the immutable record described in §3. Body holds the ordered
// transaction list; TxHash is its cached digest. Id is the block hash
// (SHA256(nonce || mining_hash)); MiningHash is kept only transiently by
// MiningHash() and is never stored, matching §3's derivation.
type Block struct {
	Number     uint64         `json:"number"`
	ParentHash string         `json:"parent_hash"`
	StateHash  string         `json:"state_hash"`
	TxHash     string         `json:"tx_hash"`
	Body       []*Transaction `json:"body"`
	Coinbase   string         `json:"coinbase"`
	Data       []byte         `json:"data"`
	Nonce      uint64         `json:"nonce"`
	Timestamp  int64          `json:"timestamp"`
	Reward     uint64         `json:"reward"`
	Difficulty int            `json:"difficulty"`
	ID         string         `json:"id"`
}

// TransactionList returns the block's body as a TransactionList wrapper.
func (b *Block) TransactionList() *TransactionList {
	return &TransactionList{Transactions: b.Body}
}

// MiningHash computes mining_hash = SHA256(number || parent_hash ||
// state_hash || tx_hash || timestamp || data), the pre-PoW digest of the
// block's header fields (§3).
func (b *Block) MiningHash() (string, error) {
	fields := map[string]any{
		"number":      b.Number,
		"parent_hash": b.ParentHash,
		"state_hash":  b.StateHash,
		"tx_hash":     b.TxHash,
		"timestamp":   b.Timestamp,
		"data":        b.Data,
	}
	return internalcrypto.HashMap(fields)
}

// ComputeID returns SHA256(nonce || mining_hash) using the block's current
// Nonce and header fields, matching §3's block.id definition.
func (b *Block) ComputeID() (string, error) {
	miningHash, err := b.MiningHash()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal([]any{b.Nonce, miningHash})
	if err != nil {
		return "", fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return internalcrypto.Digest(payload), nil
}

// RefreshTxHash recomputes and stores TxHash from the current Body.
func (b *Block) RefreshTxHash() error {
	hash, err := b.TransactionList().Hash()
	if err != nil {
		return err
	}
	b.TxHash = hash
	return nil
}

// IsGenesis reports whether this block is the height-1 genesis block.
func (b *Block) IsGenesis() bool {
	return b.Number == 1
}

// ToFields converts b to the map encoded after the BLK/GLK tag.
func (b *Block) ToFields() map[string]any {
	return map[string]any{
		"number":      b.Number,
		"parent_hash": b.ParentHash,
		"state_hash":  b.StateHash,
		"tx_hash":     b.TxHash,
		"body":        b.Body,
		"coinbase":    b.Coinbase,
		"data":        b.Data,
		"nonce":       b.Nonce,
		"timestamp":   b.Timestamp,
		"reward":      b.Reward,
		"difficulty":  b.Difficulty,
		"id":          b.ID,
	}
}

func tagForBlock(b *Block) codec.Tag {
	if b.IsGenesis() {
		return codec.TagGenesisBlock
	}
	return codec.TagBlock
}

// Serialize encodes b as a complete BLK or GLK wire message, dispatching on
// whether it is the genesis block (§4.1: "Block deserialization inspects
// the tag to choose regular vs genesis").
func (b *Block) Serialize() ([]byte, error) {
	return codec.Encode(tagForBlock(b), b.ToFields())
}

// DeserializeBlock decodes a BLK or GLK wire message into a Block,
// returning internalerrors.ErrBadTag if the payload carries neither tag.
func DeserializeBlock(payload []byte) (*Block, error) {
	tag, err := codec.PeekTag(payload)
	if err != nil {
		return nil, err
	}
	if tag != codec.TagBlock && tag != codec.TagGenesisBlock {
		return nil, fmt.Errorf("%w: got %q want %q or %q", internalerrors.ErrBadTag, tag, codec.TagBlock, codec.TagGenesisBlock)
	}
	_, fields, err := codec.Decode(payload, tag)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return &b, nil
}
