// Package netconf implements nexachain's genesis/network declaration
// schema (§6, §4.7), grounded on original_source/ccoin/network_conf.py and
// genesis_helpers.py: the JSON object describing authorised miners, PoW
// mining parameters, and the initial account allocation that seeds
// WorldState at genesis.
package netconf

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// BlockMining carries every field §4.6/§4.8 reference when building or
// mining a candidate block.
type BlockMining struct {
	Interval        int64           `json:"interval"`
	MaxBound        int64           `json:"max_bound"`
	MinBound        int             `json:"min_bound"`
	Reward          uint64          `json:"reward"`
	Difficulty      int             `json:"difficulty"`
	AllowEmpty      bool            `json:"allow_empty"`
	PlaceholderData PlaceholderData `json:"placeholder_data"`
}

// PlaceholderData is the ["rnd", N] | ["predef", string] union from §6,
// decoded from its 2-element JSON array form.
type PlaceholderData struct {
	Kind  string // "rnd" or "predef"
	Value string // length (as decimal string) for rnd, literal string for predef
}

func (p *PlaceholderData) UnmarshalJSON(data []byte) error {
	var raw [2]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, ok := raw[0].(string)
	if !ok {
		return fmt.Errorf("netconf: placeholder_data[0] must be a string, got %T", raw[0])
	}
	p.Kind = kind
	switch v := raw[1].(type) {
	case string:
		p.Value = v
	case float64:
		p.Value = strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Errorf("netconf: placeholder_data[1] must be a string or number, got %T", raw[1])
	}
	return nil
}

func (p PlaceholderData) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Kind, p.Value})
}

// Alloc is one entry of the genesis alloc map: an address's initial
// balance and nonce.
type Alloc struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// GenesisBlockConf is the genesis_block sub-object (§6): coinbase,
// difficulty, and any other genesis-only fields.
type GenesisBlockConf struct {
	Coinbase   string `json:"coinbase"`
	Difficulty int    `json:"difficulty"`
}

// Declaration is the full genesis declaration document (§6, §4.7).
type Declaration struct {
	Miners       []string         `json:"miners"`
	BlockMining  BlockMining      `json:"block_mining"`
	NetworkID    string           `json:"network_id"`
	MaxPeers     int              `json:"max_peers"`
	Alloc        map[string]Alloc `json:"alloc"`
	GenesisBlock GenesisBlockConf `json:"genesis_block"`
}

// LoadFile parses a genesis declaration from JSON bytes.
func LoadFile(data []byte) (*Declaration, error) {
	var d Declaration
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("netconf: parse genesis declaration: %w", err)
	}
	return &d, nil
}

// Bytes re-serialises the declaration, e.g. for embedding into the genesis
// block's data field so any field change produces a different genesis id
// (§4.7).
func (d *Declaration) Bytes() ([]byte, error) {
	return json.Marshal(d)
}

// CanMine reports whether address is in the authorised miner set.
func (d *Declaration) CanMine(address string) bool {
	for _, m := range d.Miners {
		if m == address {
			return true
		}
	}
	return false
}

// GenerateBlockData produces the block.data padding described by
// block_mining.placeholder_data, grounded on
// original_source/ccoin/common.py's generate_block_data: ["rnd", N]
// yields a fresh random hex string with N bytes of entropy; ["predef", s]
// yields the literal string s.
func (d *Declaration) GenerateBlockData() ([]byte, error) {
	switch d.BlockMining.PlaceholderData.Kind {
	case "predef":
		return []byte(d.BlockMining.PlaceholderData.Value), nil
	case "rnd":
		var n int
		if _, err := fmt.Sscanf(d.BlockMining.PlaceholderData.Value, "%d", &n); err != nil || n <= 0 {
			n = 16
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return []byte(hex.EncodeToString(buf)), nil
	default:
		return nil, fmt.Errorf("netconf: unknown placeholder_data kind %q", d.BlockMining.PlaceholderData.Kind)
	}
}
