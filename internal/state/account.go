package state

import (
	"encoding/json"
)

// AccountState is the mutable per-address record described in §3: it is
// created on first credit or first read-with-create and is never deleted.
type AccountState struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// marshal serialises the account as canonical JSON (sorted map keys),
// matching §6's "JSON {address, nonce, balance} (canonicalised by sorted
// keys)" storage format.
func (a *AccountState) marshal() ([]byte, error) {
	return json.Marshal(map[string]any{
		"address": a.Address,
		"nonce":   a.Nonce,
		"balance": a.Balance,
	})
}

func unmarshalAccount(data []byte) (*AccountState, error) {
	var a AccountState
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
