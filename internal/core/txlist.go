package core

import (
	"encoding/json"
	"fmt"

	internalcrypto "nexachain.dev/nexachain/internal/crypto"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// TransactionList is an ordered sequence of transactions with its own hash,
// computed over the ordered list of transaction ids (§3).
type TransactionList struct {
	Transactions []*Transaction
}

// Hash returns H_tx = SHA256(concat(serialize([tx.id for tx in list]))),
// with the distinguished empty-list digest BlankSHA256.
func (l *TransactionList) Hash() (string, error) {
	if len(l.Transactions) == 0 {
		return internalcrypto.BlankSHA256, nil
	}
	ids := make([]string, 0, len(l.Transactions))
	for _, tx := range l.Transactions {
		ids = append(ids, tx.ID)
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return internalcrypto.Digest(encoded), nil
}

// Len returns the number of transactions in the list.
func (l *TransactionList) Len() int {
	return len(l.Transactions)
}
